package questionnaire

import (
	"encoding/json"
	"sort"
	"strings"
)

// translatableFields are the element names that may carry a translation
// companion element (_title, _text, ...).
var translatableFields = []string{
	"title", "text", "display", "prefix", "definition",
	"name", "description", "copyright", "publisher",
}

const localizationTagSystem = "http://example.org/fhir/CodeSystem/localization-tag"

// Localize returns a copy of a questionnaire reduced to one language:
// every translatable field is replaced by its translation for the requested
// language when one exists, translation companions are stripped, and the
// resource is tagged with the language it now carries. The input resource
// is not modified.
func Localize(resource map[string]interface{}, language string) map[string]interface{} {
	localized := deepCopyMap(resource)

	localizeElement(localized, language)
	localizeItems(asSlice(localized["item"]), language)
	localized["language"] = language

	meta, ok := localized["meta"].(map[string]interface{})
	if !ok {
		meta = map[string]interface{}{}
		localized["meta"] = meta
	}
	meta["tag"] = append(asSlice(meta["tag"]), map[string]interface{}{
		"system":  localizationTagSystem,
		"code":    "localized",
		"display": "Localized to " + language,
	})

	return localized
}

// AvailableLanguages returns the sorted set of language tags present in a
// questionnaire: the resource-level language (defaulting to "en") plus
// every lang declared by a translation extension anywhere in the resource.
func AvailableLanguages(resource map[string]interface{}) []string {
	languages := map[string]bool{}
	if lang, ok := resource["language"].(string); ok && lang != "" {
		languages[lang] = true
	} else {
		languages["en"] = true
	}
	scanTranslations(resource, languages)

	out := make([]string, 0, len(languages))
	for lang := range languages {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}

// SupportsLanguage reports whether the questionnaire carries the given
// language.
func SupportsLanguage(resource map[string]interface{}, language string) bool {
	for _, lang := range AvailableLanguages(resource) {
		if lang == language {
			return true
		}
	}
	return false
}

// localizeItems walks items recursively, translating each item, its nested
// items, and its answerOption entries.
func localizeItems(items []interface{}, language string) {
	for _, raw := range items {
		item, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		localizeElement(item, language)
		localizeItems(asSlice(item["item"]), language)
		for _, optRaw := range asSlice(item["answerOption"]) {
			option, ok := optRaw.(map[string]interface{})
			if !ok {
				continue
			}
			localizeElement(option, language)
			if coding, ok := option["valueCoding"].(map[string]interface{}); ok {
				localizeElement(coding, language)
			}
		}
	}
}

// localizeElement replaces each translatable field that has a companion
// element with the companion's translation for the target language, then
// drops the companion.
func localizeElement(element map[string]interface{}, language string) {
	for _, field := range translatableFields {
		if _, present := element[field]; !present {
			continue
		}
		companionKey := "_" + field
		companion, present := element[companionKey]
		if !present {
			continue
		}
		if ext, ok := companion.(map[string]interface{}); ok {
			if translated := translationFor(ext, language); translated != "" {
				element[field] = translated
			}
		}
		delete(element, companionKey)
	}
}

// translationFor reads a translation out of a companion element. Both the
// standard translation extension (lang and content sub-extensions) and the
// flat iso21090 form are understood.
func translationFor(companion map[string]interface{}, language string) string {
	for _, raw := range asSlice(companion["extension"]) {
		ext, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		url, _ := ext["url"].(string)
		lower := strings.ToLower(url)

		if strings.Contains(lower, "translation") {
			var lang, content string
			for _, subRaw := range asSlice(ext["extension"]) {
				sub, ok := subRaw.(map[string]interface{})
				if !ok {
					continue
				}
				switch sub["url"] {
				case "lang":
					lang = firstString(sub, "valueCode", "valueString")
				case "content":
					content, _ = sub["valueString"].(string)
				}
			}
			if lang == language && content != "" {
				return content
			}
			continue
		}

		if strings.Contains(lower, "iso21090") {
			lang := firstString(ext, "lang", "valueCode")
			content := firstString(ext, "valueString", "value")
			if lang == language && content != "" {
				return content
			}
		}
	}
	return ""
}

// scanTranslations collects the lang codes of every translation extension
// reachable under the node. Companions are the underscore-prefixed keys.
func scanTranslations(node interface{}, languages map[string]bool) {
	switch v := node.(type) {
	case map[string]interface{}:
		for key, value := range v {
			if strings.HasPrefix(key, "_") {
				if companion, ok := value.(map[string]interface{}); ok {
					collectCompanionLanguages(companion, languages)
				}
			}
			scanTranslations(value, languages)
		}
	case []interface{}:
		for _, item := range v {
			scanTranslations(item, languages)
		}
	}
}

func collectCompanionLanguages(companion map[string]interface{}, languages map[string]bool) {
	for _, raw := range asSlice(companion["extension"]) {
		ext, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		url, _ := ext["url"].(string)
		if !strings.Contains(strings.ToLower(url), "translation") {
			continue
		}
		for _, subRaw := range asSlice(ext["extension"]) {
			sub, ok := subRaw.(map[string]interface{})
			if !ok {
				continue
			}
			if sub["url"] == "lang" {
				if lang := firstString(sub, "valueCode", "valueString"); lang != "" {
					languages[lang] = true
				}
			}
		}
	}
}

func firstString(m map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if s, ok := m[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func deepCopyMap(in map[string]interface{}) map[string]interface{} {
	raw, err := json.Marshal(in)
	if err != nil {
		return map[string]interface{}{}
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]interface{}{}
	}
	return out
}
