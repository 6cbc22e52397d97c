package questionnaire

import (
	"testing"
)

// ---------- Helper ----------

func translatedQuestionnaire(t *testing.T) map[string]interface{} {
	t.Helper()
	return mustDecode(t, `{
		"resourceType": "Questionnaire",
		"id": "phq-9",
		"url": "http://example.org/fhir/Questionnaire/phq-9",
		"status": "active",
		"title": "Patient Health Questionnaire",
		"_title": {"extension": [
			{"url": "http://hl7.org/fhir/StructureDefinition/translation", "extension": [
				{"url": "lang", "valueCode": "de"},
				{"url": "content", "valueString": "Gesundheitsfragebogen"}
			]},
			{"url": "http://hl7.org/fhir/StructureDefinition/translation", "extension": [
				{"url": "lang", "valueCode": "es"},
				{"url": "content", "valueString": "Cuestionario de salud"}
			]}
		]},
		"item": [
			{"linkId": "1", "type": "choice",
			 "text": "Little interest or pleasure",
			 "_text": {"extension": [
				{"url": "http://hl7.org/fhir/StructureDefinition/translation", "extension": [
					{"url": "lang", "valueCode": "de"},
					{"url": "content", "valueString": "Wenig Interesse oder Freude"}
				]}
			 ]},
			 "answerOption": [
				{"valueCoding": {
					"code": "0",
					"display": "Not at all",
					"_display": {"extension": [
						{"url": "http://hl7.org/fhir/StructureDefinition/translation", "extension": [
							{"url": "lang", "valueCode": "de"},
							{"url": "content", "valueString": "Überhaupt nicht"}
						]}
					]}
				}}
			 ],
			 "item": [
				{"linkId": "1.1", "type": "display",
				 "text": "Consider the last two weeks",
				 "_text": {"extension": [
					{"url": "http://hl7.org/fhir/StructureDefinition/translation", "extension": [
						{"url": "lang", "valueCode": "de"},
						{"url": "content", "valueString": "Denken Sie an die letzten zwei Wochen"}
					]}
				 ]}
				}
			 ]
			}
		]
	}`)
}

func itemAt(t *testing.T, resource map[string]interface{}, indexes ...int) map[string]interface{} {
	t.Helper()
	node := resource
	for _, i := range indexes {
		items, _ := node["item"].([]interface{})
		if i >= len(items) {
			t.Fatalf("no item at index %d", i)
		}
		node, _ = items[i].(map[string]interface{})
		if node == nil {
			t.Fatalf("item at index %d is not an object", i)
		}
	}
	return node
}

// ---------- Localize ----------

func TestLocalizeReplacesTranslatableFields(t *testing.T) {
	localized := Localize(translatedQuestionnaire(t), "de")

	if got := localized["title"]; got != "Gesundheitsfragebogen" {
		t.Errorf("title = %v", got)
	}
	item := itemAt(t, localized, 0)
	if got := item["text"]; got != "Wenig Interesse oder Freude" {
		t.Errorf("item text = %v", got)
	}
	nested := itemAt(t, localized, 0, 0)
	if got := nested["text"]; got != "Denken Sie an die letzten zwei Wochen" {
		t.Errorf("nested item text = %v", got)
	}

	options, _ := item["answerOption"].([]interface{})
	option, _ := options[0].(map[string]interface{})
	coding, _ := option["valueCoding"].(map[string]interface{})
	if got := coding["display"]; got != "Überhaupt nicht" {
		t.Errorf("answerOption display = %v", got)
	}
}

func TestLocalizeStripsCompanions(t *testing.T) {
	localized := Localize(translatedQuestionnaire(t), "de")

	if _, present := localized["_title"]; present {
		t.Error("_title companion should be removed")
	}
	if _, present := itemAt(t, localized, 0)["_text"]; present {
		t.Error("item _text companion should be removed")
	}
	if _, present := itemAt(t, localized, 0, 0)["_text"]; present {
		t.Error("nested item _text companion should be removed")
	}
}

func TestLocalizeSetsLanguageAndTag(t *testing.T) {
	localized := Localize(translatedQuestionnaire(t), "es")

	if got := localized["language"]; got != "es" {
		t.Errorf("language = %v, want es", got)
	}
	meta, _ := localized["meta"].(map[string]interface{})
	tags, _ := meta["tag"].([]interface{})
	if len(tags) != 1 {
		t.Fatalf("got %d meta tags, want 1", len(tags))
	}
	tag, _ := tags[0].(map[string]interface{})
	if tag["system"] != "http://example.org/fhir/CodeSystem/localization-tag" {
		t.Errorf("tag system = %v", tag["system"])
	}
	if tag["code"] != "localized" {
		t.Errorf("tag code = %v", tag["code"])
	}
	if tag["display"] != "Localized to es" {
		t.Errorf("tag display = %v", tag["display"])
	}
}

func TestLocalizeKeepsExistingMetaTags(t *testing.T) {
	resource := translatedQuestionnaire(t)
	resource["meta"] = map[string]interface{}{
		"versionId": "3",
		"tag": []interface{}{
			map[string]interface{}{"system": "http://example.org/fhir/CodeSystem/source", "code": "imported"},
		},
	}

	localized := Localize(resource, "de")

	meta, _ := localized["meta"].(map[string]interface{})
	if meta["versionId"] != "3" {
		t.Errorf("versionId = %v, want 3", meta["versionId"])
	}
	tags, _ := meta["tag"].([]interface{})
	if len(tags) != 2 {
		t.Fatalf("got %d meta tags, want 2", len(tags))
	}
}

func TestLocalizeMissingTranslationKeepsOriginal(t *testing.T) {
	localized := Localize(translatedQuestionnaire(t), "fr")

	if got := localized["title"]; got != "Patient Health Questionnaire" {
		t.Errorf("title = %v, want the untranslated value", got)
	}
	// The companion is still stripped so the output is single-language.
	if _, present := localized["_title"]; present {
		t.Error("_title companion should be removed")
	}
	if got := localized["language"]; got != "fr" {
		t.Errorf("language = %v, want fr", got)
	}
}

func TestLocalizeISO21090Form(t *testing.T) {
	resource := mustDecode(t, `{
		"resourceType": "Questionnaire",
		"status": "active",
		"title": "Medication History",
		"_title": {"extension": [
			{"url": "https://example.org/fhir/StructureDefinition/iso21090-ST", "lang": "de", "valueString": "Medikamentenanamnese"},
			{"url": "https://example.org/fhir/StructureDefinition/iso21090-ST", "lang": "nl", "valueString": "Medicatiegeschiedenis"}
		]}
	}`)

	localized := Localize(resource, "nl")

	if got := localized["title"]; got != "Medicatiegeschiedenis" {
		t.Errorf("title = %v", got)
	}
}

func TestLocalizeDoesNotModifyInput(t *testing.T) {
	resource := translatedQuestionnaire(t)

	Localize(resource, "de")

	if got := resource["title"]; got != "Patient Health Questionnaire" {
		t.Errorf("input title changed to %v", got)
	}
	if _, present := resource["_title"]; !present {
		t.Error("input _title companion disappeared")
	}
	if _, present := resource["language"]; present {
		t.Error("input gained a language element")
	}
}

// ---------- Language discovery ----------

func TestAvailableLanguages(t *testing.T) {
	got := AvailableLanguages(translatedQuestionnaire(t))

	want := []string{"de", "en", "es"}
	if len(got) != len(want) {
		t.Fatalf("languages = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("languages = %v, want %v", got, want)
		}
	}
}

func TestAvailableLanguagesBaseLanguage(t *testing.T) {
	resource := translatedQuestionnaire(t)
	resource["language"] = "sv"

	got := AvailableLanguages(resource)

	if got[0] != "de" || got[1] != "es" || got[2] != "sv" {
		t.Errorf("languages = %v, want [de es sv]", got)
	}
}

func TestAvailableLanguagesNoTranslations(t *testing.T) {
	resource := mustDecode(t, `{"resourceType": "Questionnaire", "status": "active", "title": "Plain"}`)

	got := AvailableLanguages(resource)

	if len(got) != 1 || got[0] != "en" {
		t.Errorf("languages = %v, want [en]", got)
	}
}

func TestSupportsLanguage(t *testing.T) {
	resource := translatedQuestionnaire(t)

	if !SupportsLanguage(resource, "de") {
		t.Error("de should be supported")
	}
	if !SupportsLanguage(resource, "en") {
		t.Error("en should be supported as the base language")
	}
	if SupportsLanguage(resource, "fr") {
		t.Error("fr should not be supported")
	}
}
