package questionnaire

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/BIH-CEI/fhir-sdc-questionnaire-service/internal/platform/fhir"
	"github.com/BIH-CEI/fhir-sdc-questionnaire-service/internal/platform/upstream"
	"github.com/BIH-CEI/fhir-sdc-questionnaire-service/pkg/pagination"
)

const fhirMIMEType = "application/fhir+json"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group, fhirGroup *echo.Group) {
	fhirGroup.GET("/Questionnaire/$package", h.PackageByCanonical)
	fhirGroup.POST("/Questionnaire/$package", h.PackageResource)
	fhirGroup.GET("/Questionnaire/:id/$package", h.PackageByID)
	fhirGroup.GET("/Questionnaire/:id/$localize", h.LocalizeQuestionnaire)

	api.GET("/questionnaires", h.SearchQuestionnaires)
	api.POST("/questionnaires", h.CreateQuestionnaire)
	api.GET("/questionnaires/$package", h.PackageByCanonical)
	api.POST("/questionnaires/$package", h.PackageResource)
	api.GET("/questionnaires/:id", h.GetQuestionnaire)
	api.PUT("/questionnaires/:id", h.UpdateQuestionnaire)
	api.DELETE("/questionnaires/:id", h.DeleteQuestionnaire)
	api.GET("/questionnaires/:id/$package", h.PackageByID)
}

// -- Packaging and localization --

func (h *Handler) PackageByID(c echo.Context) error {
	bundle, err := h.svc.PackageByID(c.Request().Context(), c.Param("id"), includeDependencies(c))
	if err != nil {
		return packageError(c, err)
	}
	return c.JSON(http.StatusOK, bundle)
}

func (h *Handler) PackageByCanonical(c echo.Context) error {
	rawURL := c.QueryParam("url")
	if rawURL == "" {
		return c.JSON(http.StatusBadRequest, fhir.RequiredFieldOutcome("url"))
	}
	ref := fhir.ParseCanonical(rawURL)
	if version := c.QueryParam("version"); version != "" {
		ref.Version = version
	}
	bundle, err := h.svc.PackageByCanonical(c.Request().Context(), ref, includeDependencies(c))
	if err != nil {
		return packageError(c, err)
	}
	return c.JSON(http.StatusOK, bundle)
}

func (h *Handler) PackageResource(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome("failed to read request body"))
	}
	var resource map[string]interface{}
	if err := json.Unmarshal(body, &resource); err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome("invalid JSON body: "+err.Error()))
	}
	bundle, err := h.svc.PackageResource(c.Request().Context(), resource, includeDependencies(c))
	if err != nil {
		return packageError(c, err)
	}
	return c.JSON(http.StatusOK, bundle)
}

func (h *Handler) LocalizeQuestionnaire(c echo.Context) error {
	language := c.QueryParam("language")
	if language == "" {
		return c.JSON(http.StatusBadRequest, fhir.RequiredFieldOutcome("language"))
	}
	localized, available, err := h.svc.LocalizeQuestionnaire(c.Request().Context(), c.Param("id"), language)
	switch {
	case errors.Is(err, ErrLanguageUnavailable):
		return c.JSON(http.StatusUnprocessableEntity, fhir.ValidationOutcome("language",
			fmt.Sprintf("%q is not available; available languages: %s", language, strings.Join(available, ", "))))
	case errors.Is(err, upstream.ErrNotFound):
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("Questionnaire", c.Param("id")))
	case err != nil:
		return c.JSON(http.StatusBadGateway, fhir.UpstreamErrorOutcome(err.Error()))
	}
	return c.JSON(http.StatusOK, localized)
}

// -- REST proxy --

func (h *Handler) SearchQuestionnaires(c echo.Context) error {
	params := url.Values{}
	if q := c.QueryParam("q"); q != "" {
		params.Set("_content", q)
	}
	if status := c.QueryParam("status"); status != "" {
		params.Set("status", status)
	}
	if title := c.QueryParam("title"); title != "" {
		params.Set("title:contains", title)
	}
	if c.QueryParam("_summary") == "true" {
		params.Set("_summary", "true")
	}
	pg := pagination.FromContext(c)
	params.Set("_count", strconv.Itoa(pg.Limit))
	if pg.Offset > 0 {
		params.Set("_offset", strconv.Itoa(pg.Offset))
	}

	res, err := h.svc.SearchQuestionnaires(c.Request().Context(), params)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return relayBundle(c, res, pg)
}

func (h *Handler) GetQuestionnaire(c echo.Context) error {
	payload, err := h.svc.GetQuestionnaire(c.Request().Context(), c.Param("id"))
	switch {
	case errors.Is(err, upstream.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("Questionnaire/%s not found", c.Param("id")))
	case err != nil:
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.Blob(http.StatusOK, fhirMIMEType, payload)
}

func (h *Handler) CreateQuestionnaire(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}
	res, err := h.svc.CreateQuestionnaire(c.Request().Context(), body)
	if err != nil {
		return writeProxyError(c, err)
	}
	return relay(c, res)
}

func (h *Handler) UpdateQuestionnaire(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}
	res, err := h.svc.UpdateQuestionnaire(c.Request().Context(), c.Param("id"), body)
	if err != nil {
		return writeProxyError(c, err)
	}
	return relay(c, res)
}

func (h *Handler) DeleteQuestionnaire(c echo.Context) error {
	res, err := h.svc.DeleteQuestionnaire(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeProxyError(c, err)
	}
	return relay(c, res)
}

// -- Shared helpers --

// includeDependencies reads the common query parameter; anything other than
// an explicit false keeps the default of true.
func includeDependencies(c echo.Context) bool {
	switch strings.ToLower(c.QueryParam("includeDependencies")) {
	case "false", "0":
		return false
	default:
		return true
	}
}

// packageError maps resolution and assembly failures onto FHIR responses.
// Only a failed root aborts a packaging run, so everything here concerns
// the root or the assembled bundle itself.
func packageError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrNotAQuestionnaire):
		return c.JSON(http.StatusUnprocessableEntity, fhir.ValidationOutcome("resourceType", "resource must be of type Questionnaire"))
	case errors.Is(err, ErrBundleTooLarge):
		return c.JSON(http.StatusUnprocessableEntity, fhir.ErrorOutcome(err.Error()))
	case errors.Is(err, ErrRootNotFound) && errors.Is(err, upstream.ErrNotFound):
		return c.JSON(http.StatusNotFound, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeNotFound, err.Error()))
	case errors.Is(err, ErrRootNotFound):
		return c.JSON(http.StatusBadGateway, fhir.UpstreamErrorOutcome(err.Error()))
	default:
		return c.JSON(http.StatusInternalServerError, fhir.ErrorOutcome(err.Error()))
	}
}

// writeProxyError maps write-path failures for the REST endpoints.
func writeProxyError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrReadOnlyStore):
		return c.JSON(http.StatusMethodNotAllowed, fhir.MethodNotAllowedOutcome(c.Request().Method))
	case errors.Is(err, ErrNotAQuestionnaire), errors.Is(err, ErrInvalidQuestionnaire), errors.Is(err, ErrIDMismatch):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, upstream.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
}

// relay forwards an upstream response verbatim.
func relay(c echo.Context, res *upstream.Result) error {
	return c.Blob(res.StatusCode, fhirMIMEType, res.Body)
}

// relayBundle forwards a searchset, swapping the store's link URLs for
// facade-relative ones so internal store addresses never leak to clients.
func relayBundle(c echo.Context, res *upstream.Result, pg pagination.Params) error {
	if res.StatusCode != http.StatusOK {
		return relay(c, res)
	}
	var bundle map[string]interface{}
	if err := json.Unmarshal(res.Body, &bundle); err != nil {
		return relay(c, res)
	}
	total := 0
	if t, ok := bundle["total"].(float64); ok {
		total = int(t)
	}
	bundle["link"] = pg.FHIRLinks(c.Request().URL.Path, total)
	return c.JSON(http.StatusOK, bundle)
}
