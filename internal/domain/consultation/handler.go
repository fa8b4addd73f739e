package consultation

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// Handler exposes the workspace read model and commands to the UI layer.
type Handler struct {
	svc *Service
}

// NewHandler creates the HTTP surface over the command facade.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the session endpoints on the API group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/session", h.GetSession)
	api.POST("/session/select", h.SelectConsultation)
	api.DELETE("/session/select", h.ClearSelection)
	api.PATCH("/session/draft", h.UpdateDraft)
	api.POST("/session/medications", h.AddMedication)
	api.DELETE("/session/medications/:localId", h.RemoveMedication)
	api.POST("/session/investigations", h.AddInvestigation)
	api.DELETE("/session/investigations/:localId", h.RemoveInvestigation)
	api.POST("/session/save", h.Save)
}

// GetSession returns the full read model.
func (h *Handler) GetSession(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.ReadModel())
}

// SelectConsultation pins a consultation by id.
func (h *Handler) SelectConsultation(c echo.Context) error {
	var req struct {
		ID string `json:"id"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "id is required")
	}
	sel, err := h.svc.SelectConsultation(c.Request().Context(), req.ID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sel)
}

// ClearSelection drops the active consultation.
func (h *Handler) ClearSelection(c echo.Context) error {
	h.svc.ClearSelection(c.Request().Context())
	return c.NoContent(http.StatusNoContent)
}

// UpdateDraft applies a partial form update and returns the new draft.
func (h *Handler) UpdateDraft(c echo.Context) error {
	var patch DraftPatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	draft := h.svc.UpdateDraft(c.Request().Context(), patch)
	return c.JSON(http.StatusOK, draft)
}

// AddMedication appends a drug line to the draft.
func (h *Handler) AddMedication(c echo.Context) error {
	var m Medication
	if err := c.Bind(&m); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	added, err := h.svc.AddMedication(c.Request().Context(), m)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, added)
}

// RemoveMedication removes a draft line by local id.
func (h *Handler) RemoveMedication(c echo.Context) error {
	localID, err := strconv.ParseInt(c.Param("localId"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid local id")
	}
	if !h.svc.RemoveMedication(c.Request().Context(), localID) {
		return echo.NewHTTPError(http.StatusNotFound, "medication not found")
	}
	return c.NoContent(http.StatusNoContent)
}

// AddInvestigation appends an investigation line to the draft.
func (h *Handler) AddInvestigation(c echo.Context) error {
	var inv Investigation
	if err := c.Bind(&inv); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	added, err := h.svc.AddInvestigation(c.Request().Context(), inv)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, added)
}

// RemoveInvestigation removes a draft line by local id.
func (h *Handler) RemoveInvestigation(c echo.Context) error {
	localID, err := strconv.ParseInt(c.Param("localId"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid local id")
	}
	if !h.svc.RemoveInvestigation(c.Request().Context(), localID) {
		return echo.NewHTTPError(http.StatusNotFound, "investigation not found")
	}
	return c.NoContent(http.StatusNoContent)
}

// Save commits the draft to the backend.
func (h *Handler) Save(c echo.Context) error {
	rx, err := h.svc.Save(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, rx)
}

// httpError maps the package error taxonomy onto HTTP status codes.
func httpError(err error) *echo.HTTPError {
	switch {
	case IsValidation(err):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrAlreadyExists):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrConnectivity):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
