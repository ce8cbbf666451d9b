package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/dkoval/ircrm/internal/company/backend"
	"github.com/dkoval/ircrm/internal/company/draftstore"
	e "github.com/dkoval/ircrm/internal/company/errors"
	"github.com/dkoval/ircrm/internal/company/form"
	"github.com/dkoval/ircrm/internal/company/models"
	"github.com/dkoval/ircrm/internal/company/workflow"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// CompanyReader is the read side of the upstream client.
type CompanyReader interface {
	ListCompanies(ctx context.Context, q backend.ListQuery) (models.CompanyList, error)
	GetCompany(ctx context.Context, id string) (*models.Company, error)
}

// EmployeeDeleter issues the upstream employee delete.
type EmployeeDeleter interface {
	DeleteEmployee(ctx context.Context, id string) error
}

// Upserter runs the save workflow for a populated controller.
type Upserter interface {
	Save(ctx context.Context, ctrl *form.Controller) (*workflow.Result, error)
}

// DraftStore persists form snapshots between sessions. Satisfied by
// *draftstore.Store.
type DraftStore interface {
	Save(ctx context.Context, id string, snap form.Snapshot) (string, error)
	Get(ctx context.Context, id string) (form.Snapshot, error)
	List(ctx context.Context) ([]draftstore.Draft, error)
	Delete(ctx context.Context, id string) error
}

// CompanyHandler maps HTTP requests to the reader, workflow, and draft
// store.
type CompanyHandler struct {
	reader   CompanyReader
	deleter  EmployeeDeleter
	upserter Upserter
	drafts   DraftStore
	rules    form.RuleSet
	logger   *zap.Logger
}

// NewCompanyHandler constructs a CompanyHandler. drafts may be nil, which
// disables the draft endpoints with 501 responses.
func NewCompanyHandler(
	reader CompanyReader,
	deleter EmployeeDeleter,
	upserter Upserter,
	drafts DraftStore,
	rules form.RuleSet,
	logger *zap.Logger,
) *CompanyHandler {
	return &CompanyHandler{
		reader:   reader,
		deleter:  deleter,
		upserter: upserter,
		drafts:   drafts,
		rules:    rules,
		logger:   logger.Named("http_handler"),
	}
}

// saveRequest is the façade's save body: canonical company fields plus the
// full form state, including unselected services.
type saveRequest struct {
	Company   models.Company      `json:"company"`
	Employees []models.Employee   `json:"employees"`
	Services  []form.ServiceState `json:"services"`
}

// saveResponse reports the typed partial-success outcome of a save.
type saveResponse struct {
	ID        string           `json:"id"`
	State     workflow.State   `json:"state"`
	Secondary []secondaryEntry `json:"secondary,omitempty"`
}

type secondaryEntry struct {
	Op    string `json:"op"`
	Ref   string `json:"ref"`
	Error string `json:"error,omitempty"`
}

// ListCompanies serves GET /v1/companies.
func (h *CompanyHandler) ListCompanies(c echo.Context) error {
	q := backend.ListQuery{
		Search: c.QueryParam("search"),
		Status: c.QueryParam("status"),
	}
	q.Page, _ = strconv.Atoi(c.QueryParam("page"))
	q.Limit, _ = strconv.Atoi(c.QueryParam("limit"))

	listed, err := h.reader.ListCompanies(c.Request().Context(), q)
	if err != nil {
		return h.mapServiceError(err)
	}
	return c.JSON(http.StatusOK, listed)
}

// GetCompany serves GET /v1/companies/:id.
func (h *CompanyHandler) GetCompany(c echo.Context) error {
	company, err := h.reader.GetCompany(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.mapServiceError(err)
	}
	return c.JSON(http.StatusOK, company)
}

// CreateCompany serves POST /v1/companies: it populates a fresh controller
// from the request and runs the create workflow.
func (h *CompanyHandler) CreateCompany(c echo.Context) error {
	var req saveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.Company.ID = ""
	return h.save(c, req, http.StatusCreated)
}

// UpdateCompany serves PATCH /v1/companies/:id via the combined update
// workflow.
func (h *CompanyHandler) UpdateCompany(c echo.Context) error {
	var req saveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.Company.ID = c.Param("id")
	return h.save(c, req, http.StatusOK)
}

func (h *CompanyHandler) save(c echo.Context, req saveRequest, okStatus int) error {
	ctrl := form.NewController(h.rules)
	ctrl.Restore(form.Snapshot{
		Company:   req.Company,
		Employees: req.Employees,
		Services:  req.Services,
	})
	res, err := h.upserter.Save(c.Request().Context(), ctrl)
	if err != nil {
		if errors.Is(err, e.ErrValidation) {
			return c.JSON(http.StatusUnprocessableEntity, map[string]any{
				"error":  "validation failed",
				"fields": ctrl.Errors(),
			})
		}
		return h.mapServiceError(err)
	}
	resp := saveResponse{ID: res.CompanyID, State: res.State}
	for _, s := range res.Secondary {
		entry := secondaryEntry{Op: s.Op, Ref: s.Ref}
		if s.Err != nil {
			entry.Error = s.Err.Error()
		}
		resp.Secondary = append(resp.Secondary, entry)
	}
	return c.JSON(okStatus, resp)
}

// DeleteEmployee serves DELETE /v1/company_employees/:id, the eager-delete
// call. A failure means the employee still exists; callers must keep the
// row visible.
func (h *CompanyHandler) DeleteEmployee(c echo.Context) error {
	if err := h.deleter.DeleteEmployee(c.Request().Context(), c.Param("id")); err != nil {
		h.logger.Error("employee delete failed", zap.String("id", c.Param("id")), zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, e.ErrDeleteGuard.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// SaveDraft serves POST /v1/drafts.
func (h *CompanyHandler) SaveDraft(c echo.Context) error {
	if h.drafts == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "draft store disabled")
	}
	var body struct {
		ID       string        `json:"id"`
		Snapshot form.Snapshot `json:"snapshot"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	id, err := h.drafts.Save(c.Request().Context(), body.ID, body.Snapshot)
	if err != nil {
		return h.mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"id": id})
}

// GetDraft serves GET /v1/drafts/:id.
func (h *CompanyHandler) GetDraft(c echo.Context) error {
	if h.drafts == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "draft store disabled")
	}
	snap, err := h.drafts.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.mapServiceError(err)
	}
	return c.JSON(http.StatusOK, snap)
}

// ListDrafts serves GET /v1/drafts.
func (h *CompanyHandler) ListDrafts(c echo.Context) error {
	if h.drafts == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "draft store disabled")
	}
	drafts, err := h.drafts.List(c.Request().Context())
	if err != nil {
		return h.mapServiceError(err)
	}
	return c.JSON(http.StatusOK, drafts)
}

// DeleteDraft serves DELETE /v1/drafts/:id.
func (h *CompanyHandler) DeleteDraft(c echo.Context) error {
	if h.drafts == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "draft store disabled")
	}
	if err := h.drafts.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return h.mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// mapServiceError maps domain errors to HTTP status codes.
func (h *CompanyHandler) mapServiceError(err error) error {
	switch {
	case errors.Is(err, e.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, e.ErrValidation):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, e.ErrIDResolution):
		// The company may already exist upstream; tell the operator to
		// check for duplicates instead of hiding the sharp edge.
		return echo.NewHTTPError(http.StatusBadGateway,
			"company was submitted but its id could not be determined; check upstream for duplicates")
	case errors.Is(err, e.ErrPrimaryWrite):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	case errors.Is(err, e.ErrSaveInProgress):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, e.ErrUnauthorized):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	default:
		h.logger.Error("Internal server error", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
}
