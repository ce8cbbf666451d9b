// Package workflow orchestrates company persistence: create-or-update of
// the primary record, reconciliation of employee and service sub-records,
// and the eager employee delete used while editing. Secondary writes follow
// a best-effort policy; their outcomes are reported as data in the Result
// instead of being swallowed into logs.
package workflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkoval/ircrm/internal/company/backend"
	e "github.com/dkoval/ircrm/internal/company/errors"
	"github.com/dkoval/ircrm/internal/company/events"
	"github.com/dkoval/ircrm/internal/company/form"
	"github.com/dkoval/ircrm/internal/company/models"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// State tracks the progress of one save operation.
type State string

const (
	StateIdle                 State = "idle"
	StateValidating           State = "validating"
	StateSaving               State = "saving"
	StateReconcilingEmployees State = "reconciling_employees"
	StateReconcilingServices  State = "reconciling_services"
	StateDone                 State = "done"
	StateFailed               State = "failed"
)

// Backend is the slice of the upstream client the workflow needs.
type Backend interface {
	ListCompanies(ctx context.Context, q backend.ListQuery) (models.CompanyList, error)
	CreateCompany(ctx context.Context, company models.Company) ([]byte, error)
	UpdateCompany(ctx context.Context, id string, payload backend.UpdatePayload) error
	CreateEmployee(ctx context.Context, emp models.Employee) error
	DeleteEmployee(ctx context.Context, id string) error
	ReplaceServices(ctx context.Context, companyID string, rows []models.ServiceSelection) error
}

// EventProducer publishes domain events after successful writes.
type EventProducer interface {
	Produce(eventType events.EventType, company *models.Company)
}

// SecondaryResult records the outcome of one best-effort secondary write.
type SecondaryResult struct {
	// Op is "employee_insert" or "services_batch".
	Op string
	// Ref identifies the affected record (employee email or name).
	Ref string
	Err error
}

// Result is the typed partial-success report of one save operation. A Done
// state with non-nil Secondary errors means the primary record persisted
// but some sub-records did not.
type Result struct {
	State     State
	CompanyID string
	Secondary []SecondaryResult
}

// Workflow performs upserts against the backend. A nil producer disables
// event publication. One Workflow serves many forms concurrently; the
// in-flight set tracks which forms have a save running so only true double
// submits are rejected.
type Workflow struct {
	backend  Backend
	producer EventProducer
	logger   *zap.Logger
	inFlight sync.Map
}

// New constructs a Workflow.
func New(b Backend, producer EventProducer, logger *zap.Logger) *Workflow {
	return &Workflow{
		backend:  b,
		producer: producer,
		logger:   logger.Named("upsert_workflow"),
	}
}

// Save validates the controller's draft and persists it: the create path
// when the draft has no id, the update path otherwise. Only one save may be
// in flight per form; a second concurrent call for the same controller
// fails immediately (there is no upstream idempotency key to make double
// submits safe). Saves for other forms proceed independently.
func (w *Workflow) Save(ctx context.Context, ctrl *form.Controller) (*Result, error) {
	if _, running := w.inFlight.LoadOrStore(ctrl, struct{}{}); running {
		return &Result{State: StateFailed}, e.ErrSaveInProgress
	}
	defer w.inFlight.Delete(ctrl)

	res := &Result{State: StateValidating}
	payload, err := ctrl.BuildSavePayload()
	if err != nil {
		res.State = StateFailed
		return res, err
	}
	if payload.Company.ID == "" {
		return w.create(ctx, res, payload)
	}
	return w.update(ctx, res, payload)
}

// create posts the bare company first, resolves the assigned id, then
// attaches employees and services one call at a time. Sub-record failures
// never roll back the company and never abort the remaining writes.
func (w *Workflow) create(ctx context.Context, res *Result, payload form.SavePayload) (*Result, error) {
	res.State = StateSaving
	raw, err := w.backend.CreateCompany(ctx, payload.Company)
	if err != nil {
		res.State = StateFailed
		return res, fmt.Errorf("%w: create company: %v", e.ErrPrimaryWrite, err)
	}

	id := resolveCreatedID(raw)
	if id == "" {
		id = w.lookupByNameAndWebsite(ctx, payload.Company)
	}
	if id == "" {
		// The record may exist upstream already; callers should surface
		// this distinctly so operators check for duplicates.
		res.State = StateFailed
		return res, e.ErrIDResolution
	}
	res.CompanyID = id

	res.State = StateReconcilingEmployees
	for _, emp := range payload.Employees {
		emp.CompanyID = id
		insertErr := w.backend.CreateEmployee(ctx, emp)
		if insertErr != nil {
			w.logger.Warn("employee insert failed, continuing",
				zap.String("company_id", id),
				zap.String("email", emp.Email),
				zap.Error(insertErr),
			)
		}
		res.Secondary = append(res.Secondary, SecondaryResult{
			Op:  "employee_insert",
			Ref: employeeRef(emp),
			Err: insertErr,
		})
	}

	res.State = StateReconcilingServices
	if len(payload.Services) > 0 && !responseIncludesServices(raw) {
		batchErr := w.backend.ReplaceServices(ctx, id, payload.Services)
		if batchErr != nil {
			w.logger.Warn("services batch failed, continuing",
				zap.String("company_id", id),
				zap.Error(batchErr),
			)
		}
		res.Secondary = append(res.Secondary, SecondaryResult{
			Op:  "services_batch",
			Ref: id,
			Err: batchErr,
		})
	}

	res.State = StateDone
	if w.producer != nil {
		created := payload.Company
		created.ID = id
		w.producer.Produce(events.CompanyCreated, &created)
	}
	return res, nil
}

// update sends one combined call; the update endpoint reconciles employees
// and services server-side. Failure leaves the caller's draft intact.
func (w *Workflow) update(ctx context.Context, res *Result, payload form.SavePayload) (*Result, error) {
	res.State = StateSaving
	err := w.backend.UpdateCompany(ctx, payload.Company.ID, backend.UpdatePayload{
		Company:   payload.Company,
		Employees: payload.Employees,
		Services:  payload.Services,
	})
	if err != nil {
		res.State = StateFailed
		return res, fmt.Errorf("%w: update company: %v", e.ErrPrimaryWrite, err)
	}
	res.CompanyID = payload.Company.ID
	res.State = StateDone
	if w.producer != nil {
		updated := payload.Company
		w.producer.Produce(events.CompanyUpdated, &updated)
	}
	return res, nil
}

// RemoveEmployee removes one employee row during editing. Rows that exist
// upstream are deleted there first; the row leaves local state only after
// the backend confirms, so the form never understates what is persisted.
// Unsaved rows are removed locally with no network call.
func (w *Workflow) RemoveEmployee(ctx context.Context, ctrl *form.Controller, index int) error {
	row, ok := ctrl.EmployeeAt(index)
	if !ok {
		return nil
	}
	if row.ID == "" {
		ctrl.RemoveEmployeeRow(index)
		return nil
	}
	if err := w.backend.DeleteEmployee(ctx, row.ID); err != nil {
		return fmt.Errorf("%w: employee %s: %v", e.ErrDeleteGuard, row.ID, err)
	}
	ctrl.RemoveEmployeeRow(index)
	if w.producer != nil {
		w.producer.Produce(events.EmployeeDeleted, &models.Company{ID: ctrl.Draft().ID})
	}
	return nil
}

// resolveCreatedID probes the create response for the new id, in the order
// the upstream has been observed to use.
func resolveCreatedID(raw []byte) string {
	root := gjson.ParseBytes(raw)
	for _, path := range []string{"id", "0.id", "company.id", "data.id"} {
		if v := root.Get(path); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

// lookupByNameAndWebsite is the best-effort fallback when the create
// response carries no recognizable id: the upstream enforces (name,
// website) uniqueness, so a search by name can recover the record.
func (w *Workflow) lookupByNameAndWebsite(ctx context.Context, company models.Company) string {
	listed, err := w.backend.ListCompanies(ctx, backend.ListQuery{Search: company.Name, Limit: 10})
	if err != nil {
		w.logger.Warn("id fallback lookup failed", zap.String("name", company.Name), zap.Error(err))
		return ""
	}
	for _, item := range listed.Items {
		if item.Name == company.Name && item.Website == company.Website {
			return item.ID
		}
	}
	return ""
}

func responseIncludesServices(raw []byte) bool {
	rows := gjson.GetBytes(raw, "customer_services")
	return rows.IsArray() && len(rows.Array()) > 0
}

func employeeRef(emp models.Employee) string {
	if emp.Email != "" {
		return emp.Email
	}
	return emp.FirstName + " " + emp.LastName
}
