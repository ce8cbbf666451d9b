// Package form owns the editable draft state for one company: core fields,
// employee rows, and service selections. It performs no network calls;
// persistence belongs to the workflow package.
package form

import (
	"context"
	"fmt"
	"strings"

	e "github.com/dkoval/ircrm/internal/company/errors"
	"github.com/dkoval/ircrm/internal/company/models"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// RuleSet parameterizes validation. The two legacy entry points disagreed
// on required rules; unifying them behind one controller with a rule set
// removes that drift.
type RuleSet struct {
	// RequireWebsiteScheme additionally rejects a non-blank website that
	// does not start with http:// or https://.
	RequireWebsiteScheme bool
}

// Loader fetches one company in canonical shape. Satisfied by
// *backend.Client.
type Loader interface {
	GetCompany(ctx context.Context, id string) (*models.Company, error)
}

// SavePayload is the validated output of a controller, ready for the
// upsert workflow. Employees are filtered to non-blank rows; Services to
// selected kinds with numeric prices.
type SavePayload struct {
	Company   models.Company
	Employees []models.Employee
	Services  []models.ServiceSelection
}

// Controller holds one company draft. Not safe for concurrent use; each
// editing session owns its controller exclusively.
type Controller struct {
	rules     RuleSet
	draft     models.Company
	employees []models.Employee
	services  map[models.ServiceKind]models.ServiceSelection
	errors    map[string]string
}

// NewController returns a controller for a fresh draft: empty company,
// one blank employee row, all services unselected at price 0.
func NewController(rules RuleSet) *Controller {
	services := make(map[models.ServiceKind]models.ServiceSelection, len(models.ServiceKinds()))
	for _, kind := range models.ServiceKinds() {
		services[kind] = models.ServiceSelection{Kind: kind, Label: kind.Label()}
	}
	return &Controller{
		rules:     rules,
		draft:     models.Company{Status: models.StatusActive},
		employees: []models.Employee{{}},
		services:  services,
		errors:    map[string]string{},
	}
}

// LoadForEdit populates the controller from an existing record. The
// normalizer has already absorbed envelope drift and matched service rows
// to kinds, so this is a straight copy plus the blank-row guarantee.
func (c *Controller) LoadForEdit(ctx context.Context, loader Loader, id string) error {
	company, err := loader.GetCompany(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load company %s: %w", id, err)
	}
	c.draft = *company
	c.employees = append([]models.Employee{}, company.Employees...)
	if len(c.employees) == 0 {
		c.employees = []models.Employee{{}}
	}
	for _, row := range company.Services {
		c.services[row.Kind] = models.ServiceSelection{
			Kind:     row.Kind,
			Label:    row.Kind.Label(),
			Selected: true,
			Price:    row.Price,
		}
	}
	return nil
}

// Draft returns the current company draft.
func (c *Controller) Draft() models.Company {
	return c.draft
}

// Employees returns a copy of the employee rows.
func (c *Controller) Employees() []models.Employee {
	return append([]models.Employee{}, c.employees...)
}

// Service returns the selection state for one kind.
func (c *Controller) Service(kind models.ServiceKind) models.ServiceSelection {
	return c.services[kind]
}

// Errors returns the field errors from the last Validate call.
func (c *Controller) Errors() map[string]string {
	return c.errors
}

// SetField updates one named company field. Unknown fields are ignored,
// matching the forgiving behavior of the forms this replaces.
func (c *Controller) SetField(field, value string) {
	switch field {
	case "name":
		c.draft.Name = value
	case "registeredAddress":
		c.draft.RegisteredAddress = value
	case "website":
		c.draft.Website = value
	case "gstNumber":
		c.draft.GSTNumber = value
	case "panNumber":
		c.draft.PANNumber = value
	case "contactNumber":
		c.draft.ContactNumber = value
	case "linkedin":
		c.draft.LinkedIn = value
	case "socialMedia":
		c.draft.SocialMedia = value
	case "domain":
		c.draft.Domain = value
	case "industry":
		c.draft.Industry = value
	case "status":
		c.draft.Status = models.CompanyStatus(value)
	}
}

// ToggleService flips the selected flag for one kind.
func (c *Controller) ToggleService(kind models.ServiceKind) {
	s, ok := c.services[kind]
	if !ok {
		return
	}
	s.Selected = !s.Selected
	c.services[kind] = s
}

// SetServicePrice coerces free-form input to a numeric price; unparsable
// input becomes 0.
func (c *Controller) SetServicePrice(kind models.ServiceKind, value string) {
	s, ok := c.services[kind]
	if !ok {
		return
	}
	s.Price = models.ParsePrice(value)
	c.services[kind] = s
}

// AddEmployeeRow appends a blank row.
func (c *Controller) AddEmployeeRow() {
	c.employees = append(c.employees, models.Employee{})
}

// UpdateEmployeeField updates one field on one row. Out-of-range indexes
// are ignored.
func (c *Controller) UpdateEmployeeField(index int, field, value string) {
	if index < 0 || index >= len(c.employees) {
		return
	}
	row := &c.employees[index]
	switch field {
	case "firstName":
		row.FirstName = value
	case "lastName":
		row.LastName = value
	case "email":
		row.Email = value
	case "designation":
		row.Designation = value
	case "phone":
		row.Phone = value
	case "linkedin":
		row.LinkedIn = value
	}
}

// EmployeeAt returns the row at index, false when out of range.
func (c *Controller) EmployeeAt(index int) (models.Employee, bool) {
	if index < 0 || index >= len(c.employees) {
		return models.Employee{}, false
	}
	return c.employees[index], true
}

// RemoveEmployeeRow drops the row at index from local state only. Rows
// that exist upstream must go through the workflow's eager delete, which
// calls this only after the backend confirms.
func (c *Controller) RemoveEmployeeRow(index int) {
	if index < 0 || index >= len(c.employees) {
		return
	}
	c.employees = append(c.employees[:index], c.employees[index+1:]...)
}

// ServiceState is the persistable selection state for one kind, including
// unselected rows (unlike the wire shape, which carries selected rows only).
type ServiceState struct {
	Kind     models.ServiceKind `json:"kind"`
	Selected bool               `json:"selected"`
	Price    models.Price       `json:"price"`
}

// Snapshot is a point-in-time copy of the whole draft, valid or not, for
// persistence between editing sessions.
type Snapshot struct {
	Company   models.Company    `json:"company"`
	Employees []models.Employee `json:"employees"`
	Services  []ServiceState    `json:"services"`
}

// Snapshot captures the current draft state.
func (c *Controller) Snapshot() Snapshot {
	snap := Snapshot{
		Company:   c.draft,
		Employees: append([]models.Employee{}, c.employees...),
	}
	for _, kind := range models.ServiceKinds() {
		s := c.services[kind]
		snap.Services = append(snap.Services, ServiceState{
			Kind:     kind,
			Selected: s.Selected,
			Price:    s.Price,
		})
	}
	return snap
}

// Restore replaces the controller state with a previously captured
// snapshot, re-establishing the blank-row guarantee.
func (c *Controller) Restore(snap Snapshot) {
	c.draft = snap.Company
	c.employees = append([]models.Employee{}, snap.Employees...)
	if len(c.employees) == 0 {
		c.employees = []models.Employee{{}}
	}
	for _, s := range snap.Services {
		if _, ok := c.services[s.Kind]; !ok {
			continue
		}
		c.services[s.Kind] = models.ServiceSelection{
			Kind:     s.Kind,
			Label:    s.Kind.Label(),
			Selected: s.Selected,
			Price:    s.Price,
		}
	}
	c.errors = map[string]string{}
}

// Validate checks the draft against the rule set, populating field errors.
// Name is always required; the website scheme rule is opt-in.
func (c *Controller) Validate() bool {
	c.errors = map[string]string{}
	if err := validate.Var(strings.TrimSpace(c.draft.Name), "required"); err != nil {
		c.errors["name"] = "company name is required"
	}
	if c.rules.RequireWebsiteScheme {
		rule := "omitempty,startswith=http://|startswith=https://"
		if err := validate.Var(strings.TrimSpace(c.draft.Website), rule); err != nil {
			c.errors["website"] = "website must start with http:// or https://"
		}
	}
	return len(c.errors) == 0
}

// BuildSavePayload assembles the create/update payload. Only meaningful
// after a successful Validate; callers that skip validation get
// ErrValidation back.
func (c *Controller) BuildSavePayload() (SavePayload, error) {
	if !c.Validate() {
		return SavePayload{}, fmt.Errorf("%w: %v", e.ErrValidation, c.errors)
	}
	payload := SavePayload{Company: c.draft}
	payload.Company.Employees = nil
	payload.Company.Services = nil

	for _, row := range c.employees {
		if row.Blank() {
			continue
		}
		row.CompanyID = c.draft.ID
		payload.Employees = append(payload.Employees, row)
	}
	for _, kind := range models.ServiceKinds() {
		s := c.services[kind]
		if !s.Selected {
			continue
		}
		payload.Services = append(payload.Services, models.ServiceSelection{
			Kind:     kind,
			Label:    kind.Label(),
			Selected: true,
			Price:    s.Price,
		})
	}
	return payload, nil
}
