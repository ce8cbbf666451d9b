// Package models defines the core domain models for the investor-relations
// CRM: Company, Employee, and the ServiceKind enumeration with its
// per-company selections.
package models

import (
	"encoding/json"
	"strconv"
	"strings"
)

// CompanyStatus represents the lifecycle status of a company record.
type CompanyStatus string

const (
	// StatusActive is the default status for new companies.
	StatusActive   CompanyStatus = "Active"
	StatusInactive CompanyStatus = "Inactive"
	StatusPending  CompanyStatus = "Pending"
)

// ServiceKind identifies one of the fixed priced service offerings a
// company can subscribe to.
type ServiceKind string

const (
	ServiceInvestor ServiceKind = "investor"
	ServicePublic   ServiceKind = "public"
	ServiceAnnual   ServiceKind = "annual"
	ServiceSMM      ServiceKind = "smm"
)

// serviceLabels maps each kind to its display label, which is also the
// wire-level service_label field.
var serviceLabels = map[ServiceKind]string{
	ServiceInvestor: "Investor Relation Entry",
	ServicePublic:   "Public Relation Entry",
	ServiceAnnual:   "Annual Report",
	ServiceSMM:      "Social Media Marketing",
}

// serviceMatchTokens are the case-insensitive substrings used to map a
// loose incoming label back to a kind when no service_key is present.
var serviceMatchTokens = map[ServiceKind]string{
	ServiceInvestor: "investor",
	ServicePublic:   "public",
	ServiceAnnual:   "annual",
	ServiceSMM:      "social",
}

// ServiceKinds returns all kinds in their fixed display order.
func ServiceKinds() []ServiceKind {
	return []ServiceKind{ServiceInvestor, ServicePublic, ServiceAnnual, ServiceSMM}
}

// Label returns the display label for the kind, empty for unknown kinds.
func (k ServiceKind) Label() string {
	return serviceLabels[k]
}

// MatchServiceKind resolves an incoming service row to a kind. An explicit
// key wins; otherwise the label is matched by case-insensitive substring.
// Returns false when nothing matches.
func MatchServiceKind(key, label string) (ServiceKind, bool) {
	if key != "" {
		k := ServiceKind(strings.ToLower(strings.TrimSpace(key)))
		if _, ok := serviceLabels[k]; ok {
			return k, true
		}
	}
	lower := strings.ToLower(label)
	for _, k := range ServiceKinds() {
		if strings.Contains(lower, serviceMatchTokens[k]) {
			return k, true
		}
	}
	return "", false
}

// Price is a wire-tolerant numeric value: upstream endpoints return it as a
// JSON number or a numeric string depending on the handler. Unparsable
// values decode to 0.
type Price float64

// UnmarshalJSON accepts numbers, quoted numbers, and null.
func (p *Price) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*p = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*p = 0
		return nil
	}
	*p = Price(f)
	return nil
}

// MarshalJSON always emits a bare JSON number.
func (p Price) MarshalJSON() ([]byte, error) {
	return json.Marshal(float64(p))
}

// ParsePrice coerces free-form user input to a Price, defaulting to 0.
func ParsePrice(s string) Price {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return Price(f)
}

// ServiceSelection is one priced service row attached to a company. Only
// selected rows are ever sent upstream.
type ServiceSelection struct {
	Kind     ServiceKind `json:"service_key"`
	Label    string      `json:"service_label"`
	Selected bool        `json:"-"`
	Price    Price       `json:"price"`
}

// Employee is a contact person belonging to a company. All fields are
// individually optional; see Employee.Blank for the persistence rule.
type Employee struct {
	ID          string `json:"id,omitempty"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email"`
	Designation string `json:"designation,omitempty"`
	Phone       string `json:"phone,omitempty"`
	LinkedIn    string `json:"linkedin_url,omitempty"`
	IsPrimary   bool   `json:"is_primary,omitempty"`
	CompanyID   string `json:"company_id,omitempty"`
}

// Blank reports whether the row carries no identifying data. A row is
// eligible for persistence when any of first name, last name, email, or
// phone is non-blank; designation and linkedin alone do not count.
func (e Employee) Blank() bool {
	for _, v := range []string{e.FirstName, e.LastName, e.Email, e.Phone} {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Company is the canonical record every normalizer output converges to.
// ID is server-assigned and empty for unsaved drafts.
type Company struct {
	ID                string             `json:"id,omitempty"`
	Name              string             `json:"name"`
	RegisteredAddress string             `json:"company_register_address,omitempty"`
	Website           string             `json:"website,omitempty"`
	GSTNumber         string             `json:"gst_number,omitempty"`
	PANNumber         string             `json:"pan_number,omitempty"`
	ContactNumber     string             `json:"contact_number,omitempty"`
	LinkedIn          string             `json:"linkedin,omitempty"`
	SocialMedia       string             `json:"social_media,omitempty"`
	Domain            string             `json:"domain,omitempty"`
	Industry          string             `json:"industry,omitempty"`
	Status            CompanyStatus      `json:"status,omitempty"`
	EmployeeCount     int                `json:"employee_count"`
	Employees         []Employee         `json:"employees,omitempty"`
	Services          []ServiceSelection `json:"customer_services,omitempty"`
}

// Pagination describes the position of a list page within the full result
// set. Synthesized by the normalizer when the upstream omits it.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// CompanyList is the canonical list shape.
type CompanyList struct {
	Items      []Company  `json:"items"`
	Pagination Pagination `json:"pagination"`
}
