// Package normalize absorbs response-shape drift from the upstream CRM API.
// The upstream returns lists as bare arrays, {"companies": [...]},
// {"data": [...]}, or ad-hoc wrappers, and single records under a similar
// variety of envelopes. Everything downstream depends on the canonical
// models.Company / models.CompanyList shapes produced here and nowhere else.
//
// Both entry points are total: malformed or unrecognized input degrades to
// an empty list or nil, never an error. Absence means "not found".
package normalize

import (
	"github.com/dkoval/ircrm/internal/company/models"
	"github.com/tidwall/gjson"
)

// List collapses any list-flavored payload into a CompanyList.
// Envelope checks run in order, first match wins:
//
//  1. "companies" array
//  2. "data" array
//  3. the payload itself is an array
//  4. an object with a non-empty "id" (wrapped as a one-item list)
//  5. the first key, in document order, whose value is an array
//  6. anything else: empty list, zeroed pagination
func List(raw []byte) models.CompanyList {
	root := gjson.ParseBytes(raw)

	if arr := root.Get("companies"); arr.IsArray() {
		return list(arr, root.Get("pagination"))
	}
	if arr := root.Get("data"); arr.IsArray() {
		return list(arr, root.Get("pagination"))
	}
	if root.IsArray() {
		return list(root, gjson.Result{})
	}
	if root.IsObject() {
		if id := root.Get("id"); id.Exists() && id.String() != "" {
			return models.CompanyList{
				Items:      []models.Company{company(root)},
				Pagination: models.Pagination{Page: 1, Limit: 1, Total: 1, Pages: 1},
			}
		}
		var found gjson.Result
		root.ForEach(func(_, value gjson.Result) bool {
			if value.IsArray() {
				found = value
				return false
			}
			return true
		})
		if found.IsArray() {
			return list(found, root.Get("pagination"))
		}
	}
	return models.CompanyList{Items: []models.Company{}}
}

// Single collapses any single-record payload into a Company, or nil when no
// record can be located.
func Single(raw []byte) *models.Company {
	root := gjson.ParseBytes(raw)

	if root.IsArray() {
		arr := root.Array()
		if len(arr) == 0 {
			return nil
		}
		c := company(arr[0])
		return &c
	}
	if !root.IsObject() {
		return nil
	}
	if wrapped := root.Get("company"); wrapped.IsObject() {
		c := company(wrapped)
		return &c
	}
	if data := root.Get("data"); data.Get("id").Exists() && data.Get("id").String() != "" {
		c := company(data)
		return &c
	}
	if id := root.Get("id"); id.Exists() && id.String() != "" {
		c := company(root)
		return &c
	}
	if first := root.Get("companies.0"); first.IsObject() {
		c := company(first)
		return &c
	}
	return nil
}

func list(arr, pagination gjson.Result) models.CompanyList {
	items := []models.Company{}
	arr.ForEach(func(_, value gjson.Result) bool {
		items = append(items, company(value))
		return true
	})
	return models.CompanyList{Items: items, Pagination: paginationOf(pagination, len(items))}
}

func paginationOf(p gjson.Result, n int) models.Pagination {
	if p.IsObject() {
		return models.Pagination{
			Page:  int(p.Get("page").Int()),
			Limit: int(p.Get("limit").Int()),
			Total: int(p.Get("total").Int()),
			Pages: int(p.Get("pages").Int()),
		}
	}
	return models.Pagination{Page: 1, Limit: n, Total: n, Pages: 1}
}

// company builds a canonical record from one JSON object. gjson's String()
// coerces numeric ids and the like, so no input shape can make this panic.
func company(res gjson.Result) models.Company {
	c := models.Company{
		ID:                res.Get("id").String(),
		Name:              res.Get("name").String(),
		RegisteredAddress: res.Get("company_register_address").String(),
		Website:           res.Get("website").String(),
		GSTNumber:         res.Get("gst_number").String(),
		PANNumber:         res.Get("pan_number").String(),
		ContactNumber:     res.Get("contact_number").String(),
		LinkedIn:          res.Get("linkedin").String(),
		SocialMedia:       res.Get("social_media").String(),
		Domain:            res.Get("domain").String(),
		Industry:          res.Get("industry").String(),
		Status:            models.CompanyStatus(res.Get("status").String()),
		Employees:         employees(res.Get("employees")),
		Services:          services(res),
	}
	if c.Status == "" {
		c.Status = models.StatusActive
	}
	count := res.Get("employee_count")
	if !count.Exists() {
		count = res.Get("employeeCount")
	}
	if count.Type == gjson.Number {
		c.EmployeeCount = int(count.Int())
	} else {
		c.EmployeeCount = len(c.Employees)
	}
	return c
}

func employees(arr gjson.Result) []models.Employee {
	if !arr.IsArray() {
		return nil
	}
	var out []models.Employee
	arr.ForEach(func(_, row gjson.Result) bool {
		e := models.Employee{
			ID:          row.Get("id").String(),
			FirstName:   row.Get("first_name").String(),
			LastName:    row.Get("last_name").String(),
			Email:       row.Get("email").String(),
			Designation: row.Get("designation").String(),
			Phone:       row.Get("phone").String(),
			LinkedIn:    row.Get("linkedin_url").String(),
			IsPrimary:   row.Get("is_primary").Bool(),
			CompanyID:   row.Get("company_id").String(),
		}
		// Older upstream handlers emit the field without the _url suffix.
		if e.LinkedIn == "" {
			e.LinkedIn = row.Get("linkedin").String()
		}
		out = append(out, e)
		return true
	})
	return out
}

// services matches incoming rows back to the fixed service kinds; rows that
// match nothing are dropped. Absent collections become an empty, not nil,
// slice so callers can range without a presence check.
func services(res gjson.Result) []models.ServiceSelection {
	rows := res.Get("customer_services")
	if !rows.IsArray() {
		rows = res.Get("services")
	}
	out := []models.ServiceSelection{}
	if !rows.IsArray() {
		return out
	}
	rows.ForEach(func(_, row gjson.Result) bool {
		kind, ok := models.MatchServiceKind(
			row.Get("service_key").String(),
			row.Get("service_label").String(),
		)
		if !ok {
			return true
		}
		out = append(out, models.ServiceSelection{
			Kind:     kind,
			Label:    kind.Label(),
			Selected: true,
			Price:    models.Price(row.Get("price").Float()),
		})
		return true
	})
	return out
}
