// Package backend is the HTTP client for the upstream CRM API. It owns the
// wire contract (paths, query params, snake_case bodies) and feeds every
// read through the normalizer, so callers only ever see canonical shapes.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	e "github.com/dkoval/ircrm/internal/company/errors"
	"github.com/dkoval/ircrm/internal/company/models"
	"github.com/dkoval/ircrm/internal/company/normalize"
	"go.uber.org/zap"
)

const (
	defaultTimeout = 15 * time.Second
	maxGetRetries  = 3
)

// Config holds the upstream connection settings.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client talks to the upstream CRM API.
type Client struct {
	base   string
	token  string
	http   *http.Client
	logger *zap.Logger
}

// NewClient constructs a Client. The base URL must include the scheme.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", cfg.BaseURL, err)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &Client{
		base:   base,
		token:  cfg.Token,
		http:   &http.Client{Timeout: timeout},
		logger: logger.Named("backend_client"),
	}, nil
}

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	Code int
	Body string
}

func (s *StatusError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", s.Code, s.Body)
}

// ListQuery carries the list filter parameters. Status "all" (or empty) is
// not forwarded upstream.
type ListQuery struct {
	Page   int
	Limit  int
	Search string
	Status string
}

// ListCompanies fetches a page of companies. GETs are retried a bounded
// number of times on transport errors and 5xx responses; the upstream
// assigns no idempotency keys, so writes are never retried.
func (c *Client) ListCompanies(ctx context.Context, q ListQuery) (models.CompanyList, error) {
	params := url.Values{}
	if q.Page > 0 {
		params.Set("page", strconv.Itoa(q.Page))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Search != "" {
		params.Set("search", q.Search)
	}
	if q.Status != "" && !strings.EqualFold(q.Status, "all") {
		params.Set("status", q.Status)
	}
	path := "/companies"
	if enc := params.Encode(); enc != "" {
		path += "?" + enc
	}
	raw, err := c.getWithRetry(ctx, path)
	if err != nil {
		return models.CompanyList{Items: []models.Company{}}, err
	}
	return normalize.List(raw), nil
}

// GetCompany fetches one company by id. Returns ErrNotFound when the
// upstream response holds no recognizable record.
func (c *Client) GetCompany(ctx context.Context, id string) (*models.Company, error) {
	raw, err := c.getWithRetry(ctx, "/companies/"+url.PathEscape(id))
	if err != nil {
		var se *StatusError
		if stderrors.As(err, &se) && se.Code == http.StatusNotFound {
			return nil, e.ErrNotFound
		}
		return nil, err
	}
	company := normalize.Single(raw)
	if company == nil {
		return nil, e.ErrNotFound
	}
	return company, nil
}

// CreateCompany posts a new company and returns the raw response body so
// the caller can resolve the assigned id from whatever envelope comes back.
func (c *Client) CreateCompany(ctx context.Context, company models.Company) ([]byte, error) {
	return c.do(ctx, http.MethodPost, "/companies", company)
}

// UpdatePayload is the combined body of the update endpoint, which performs
// its own employee/service reconciliation server-side.
type UpdatePayload struct {
	Company   models.Company            `json:"company"`
	Employees []models.Employee         `json:"employees"`
	Services  []models.ServiceSelection `json:"customer_services"`
}

// UpdateCompany sends the combined update for an existing company.
func (c *Client) UpdateCompany(ctx context.Context, id string, payload UpdatePayload) error {
	_, err := c.do(ctx, http.MethodPatch, "/companies/"+url.PathEscape(id), payload)
	return err
}

// CreateEmployee inserts one employee scoped to its CompanyID. Some
// upstream deployments only route the trailing-slash form of the path, so
// a failure is retried once against that variant.
func (c *Client) CreateEmployee(ctx context.Context, emp models.Employee) error {
	_, err := c.do(ctx, http.MethodPost, "/company_employees", emp)
	if err == nil {
		return nil
	}
	c.logger.Debug("employee insert failed, retrying trailing-slash path", zap.Error(err))
	if _, retryErr := c.do(ctx, http.MethodPost, "/company_employees/", emp); retryErr == nil {
		return nil
	}
	return err
}

// DeleteEmployee removes one employee upstream. Used by the eager-delete
// path while editing, so callers must treat failure as "row still exists".
func (c *Client) DeleteEmployee(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/company_employees/"+url.PathEscape(id), nil)
	return err
}

// ReplaceServices attaches the selected service rows to a company.
func (c *Client) ReplaceServices(ctx context.Context, companyID string, rows []models.ServiceSelection) error {
	path := "/companies/" + url.PathEscape(companyID) + "/customer_services"
	_, err := c.do(ctx, http.MethodPost, path, rows)
	return err
}

func (c *Client) getWithRetry(ctx context.Context, path string) ([]byte, error) {
	var raw []byte
	op := func() error {
		var err error
		raw, err = c.do(ctx, http.MethodGet, path, nil)
		if err == nil {
			return nil
		}
		var se *StatusError
		if stderrors.As(err, &se) && se.Code < http.StatusInternalServerError {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxGetRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	return raw, nil
}
