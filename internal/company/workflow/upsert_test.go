package workflow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dkoval/ircrm/internal/company/backend"
	e "github.com/dkoval/ircrm/internal/company/errors"
	"github.com/dkoval/ircrm/internal/company/events"
	"github.com/dkoval/ircrm/internal/company/form"
	"github.com/dkoval/ircrm/internal/company/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// MockBackend implements the Backend interface for testing
type MockBackend struct {
	listCompanies   func(context.Context, backend.ListQuery) (models.CompanyList, error)
	createCompany   func(context.Context, models.Company) ([]byte, error)
	updateCompany   func(context.Context, string, backend.UpdatePayload) error
	createEmployee  func(context.Context, models.Employee) error
	deleteEmployee  func(context.Context, string) error
	replaceServices func(context.Context, string, []models.ServiceSelection) error
}

func (m *MockBackend) ListCompanies(ctx context.Context, q backend.ListQuery) (models.CompanyList, error) {
	return m.listCompanies(ctx, q)
}

func (m *MockBackend) CreateCompany(ctx context.Context, c models.Company) ([]byte, error) {
	return m.createCompany(ctx, c)
}

func (m *MockBackend) UpdateCompany(ctx context.Context, id string, p backend.UpdatePayload) error {
	return m.updateCompany(ctx, id, p)
}

func (m *MockBackend) CreateEmployee(ctx context.Context, emp models.Employee) error {
	return m.createEmployee(ctx, emp)
}

func (m *MockBackend) DeleteEmployee(ctx context.Context, id string) error {
	return m.deleteEmployee(ctx, id)
}

func (m *MockBackend) ReplaceServices(ctx context.Context, id string, rows []models.ServiceSelection) error {
	return m.replaceServices(ctx, id, rows)
}

// MockProducer records published events.
type MockProducer struct {
	mu       sync.Mutex
	produced []events.EventType
}

func (m *MockProducer) Produce(eventType events.EventType, _ *models.Company) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.produced = append(m.produced, eventType)
}

func newCreateController(t *testing.T) *form.Controller {
	t.Helper()
	ctrl := form.NewController(form.RuleSet{})
	ctrl.SetField("name", "Acme Capital")
	ctrl.SetField("website", "https://acme.vc")
	ctrl.UpdateEmployeeField(0, "firstName", "Jane")
	ctrl.UpdateEmployeeField(0, "email", "jane@acme.vc")
	ctrl.AddEmployeeRow()
	ctrl.UpdateEmployeeField(1, "firstName", "Joe")
	ctrl.UpdateEmployeeField(1, "email", "joe@acme.vc")
	ctrl.AddEmployeeRow()
	ctrl.UpdateEmployeeField(2, "firstName", "Ann")
	ctrl.UpdateEmployeeField(2, "email", "ann@acme.vc")
	ctrl.ToggleService(models.ServiceInvestor)
	ctrl.SetServicePrice(models.ServiceInvestor, "5")
	return ctrl
}

func TestWorkflow_Create_Success(t *testing.T) {
	var inserted []string
	var attached []models.ServiceSelection
	mb := &MockBackend{
		createCompany: func(_ context.Context, c models.Company) ([]byte, error) {
			assert.Empty(t, c.Employees, "create posts the bare company")
			return []byte(`{"company":{"id":"c-77"}}`), nil
		},
		createEmployee: func(_ context.Context, emp models.Employee) error {
			assert.Equal(t, "c-77", emp.CompanyID)
			inserted = append(inserted, emp.Email)
			return nil
		},
		replaceServices: func(_ context.Context, id string, rows []models.ServiceSelection) error {
			assert.Equal(t, "c-77", id)
			attached = rows
			return nil
		},
	}
	producer := &MockProducer{}
	w := New(mb, producer, zaptest.NewLogger(t))

	res, err := w.Save(context.Background(), newCreateController(t))
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, "c-77", res.CompanyID)
	assert.Equal(t, []string{"jane@acme.vc", "joe@acme.vc", "ann@acme.vc"}, inserted)
	require.Len(t, attached, 1)
	assert.Equal(t, models.ServiceInvestor, attached[0].Kind)
	assert.Equal(t, []events.EventType{events.CompanyCreated}, producer.produced)
}

func TestWorkflow_Create_PartialEmployeeFailureStillDone(t *testing.T) {
	attempt := 0
	mb := &MockBackend{
		createCompany: func(_ context.Context, _ models.Company) ([]byte, error) {
			return []byte(`{"id":"c-1"}`), nil
		},
		createEmployee: func(_ context.Context, emp models.Employee) error {
			attempt++
			if attempt == 2 {
				return errors.New("boom")
			}
			return nil
		},
		replaceServices: func(_ context.Context, _ string, _ []models.ServiceSelection) error {
			return nil
		},
	}
	w := New(mb, nil, zaptest.NewLogger(t))

	res, err := w.Save(context.Background(), newCreateController(t))
	require.NoError(t, err, "secondary failures never fail the operation")
	assert.Equal(t, StateDone, res.State)

	require.Len(t, res.Secondary, 4) // 3 employee inserts + 1 services batch
	assert.NoError(t, res.Secondary[0].Err)
	assert.Error(t, res.Secondary[1].Err)
	assert.Equal(t, "joe@acme.vc", res.Secondary[1].Ref)
	assert.NoError(t, res.Secondary[2].Err)
	assert.Equal(t, "services_batch", res.Secondary[3].Op)
}

func TestWorkflow_Create_ServicesBatchFailureStillDone(t *testing.T) {
	mb := &MockBackend{
		createCompany: func(_ context.Context, _ models.Company) ([]byte, error) {
			return []byte(`{"id":"c-1"}`), nil
		},
		createEmployee: func(_ context.Context, _ models.Employee) error { return nil },
		replaceServices: func(_ context.Context, _ string, _ []models.ServiceSelection) error {
			return errors.New("bad gateway")
		},
	}
	w := New(mb, nil, zaptest.NewLogger(t))

	res, err := w.Save(context.Background(), newCreateController(t))
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)
	last := res.Secondary[len(res.Secondary)-1]
	assert.Equal(t, "services_batch", last.Op)
	assert.Error(t, last.Err)
}

func TestWorkflow_Create_SkipsServicesBatchWhenResponseHasThem(t *testing.T) {
	mb := &MockBackend{
		createCompany: func(_ context.Context, _ models.Company) ([]byte, error) {
			return []byte(`{"id":"c-1","customer_services":[{"service_key":"investor","price":5}]}`), nil
		},
		createEmployee: func(_ context.Context, _ models.Employee) error { return nil },
		replaceServices: func(_ context.Context, _ string, _ []models.ServiceSelection) error {
			t.Fatal("services batch must not be called")
			return nil
		},
	}
	w := New(mb, nil, zaptest.NewLogger(t))

	res, err := w.Save(context.Background(), newCreateController(t))
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)
}

func TestWorkflow_Create_PrimaryWriteFails(t *testing.T) {
	mb := &MockBackend{
		createCompany: func(_ context.Context, _ models.Company) ([]byte, error) {
			return nil, errors.New("upstream down")
		},
	}
	w := New(mb, nil, zaptest.NewLogger(t))

	res, err := w.Save(context.Background(), newCreateController(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, e.ErrPrimaryWrite))
	assert.Equal(t, StateFailed, res.State)
}

func TestWorkflow_Create_IDResolutionFallback(t *testing.T) {
	mb := &MockBackend{
		createCompany: func(_ context.Context, _ models.Company) ([]byte, error) {
			return []byte(`{"ok":true}`), nil // no id anywhere
		},
		listCompanies: func(_ context.Context, q backend.ListQuery) (models.CompanyList, error) {
			assert.Equal(t, "Acme Capital", q.Search)
			return models.CompanyList{Items: []models.Company{
				{ID: "other", Name: "Acme Capital", Website: "https://other.vc"},
				{ID: "c-42", Name: "Acme Capital", Website: "https://acme.vc"},
			}}, nil
		},
		createEmployee: func(_ context.Context, emp models.Employee) error {
			assert.Equal(t, "c-42", emp.CompanyID)
			return nil
		},
		replaceServices: func(_ context.Context, id string, _ []models.ServiceSelection) error {
			assert.Equal(t, "c-42", id)
			return nil
		},
	}
	w := New(mb, nil, zaptest.NewLogger(t))

	res, err := w.Save(context.Background(), newCreateController(t))
	require.NoError(t, err)
	assert.Equal(t, "c-42", res.CompanyID)
}

func TestWorkflow_Create_IDResolutionFails(t *testing.T) {
	mb := &MockBackend{
		createCompany: func(_ context.Context, _ models.Company) ([]byte, error) {
			return []byte(`{"ok":true}`), nil
		},
		listCompanies: func(_ context.Context, _ backend.ListQuery) (models.CompanyList, error) {
			return models.CompanyList{Items: []models.Company{}}, nil
		},
	}
	w := New(mb, nil, zaptest.NewLogger(t))

	res, err := w.Save(context.Background(), newCreateController(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, e.ErrIDResolution))
	assert.Equal(t, StateFailed, res.State)
}

func TestWorkflow_Create_IDResolutionOrder(t *testing.T) {
	tests := []struct {
		raw    string
		wantID string
	}{
		{raw: `{"id":"a"}`, wantID: "a"},
		{raw: `[{"id":"b"}]`, wantID: "b"},
		{raw: `{"company":{"id":"c"}}`, wantID: "c"},
		{raw: `{"data":{"id":"d"}}`, wantID: "d"},
		{raw: `{"id":"a","company":{"id":"c"}}`, wantID: "a"},
		{raw: `{}`, wantID: ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.wantID, resolveCreatedID([]byte(tt.raw)), tt.raw)
	}
}

func TestWorkflow_Update(t *testing.T) {
	t.Run("combined call carries everything", func(t *testing.T) {
		var got backend.UpdatePayload
		mb := &MockBackend{
			updateCompany: func(_ context.Context, id string, p backend.UpdatePayload) error {
				assert.Equal(t, "c-9", id)
				got = p
				return nil
			},
		}
		producer := &MockProducer{}
		w := New(mb, producer, zaptest.NewLogger(t))

		ctrl := newCreateController(t)
		ctrl.Restore(func() form.Snapshot {
			snap := ctrl.Snapshot()
			snap.Company.ID = "c-9"
			return snap
		}())

		res, err := w.Save(context.Background(), ctrl)
		require.NoError(t, err)
		assert.Equal(t, StateDone, res.State)
		assert.Equal(t, "c-9", res.CompanyID)
		assert.Equal(t, "Acme Capital", got.Company.Name)
		assert.Len(t, got.Employees, 3)
		assert.Len(t, got.Services, 1)
		assert.Equal(t, []events.EventType{events.CompanyUpdated}, producer.produced)
	})

	t.Run("failure preserves draft", func(t *testing.T) {
		mb := &MockBackend{
			updateCompany: func(_ context.Context, _ string, _ backend.UpdatePayload) error {
				return errors.New("conflict")
			},
		}
		w := New(mb, nil, zaptest.NewLogger(t))

		ctrl := newCreateController(t)
		snap := ctrl.Snapshot()
		snap.Company.ID = "c-9"
		ctrl.Restore(snap)

		res, err := w.Save(context.Background(), ctrl)
		require.Error(t, err)
		assert.True(t, errors.Is(err, e.ErrPrimaryWrite))
		assert.Equal(t, StateFailed, res.State)
		// Local draft is untouched for the caller to retry.
		assert.Equal(t, "Acme Capital", ctrl.Draft().Name)
		assert.Len(t, ctrl.Employees(), 3)
	})
}

func TestWorkflow_Save_ValidationFailureSkipsNetwork(t *testing.T) {
	mb := &MockBackend{
		createCompany: func(_ context.Context, _ models.Company) ([]byte, error) {
			t.Fatal("no network call on validation failure")
			return nil, nil
		},
	}
	w := New(mb, nil, zaptest.NewLogger(t))

	ctrl := form.NewController(form.RuleSet{}) // blank name
	res, err := w.Save(context.Background(), ctrl)
	require.Error(t, err)
	assert.True(t, errors.Is(err, e.ErrValidation))
	assert.Equal(t, StateFailed, res.State)
}

func TestWorkflow_RemoveEmployee(t *testing.T) {
	newEditController := func() *form.Controller {
		ctrl := form.NewController(form.RuleSet{})
		snap := form.Snapshot{
			Company: models.Company{ID: "c-1", Name: "Acme"},
			Employees: []models.Employee{
				{ID: "e1", FirstName: "Jane"},
				{FirstName: "Unsaved"},
			},
		}
		ctrl.Restore(snap)
		return ctrl
	}

	t.Run("delete failure keeps the row", func(t *testing.T) {
		mb := &MockBackend{
			deleteEmployee: func(_ context.Context, id string) error {
				assert.Equal(t, "e1", id)
				return errors.New("locked")
			},
		}
		w := New(mb, nil, zaptest.NewLogger(t))
		ctrl := newEditController()

		err := w.RemoveEmployee(context.Background(), ctrl, 0)
		require.Error(t, err)
		assert.True(t, errors.Is(err, e.ErrDeleteGuard))
		require.Len(t, ctrl.Employees(), 2)
		assert.Equal(t, "e1", ctrl.Employees()[0].ID)
	})

	t.Run("delete success removes the row", func(t *testing.T) {
		mb := &MockBackend{
			deleteEmployee: func(_ context.Context, _ string) error { return nil },
		}
		producer := &MockProducer{}
		w := New(mb, producer, zaptest.NewLogger(t))
		ctrl := newEditController()

		require.NoError(t, w.RemoveEmployee(context.Background(), ctrl, 0))
		require.Len(t, ctrl.Employees(), 1)
		assert.Equal(t, "Unsaved", ctrl.Employees()[0].FirstName)
		assert.Equal(t, []events.EventType{events.EmployeeDeleted}, producer.produced)
	})

	t.Run("unsaved row removed locally without network", func(t *testing.T) {
		mb := &MockBackend{
			deleteEmployee: func(_ context.Context, _ string) error {
				t.Fatal("no delete call for unsaved rows")
				return nil
			},
		}
		w := New(mb, nil, zaptest.NewLogger(t))
		ctrl := newEditController()

		require.NoError(t, w.RemoveEmployee(context.Background(), ctrl, 1))
		require.Len(t, ctrl.Employees(), 1)
		assert.Equal(t, "e1", ctrl.Employees()[0].ID)
	})
}

func TestWorkflow_DoubleSubmitGuard(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var calls atomic.Int32
	mb := &MockBackend{
		createCompany: func(_ context.Context, _ models.Company) ([]byte, error) {
			if calls.Add(1) == 1 {
				close(started)
				<-release
			}
			return []byte(`{"id":"c-1"}`), nil
		},
		createEmployee:  func(_ context.Context, _ models.Employee) error { return nil },
		replaceServices: func(_ context.Context, _ string, _ []models.ServiceSelection) error { return nil },
	}
	w := New(mb, nil, zaptest.NewLogger(t))

	ctrl := newCreateController(t)
	done := make(chan error, 1)
	go func() {
		_, err := w.Save(context.Background(), ctrl)
		done <- err
	}()
	<-started

	// Resubmitting the same form while its save runs is rejected.
	res, err := w.Save(context.Background(), ctrl)
	require.ErrorIs(t, err, e.ErrSaveInProgress)
	assert.Equal(t, StateFailed, res.State)

	close(release)
	require.NoError(t, <-done)

	// The guard releases once the save finishes.
	_, err = w.Save(context.Background(), ctrl)
	require.NoError(t, err)
}

func TestWorkflow_IndependentFormsSaveConcurrently(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var calls atomic.Int32
	mb := &MockBackend{
		createCompany: func(_ context.Context, _ models.Company) ([]byte, error) {
			if calls.Add(1) == 1 {
				close(started)
				<-release
			}
			return []byte(`{"id":"c-1"}`), nil
		},
		createEmployee:  func(_ context.Context, _ models.Employee) error { return nil },
		replaceServices: func(_ context.Context, _ string, _ []models.ServiceSelection) error { return nil },
	}
	w := New(mb, nil, zaptest.NewLogger(t))

	done := make(chan error, 1)
	go func() {
		_, err := w.Save(context.Background(), newCreateController(t))
		done <- err
	}()
	<-started

	// A save for an unrelated form goes through while the first is in flight.
	res, err := w.Save(context.Background(), newCreateController(t))
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)

	close(release)
	require.NoError(t, <-done)
}
