package service

import (
	"context"
	"fmt"

	"github.com/roster/roster/internal/model"
	"github.com/roster/roster/internal/query"
)

// EmployeeStore persists employees.
type EmployeeStore interface {
	CreateEmployee(ctx context.Context, in model.EmployeeInput) (*model.Employee, error)
	GetEmployee(ctx context.Context, id int64) (*model.Employee, error)
	UpdateEmployee(ctx context.Context, id int64, in model.EmployeeInput) (*model.Employee, error)
	DeleteEmployee(ctx context.Context, id int64) error
	ListEmployees(ctx context.Context, p *query.Params) (query.Result[model.Employee], error)
}

// EmployeeService handles employee business logic.
type EmployeeService struct {
	store EmployeeStore
	crud  crud[model.Employee, model.EmployeeInput]
}

// NewEmployeeService creates a new EmployeeService.
func NewEmployeeService(store EmployeeStore, dispatcher Dispatcher) *EmployeeService {
	return &EmployeeService{
		store: store,
		crud: crud[model.Employee, model.EmployeeInput]{
			resource: model.ResourceEmployee,
			notFound: ErrEmployeeNotFound,
			signals:  dispatcher,
			create:   store.CreateEmployee,
			get:      store.GetEmployee,
			update:   store.UpdateEmployee,
			remove:   store.DeleteEmployee,
			id:       func(s *model.Employee) int64 { return s.ID },
		},
	}
}

func (s *EmployeeService) List(ctx context.Context, p *query.Params) (query.Result[model.Employee], error) {
	res, err := s.store.ListEmployees(ctx, p)
	if err != nil {
		return res, fmt.Errorf("failed to list employees: %w", err)
	}
	return res, nil
}

func (s *EmployeeService) Get(ctx context.Context, id int64) (*model.Employee, error) {
	return s.crud.fetch(ctx, id)
}

func (s *EmployeeService) Create(ctx context.Context, patch model.EmployeePatch) (*model.Employee, error) {
	in := patch.Apply(&model.Employee{})
	if err := validated(false, patch, &in); err != nil {
		return nil, err
	}
	return s.crud.insert(ctx, in)
}

func (s *EmployeeService) Update(ctx context.Context, id int64, patch model.EmployeePatch, partial bool) (*model.Employee, error) {
	cur, err := s.crud.fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	in := patch.Apply(cur)
	if err := validated(partial, patch, &in); err != nil {
		return nil, err
	}
	return s.crud.save(ctx, cur, in)
}

func (s *EmployeeService) Delete(ctx context.Context, id int64) error {
	cur, err := s.crud.fetch(ctx, id)
	if err != nil {
		return err
	}
	return s.crud.destroy(ctx, cur)
}
