package service

import (
	"context"
	"fmt"

	"github.com/roster/roster/internal/model"
	"github.com/roster/roster/internal/query"
)

// StudentStore persists students.
type StudentStore interface {
	CreateStudent(ctx context.Context, in model.StudentInput) (*model.Student, error)
	GetStudent(ctx context.Context, id int64) (*model.Student, error)
	UpdateStudent(ctx context.Context, id int64, in model.StudentInput) (*model.Student, error)
	DeleteStudent(ctx context.Context, id int64) error
	ListStudents(ctx context.Context, p *query.Params) (query.Result[model.Student], error)
}

// StudentService handles student business logic.
type StudentService struct {
	store StudentStore
	crud  crud[model.Student, model.StudentInput]
}

// NewStudentService creates a new StudentService.
func NewStudentService(store StudentStore, dispatcher Dispatcher) *StudentService {
	return &StudentService{
		store: store,
		crud: crud[model.Student, model.StudentInput]{
			resource: model.ResourceStudent,
			notFound: ErrStudentNotFound,
			signals:  dispatcher,
			create:   store.CreateStudent,
			get:      store.GetStudent,
			update:   store.UpdateStudent,
			remove:   store.DeleteStudent,
			id:       func(s *model.Student) int64 { return s.ID },
		},
	}
}

// List returns one page of students.
func (s *StudentService) List(ctx context.Context, p *query.Params) (query.Result[model.Student], error) {
	res, err := s.store.ListStudents(ctx, p)
	if err != nil {
		return res, fmt.Errorf("failed to list students: %w", err)
	}
	return res, nil
}

// Get returns a student by id.
func (s *StudentService) Get(ctx context.Context, id int64) (*model.Student, error) {
	return s.crud.fetch(ctx, id)
}

// Create validates patch, which must carry every field, and inserts it.
func (s *StudentService) Create(ctx context.Context, patch model.StudentPatch) (*model.Student, error) {
	in := patch.Apply(&model.Student{})
	if err := validated(false, patch, &in); err != nil {
		return nil, err
	}
	return s.crud.insert(ctx, in)
}

// Update merges patch onto the stored student. Unless partial, every field
// must be present.
func (s *StudentService) Update(ctx context.Context, id int64, patch model.StudentPatch, partial bool) (*model.Student, error) {
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

// Delete removes a student.
func (s *StudentService) Delete(ctx context.Context, id int64) error {
	cur, err := s.crud.fetch(ctx, id)
	if err != nil {
		return err
	}
	return s.crud.destroy(ctx, cur)
}
