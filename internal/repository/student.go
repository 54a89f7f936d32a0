package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/roster/roster/internal/model"
	"github.com/roster/roster/internal/query"
)

const studentColumns = "id, student_id, name, branch, created_at, updated_at"

// StudentFields declares the student list filters.
var StudentFields = query.FieldSet{
	Filters: []query.Filter{
		{Param: "branch", Column: "branch"},
		{Param: "student_id", Column: "student_id"},
	},
	Search:          []string{"name", "student_id", "branch"},
	Ordering:        []string{"id", "student_id", "name", "branch", "created_at"},
	DefaultOrdering: []string{"id"},
}

func scanStudent(row pgx.Row) (model.Student, error) {
	var s model.Student
	err := row.Scan(&s.ID, &s.StudentID, &s.Name, &s.Branch, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

// CreateStudent inserts a student and returns the stored row.
func (r *Repository) CreateStudent(ctx context.Context, in model.StudentInput) (*model.Student, error) {
	q := `
		INSERT INTO students (student_id, name, branch)
		VALUES ($1, $2, $3)
		RETURNING ` + studentColumns

	s, err := scanStudent(r.pool.QueryRow(ctx, q, in.StudentID, in.Name, in.Branch))
	return one(s, err, "create student")
}

// GetStudent retrieves a student by primary key.
func (r *Repository) GetStudent(ctx context.Context, id int64) (*model.Student, error) {
	q := `SELECT ` + studentColumns + ` FROM students WHERE id = $1`

	s, err := scanStudent(r.pool.QueryRow(ctx, q, id))
	return one(s, err, "get student")
}

// UpdateStudent replaces the writable fields of a student.
func (r *Repository) UpdateStudent(ctx context.Context, id int64, in model.StudentInput) (*model.Student, error) {
	q := `
		UPDATE students
		SET student_id = $2, name = $3, branch = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + studentColumns

	s, err := scanStudent(r.pool.QueryRow(ctx, q, id, in.StudentID, in.Name, in.Branch))
	return one(s, err, "update student")
}

// DeleteStudent removes a student.
func (r *Repository) DeleteStudent(ctx context.Context, id int64) error {
	return deleteByID(ctx, r.pool, "students", id)
}

// ListStudents returns one page of students.
func (r *Repository) ListStudents(ctx context.Context, p *query.Params) (query.Result[model.Student], error) {
	return list(ctx, r.pool, "students", studentColumns, p, scanStudent)
}
