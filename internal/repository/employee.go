package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/roster/roster/internal/model"
	"github.com/roster/roster/internal/query"
)

const employeeColumns = "id, emp_id, emp_name, designation, created_at, updated_at"

var EmployeeFields = query.FieldSet{
	Filters: []query.Filter{
		{Param: "designation", Column: "designation"},
		{Param: "emp_id", Column: "emp_id"},
	},
	Search:          []string{"emp_name", "designation"},
	Ordering:        []string{"id", "emp_id", "emp_name", "designation", "created_at"},
	DefaultOrdering: []string{"id"},
}

func scanEmployee(row pgx.Row) (model.Employee, error) {
	var e model.Employee
	err := row.Scan(&e.ID, &e.EmpID, &e.EmpName, &e.Designation, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

func (r *Repository) CreateEmployee(ctx context.Context, in model.EmployeeInput) (*model.Employee, error) {
	q := `
		INSERT INTO employees (emp_id, emp_name, designation)
		VALUES ($1, $2, $3)
		RETURNING ` + employeeColumns

	e, err := scanEmployee(r.pool.QueryRow(ctx, q, in.EmpID, in.EmpName, in.Designation))
	return one(e, err, "create employee")
}

func (r *Repository) GetEmployee(ctx context.Context, id int64) (*model.Employee, error) {
	q := `SELECT ` + employeeColumns + ` FROM employees WHERE id = $1`

	e, err := scanEmployee(r.pool.QueryRow(ctx, q, id))
	return one(e, err, "get employee")
}

func (r *Repository) UpdateEmployee(ctx context.Context, id int64, in model.EmployeeInput) (*model.Employee, error) {
	q := `
		UPDATE employees
		SET emp_id = $2, emp_name = $3, designation = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + employeeColumns

	e, err := scanEmployee(r.pool.QueryRow(ctx, q, id, in.EmpID, in.EmpName, in.Designation))
	return one(e, err, "update employee")
}

func (r *Repository) DeleteEmployee(ctx context.Context, id int64) error {
	return deleteByID(ctx, r.pool, "employees", id)
}

func (r *Repository) ListEmployees(ctx context.Context, p *query.Params) (query.Result[model.Employee], error) {
	return list(ctx, r.pool, "employees", employeeColumns, p, scanEmployee)
}
