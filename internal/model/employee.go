package model

import "time"

// Employee is a staff member.
type Employee struct {
	ID          int64     `json:"id"`
	EmpID       string    `json:"emp_id"`
	EmpName     string    `json:"emp_name"`
	Designation string    `json:"designation"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (e Employee) CursorPosition() (time.Time, int64) { return e.CreatedAt, e.ID }

type EmployeeInput struct {
	EmpID       string `json:"emp_id" validate:"required,max=20"`
	EmpName     string `json:"emp_name" validate:"required,max=100"`
	Designation string `json:"designation" validate:"required,max=50"`
}

type EmployeePatch struct {
	EmpID       *string `json:"emp_id"`
	EmpName     *string `json:"emp_name"`
	Designation *string `json:"designation"`
}

func (p EmployeePatch) Apply(e *Employee) EmployeeInput {
	in := EmployeeInput{EmpID: e.EmpID, EmpName: e.EmpName, Designation: e.Designation}
	if p.EmpID != nil {
		in.EmpID = *p.EmpID
	}
	if p.EmpName != nil {
		in.EmpName = *p.EmpName
	}
	if p.Designation != nil {
		in.Designation = *p.Designation
	}
	return in
}
