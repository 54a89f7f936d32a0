package model

import "time"

// Resource names. They double as signal senders and webhook event prefixes.
const (
	ResourceStudent  = "student"
	ResourceEmployee = "employee"
	ResourceBlog     = "blog"
	ResourceComment  = "comment"
)

// Resources lists every resource exposed over the API.
var Resources = []string{ResourceStudent, ResourceEmployee, ResourceBlog, ResourceComment}

// Student is an enrolled student.
type Student struct {
	ID        int64     `json:"id"`
	StudentID string    `json:"student_id"`
	Name      string    `json:"name"`
	Branch    string    `json:"branch"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CursorPosition returns the keyset position used by cursor pagination.
func (s Student) CursorPosition() (time.Time, int64) { return s.CreatedAt, s.ID }

// StudentInput carries the writable student fields after merging a request.
type StudentInput struct {
	StudentID string `json:"student_id" validate:"required,max=20"`
	Name      string `json:"name" validate:"required,max=100"`
	Branch    string `json:"branch" validate:"required,max=50"`
}

// StudentPatch is a partial update. Nil fields are left unchanged.
type StudentPatch struct {
	StudentID *string `json:"student_id"`
	Name      *string `json:"name"`
	Branch    *string `json:"branch"`
}

// Apply merges the patch onto the current values.
func (p StudentPatch) Apply(s *Student) StudentInput {
	in := StudentInput{StudentID: s.StudentID, Name: s.Name, Branch: s.Branch}
	if p.StudentID != nil {
		in.StudentID = *p.StudentID
	}
	if p.Name != nil {
		in.Name = *p.Name
	}
	if p.Branch != nil {
		in.Branch = *p.Branch
	}
	return in
}
