package serializer

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roster/roster/internal/model"
)

func TestValidate_StudentInput(t *testing.T) {
	tests := []struct {
		name  string
		input model.StudentInput
		want  FieldErrors
	}{
		{
			name:  "valid",
			input: model.StudentInput{StudentID: "S100", Name: "Asha", Branch: "CSE"},
			want:  nil,
		},
		{
			name:  "blank fields",
			input: model.StudentInput{StudentID: "S100"},
			want: FieldErrors{
				"name":   {MsgBlank},
				"branch": {MsgBlank},
			},
		},
		{
			name:  "too long",
			input: model.StudentInput{StudentID: strings.Repeat("x", 21), Name: "Asha", Branch: "CSE"},
			want: FieldErrors{
				"student_id": {"Ensure this field has no more than 20 characters."},
			},
		},
		{
			name:  "whitespace only is blank",
			input: model.StudentInput{StudentID: "   ", Name: "\t", Branch: "  "},
			want: FieldErrors{
				"student_id": {MsgBlank},
				"name":       {MsgBlank},
				"branch":     {MsgBlank},
			},
		},
		{
			name:  "length counted after trimming",
			input: model.StudentInput{StudentID: "  " + strings.Repeat("x", 20) + "  ", Name: "Asha", Branch: "CSE"},
			want:  nil,
		},
		{
			name:  "multibyte counted as characters",
			input: model.StudentInput{StudentID: strings.Repeat("é", 20), Name: "Asha", Branch: "CSE"},
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Validate(tt.input))
		})
	}
}

func TestValidate_DoesNotModifyValue(t *testing.T) {
	in := model.StudentInput{StudentID: " S1 ", Name: "Asha", Branch: "CSE"}
	require.Nil(t, Validate(in))
	assert.Equal(t, " S1 ", in.StudentID)

	require.Nil(t, Validate(&in))
	assert.Equal(t, "S1", in.StudentID, "pointers are trimmed in place")
}

func TestNormalize(t *testing.T) {
	title, body := "  Hello  ", "\n World \t"
	patch := model.BlogPatch{BlogTitle: &title, BlogBody: &body}
	Normalize(&patch)
	assert.Equal(t, "Hello", *patch.BlogTitle)
	assert.Equal(t, "World", *patch.BlogBody)

	in := model.CommentInput{BlogID: 3, Comment: " abc "}
	Normalize(&in)
	assert.Equal(t, model.CommentInput{BlogID: 3, Comment: "abc"}, in)

	var missing model.StudentPatch
	Normalize(&missing)
	assert.Nil(t, missing.Name)
	assert.NotPanics(t, func() { Normalize(in) })
}

func TestValidate_CommentRequiresBlog(t *testing.T) {
	fe := Validate(model.CommentInput{Comment: "hi"})
	assert.Equal(t, FieldErrors{"blog": {MsgRequired}}, fe)
}

func TestValidate_OneOf(t *testing.T) {
	fe := Validate(model.APIKeyCreateRequest{RateLimitTier: "gold"})
	assert.Equal(t, FieldErrors{"rate_limit_tier": {`"gold" is not a valid choice.`}}, fe)
}

func TestRequired(t *testing.T) {
	name := "Asha"
	fe := Required(&model.StudentPatch{Name: &name})
	assert.Equal(t, FieldErrors{
		"student_id": {MsgRequired},
		"branch":     {MsgRequired},
	}, fe)

	assert.Nil(t, Required(model.BlogPatch{BlogTitle: &name, BlogBody: &name}))
}

func TestInvalid(t *testing.T) {
	assert.NoError(t, Invalid(nil))
	assert.NoError(t, Invalid(FieldErrors{}))

	err := Invalid(FieldErrors{"b": {"x"}, "a": {"y"}})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "validation failed: a, b", verr.Error())
}

func TestFieldErrors_Merge(t *testing.T) {
	fe := FieldErrors{"name": {"one"}}
	fe.Merge(FieldErrors{"name": {"two"}, "branch": {"three"}})
	assert.Equal(t, FieldErrors{"name": {"one", "two"}, "branch": {"three"}}, fe)
}

func TestMessages(t *testing.T) {
	assert.Equal(t, "student with this student_id already exists.", UniqueMessage("student", "student_id"))
	assert.Equal(t, `Invalid pk "42" - object does not exist.`, DoesNotExistMessage(42))
}

func newRequest(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/api/students/", strings.NewReader(body))
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantErr    error
		wantFields FieldErrors
	}{
		{name: "valid", body: `{"name":"Asha"}`},
		{name: "empty body", body: ``, wantErr: ErrEmptyBody},
		{name: "malformed", body: `{"name":`, wantErr: ErrInvalidJSON},
		{name: "unknown field", body: `{"nickname":"A"}`, wantErr: ErrInvalidJSON},
		{name: "trailing data", body: `{"name":"A"} {}`, wantErr: ErrInvalidJSON},
		{name: "wrong type", body: `{"name":5}`, wantFields: FieldErrors{"name": {"Not a valid string."}}},
		{name: "explicit null", body: `{"name":null,"branch":null}`, wantFields: FieldErrors{
			"name":   {MsgNull},
			"branch": {MsgNull},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var dst model.StudentPatch
			err := Decode(newRequest(tt.body), &dst)

			switch {
			case tt.wantErr != nil:
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			case tt.wantFields != nil:
				var verr *ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Equal(t, tt.wantFields, verr.Fields)
			default:
				require.NoError(t, err)
				require.NotNil(t, dst.Name)
				assert.Equal(t, "Asha", *dst.Name)
			}
		})
	}
}

func TestDecode_BodyTooLarge(t *testing.T) {
	req := newRequest(`{"name":"` + strings.Repeat("a", 100) + `"}`)
	req.Body = http.MaxBytesReader(httptest.NewRecorder(), req.Body, 16)

	var dst model.StudentPatch
	assert.ErrorIs(t, Decode(req, &dst), ErrBodyTooLarge)
}

func TestValidateFull(t *testing.T) {
	blank, long := "", strings.Repeat("x", 101)
	patch := model.StudentPatch{StudentID: &blank, Name: &long}
	fe := ValidateFull(patch, patch.Apply(&model.Student{}))

	assert.Equal(t, FieldErrors{
		"student_id": {MsgBlank},
		"name":       {"Ensure this field has no more than 100 characters."},
		"branch":     {MsgRequired},
	}, fe)

	ok := "x"
	full := model.StudentPatch{StudentID: &ok, Name: &ok, Branch: &ok}
	assert.Nil(t, ValidateFull(full, full.Apply(&model.Student{})))
}
