// Package serializer decodes request bodies and reports validation failures
// as a field-to-messages map.
package serializer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	ErrInvalidJSON  = errors.New("invalid JSON body")
	ErrBodyTooLarge = errors.New("request body too large")
	ErrEmptyBody    = errors.New("request body is empty")
)

// Standard field messages.
const (
	MsgRequired = "This field is required."
	MsgBlank    = "This field may not be blank."
	MsgNull     = "This field may not be null."
)

// FieldErrors maps JSON field names to messages.
type FieldErrors map[string][]string

// Add appends a message for field.
func (fe FieldErrors) Add(field, msg string) {
	fe[field] = append(fe[field], msg)
}

// Merge copies other into fe.
func (fe FieldErrors) Merge(other FieldErrors) {
	for field, msgs := range other {
		fe[field] = append(fe[field], msgs...)
	}
}

// ValidationError carries field errors through the service layer.
type ValidationError struct {
	Fields FieldErrors
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Fields))
	for f := range e.Fields {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return "validation failed: " + strings.Join(fields, ", ")
}

// Invalid wraps fe as an error. It returns nil when fe is empty.
func Invalid(fe FieldErrors) error {
	if len(fe) == 0 {
		return nil
	}
	return &ValidationError{Fields: fe}
}

// FieldError builds a single-field validation error.
func FieldError(field, msg string) error {
	return &ValidationError{Fields: FieldErrors{field: {msg}}}
}

// UniqueMessage is the message for a unique constraint violation.
func UniqueMessage(resource, field string) string {
	return fmt.Sprintf("%s with this %s already exists.", resource, field)
}

// DoesNotExistMessage is the message for a dangling primary key reference.
func DoesNotExistMessage(pk int64) string {
	return fmt.Sprintf("Invalid pk \"%d\" - object does not exist.", pk)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// Normalize trims surrounding whitespace from the string and *string fields
// of the struct dst points to. Other values are left alone.
func Normalize(dst any) {
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return
	}
	v = v.Elem()
	for i := 0; i < v.NumField(); i++ {
		f := v.Field(i)
		if !f.CanSet() {
			continue
		}
		switch {
		case f.Kind() == reflect.String:
			f.SetString(strings.TrimSpace(f.String()))
		case f.Kind() == reflect.Pointer && !f.IsNil() && f.Elem().Kind() == reflect.String:
			f.Elem().SetString(strings.TrimSpace(f.Elem().String()))
		}
	}
}

// trimmed returns v with its string fields trimmed. Pointers are normalized
// in place; struct values are copied first.
func trimmed(v any) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		Normalize(v)
		return v
	case reflect.Struct:
		cp := reflect.New(rv.Type())
		cp.Elem().Set(rv)
		Normalize(cp.Interface())
		return cp.Interface()
	}
	return v
}

// Validate runs the struct's validate tags against the trimmed values, so a
// whitespace-only string is blank. It returns nil when v is valid.
func Validate(v any) FieldErrors {
	err := validate.Struct(trimmed(v))
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return FieldErrors{"non_field_errors": {err.Error()}}
	}

	fe := make(FieldErrors, len(verrs))
	for _, e := range verrs {
		fe.Add(e.Field(), message(e))
	}
	return fe
}

func message(e validator.FieldError) string {
	isString := e.Kind() == reflect.String

	switch e.Tag() {
	case "required":
		if isString {
			return MsgBlank
		}
		return MsgRequired
	case "max":
		if isString {
			return fmt.Sprintf("Ensure this field has no more than %s characters.", e.Param())
		}
		return fmt.Sprintf("Ensure this value is less than or equal to %s.", e.Param())
	case "min":
		if isString {
			return fmt.Sprintf("Ensure this field has at least %s characters.", e.Param())
		}
		return fmt.Sprintf("Ensure this value is greater than or equal to %s.", e.Param())
	case "oneof":
		return fmt.Sprintf("\"%v\" is not a valid choice.", e.Value())
	case "url", "http_url":
		return "Enter a valid URL."
	case "email":
		return "Enter a valid email address."
	default:
		return "Invalid value."
	}
}

// Required reports every nil pointer field of a partial struct as missing.
// It is used for create and full update, where all writable fields must be sent.
func Required(partial any) FieldErrors {
	v := reflect.Indirect(reflect.ValueOf(partial))
	if v.Kind() != reflect.Struct {
		return nil
	}

	var fe FieldErrors
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Type.Kind() != reflect.Pointer || !v.Field(i).IsNil() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		if fe == nil {
			fe = FieldErrors{}
		}
		fe.Add(name, MsgRequired)
	}
	return fe
}

// ValidateFull checks a create or full update: every field of partial must be
// present and the merged input must be valid. Missing fields are reported once.
func ValidateFull(partial, input any) FieldErrors {
	fe := Required(partial)
	for field, msgs := range Validate(input) {
		if _, missing := fe[field]; missing {
			continue
		}
		if fe == nil {
			fe = FieldErrors{}
		}
		fe[field] = append(fe[field], msgs...)
	}
	return fe
}

// Decode reads a JSON object into dst. Unknown fields, trailing data and
// malformed JSON yield ErrInvalidJSON; type mismatches and explicit nulls
// become field errors.
func Decode(r *http.Request, dst any) error {
	var raw json.RawMessage
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&raw); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return ErrEmptyBody
		case errors.As(err, &maxErr):
			return ErrBodyTooLarge
		default:
			return fmt.Errorf("%w: %s", ErrInvalidJSON, err.Error())
		}
	}
	if dec.More() {
		return fmt.Errorf("%w: unexpected data after JSON object", ErrInvalidJSON)
	}

	strict := json.NewDecoder(bytes.NewReader(raw))
	strict.DisallowUnknownFields()
	if err := strict.Decode(dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return FieldError(typeErr.Field, typeMessage(typeErr.Type.Kind()))
		}
		return fmt.Errorf("%w: %s", ErrInvalidJSON, err.Error())
	}
	return Invalid(nullFields(raw))
}

// nullFields reports every top-level member of a JSON object set to null.
func nullFields(raw json.RawMessage) FieldErrors {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	var fe FieldErrors
	for field, v := range obj {
		if !bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			continue
		}
		if fe == nil {
			fe = FieldErrors{}
		}
		fe.Add(field, MsgNull)
	}
	return fe
}

func typeMessage(k reflect.Kind) string {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return "A valid integer is required."
	case reflect.Bool:
		return "Must be a valid boolean."
	case reflect.String:
		return "Not a valid string."
	case reflect.Slice:
		return "Expected a list of items."
	default:
		return "Invalid value."
	}
}
