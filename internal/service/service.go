// Package service holds the business rules for the roster resources: request
// validation, lifecycle signals and the mapping of storage errors onto fields.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/roster/roster/internal/repository"
	"github.com/roster/roster/internal/serializer"
	"github.com/roster/roster/internal/signals"
)

// Service errors.
var (
	ErrStudentNotFound  = errors.New("student not found")
	ErrEmployeeNotFound = errors.New("employee not found")
	ErrBlogNotFound     = errors.New("blog not found")
	ErrCommentNotFound  = errors.New("comment not found")
)

// Dispatcher sends lifecycle signals.
type Dispatcher interface {
	Send(ctx context.Context, sig signals.Signal, ev signals.Event) error
	SendRobust(ctx context.Context, sig signals.Signal, ev signals.Event) error
}

// crud runs the save and delete lifecycle shared by every resource:
// validate, pre_* signal, store call, post_* signal. pre_* receivers abort the
// operation; post_* failures are logged by the dispatcher and ignored.
type crud[T any, In any] struct {
	resource string
	notFound error
	signals  Dispatcher

	create func(ctx context.Context, in In) (*T, error)
	get    func(ctx context.Context, id int64) (*T, error)
	update func(ctx context.Context, id int64, in In) (*T, error)
	remove func(ctx context.Context, id int64) error
	id     func(*T) int64
	// refs reports foreign key values of in by API field, for error messages.
	refs func(in In) map[string]int64
}

func (c *crud[T, In]) fetch(ctx context.Context, id int64) (*T, error) {
	v, err := c.get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, c.notFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", c.resource, err)
	}
	return v, nil
}

func (c *crud[T, In]) insert(ctx context.Context, in In) (*T, error) {
	if err := c.signals.Send(ctx, signals.PreSave, signals.Event{Sender: c.resource, Instance: &in}); err != nil {
		return nil, err
	}

	v, err := c.create(ctx, in)
	if err != nil {
		return nil, c.storeError(err, in, "create")
	}

	_ = c.signals.SendRobust(ctx, signals.PostSave, signals.Event{
		Sender:   c.resource,
		Instance: v,
		ID:       c.id(v),
		Created:  true,
	})
	return v, nil
}

func (c *crud[T, In]) save(ctx context.Context, prev *T, in In) (*T, error) {
	id := c.id(prev)
	if err := c.signals.Send(ctx, signals.PreSave, signals.Event{Sender: c.resource, Instance: &in, Previous: prev, ID: id}); err != nil {
		return nil, err
	}

	v, err := c.update(ctx, id, in)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, c.notFound
	}
	if err != nil {
		return nil, c.storeError(err, in, "update")
	}

	_ = c.signals.SendRobust(ctx, signals.PostSave, signals.Event{
		Sender:   c.resource,
		Instance: v,
		Previous: prev,
		ID:       id,
	})
	return v, nil
}

// destroy deletes v, which is also the post_delete instance.
func (c *crud[T, In]) destroy(ctx context.Context, v *T) error {
	id := c.id(v)
	ev := signals.Event{Sender: c.resource, Instance: v, ID: id}
	if err := c.signals.Send(ctx, signals.PreDelete, ev); err != nil {
		return err
	}

	err := c.remove(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return c.notFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", c.resource, err)
	}

	_ = c.signals.SendRobust(ctx, signals.PostDelete, ev)
	return nil
}

// storeError turns constraint violations into field errors.
func (c *crud[T, In]) storeError(err error, in In, op string) error {
	var ce *repository.ConstraintError
	if errors.As(err, &ce) && ce.Field != "" {
		switch {
		case errors.Is(ce.Err, repository.ErrDuplicate):
			return serializer.FieldError(ce.Field, serializer.UniqueMessage(c.resource, ce.Field))
		case errors.Is(ce.Err, repository.ErrInvalidReference) && c.refs != nil:
			if pk, ok := c.refs(in)[ce.Field]; ok {
				return serializer.FieldError(ce.Field, serializer.DoesNotExistMessage(pk))
			}
		}
	}
	return fmt.Errorf("failed to %s %s: %w", op, c.resource, err)
}

// validated returns the field errors of a create or update as an error. in
// points to the merged input; its strings are trimmed in place.
func validated(partial bool, patch, in any) error {
	if partial {
		return serializer.Invalid(serializer.Validate(in))
	}
	return serializer.Invalid(serializer.ValidateFull(patch, in))
}
