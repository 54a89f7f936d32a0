//go:build integration

package repository

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roster/roster/internal/model"
	"github.com/roster/roster/internal/query"
	"github.com/roster/roster/internal/testutil"
)

func newRosterTestEnv(t *testing.T) (context.Context, *Repository) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}
	pool, _ := testutil.NewPool(t)
	return context.Background(), NewFromPool(pool)
}

func params(t *testing.T, raw string, fs query.FieldSet, style query.Style) *query.Params {
	t.Helper()
	values, err := url.ParseQuery(raw)
	require.NoError(t, err)
	p, err := query.Parse(values, fs, query.Pagination{Style: style, PageSize: 2, MaxPageSize: 10})
	require.NoError(t, err)
	return p
}

func TestIntegrationStudents_CRUD(t *testing.T) {
	ctx, repo := newRosterTestEnv(t)

	s, err := repo.CreateStudent(ctx, model.StudentInput{StudentID: "S1", Name: "Ada", Branch: "CSE"})
	require.NoError(t, err)
	assert.Positive(t, s.ID)
	assert.False(t, s.CreatedAt.IsZero())

	_, err = repo.CreateStudent(ctx, model.StudentInput{StudentID: "S1", Name: "Bob", Branch: "ECE"})
	var ce *ConstraintError
	require.ErrorAs(t, err, &ce)
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Equal(t, "student_id", ce.Field)

	updated, err := repo.UpdateStudent(ctx, s.ID, model.StudentInput{StudentID: "S1", Name: "Ada L.", Branch: "CSE"})
	require.NoError(t, err)
	assert.Equal(t, "Ada L.", updated.Name)
	assert.False(t, updated.UpdatedAt.Before(s.UpdatedAt))

	require.NoError(t, repo.DeleteStudent(ctx, s.ID))
	_, err = repo.GetStudent(ctx, s.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.DeleteStudent(ctx, s.ID), ErrNotFound)
}

func TestIntegrationEmployees_ListFilters(t *testing.T) {
	ctx, repo := newRosterTestEnv(t)

	for _, in := range []model.EmployeeInput{
		{EmpID: "E1", EmpName: "Grace Hopper", Designation: "Manager"},
		{EmpID: "E2", EmpName: "Alan Turing", Designation: "Engineer"},
		{EmpID: "E3", EmpName: "Ada Lovelace", Designation: "Manager"},
	} {
		_, err := repo.CreateEmployee(ctx, in)
		require.NoError(t, err)
	}

	res, err := repo.ListEmployees(ctx, params(t, "designation=Manager&ordering=-emp_name", EmployeeFields, query.StylePage))
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	assert.Equal(t, int64(2), res.Count)
	assert.Equal(t, "Grace Hopper", res.Items[0].EmpName)

	res, err = repo.ListEmployees(ctx, params(t, "search=ada", EmployeeFields, query.StyleLimitOffset))
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "E3", res.Items[0].EmpID)

	res, err = repo.ListEmployees(ctx, params(t, "", EmployeeFields, query.StylePage))
	require.NoError(t, err)
	assert.Len(t, res.Items, 2, "page size")
	assert.Equal(t, int64(3), res.Count)
}

func TestIntegrationStudents_CursorPages(t *testing.T) {
	ctx, repo := newRosterTestEnv(t)

	for _, id := range []string{"S1", "S2", "S3", "S4", "S5"} {
		_, err := repo.CreateStudent(ctx, model.StudentInput{StudentID: id, Name: id, Branch: "CSE"})
		require.NoError(t, err)
	}

	var seen []string
	raw := ""
	for range 5 {
		res, err := repo.ListStudents(ctx, params(t, raw, StudentFields, query.StyleCursor))
		require.NoError(t, err)
		for _, s := range res.Items {
			seen = append(seen, s.StudentID)
		}
		env := res.Envelope(&url.URL{Scheme: "http", Host: "test", Path: "/api/students/"})
		if env.Next == nil {
			break
		}
		next, err := url.Parse(*env.Next)
		require.NoError(t, err)
		raw = next.RawQuery
	}

	assert.ElementsMatch(t, []string{"S1", "S2", "S3", "S4", "S5"}, seen)
	assert.Len(t, seen, 5, "no duplicates across cursor pages")
}

func TestIntegrationComments_BlogRelation(t *testing.T) {
	ctx, repo := newRosterTestEnv(t)

	blog, err := repo.CreateBlog(ctx, model.BlogInput{BlogTitle: "Hello", BlogBody: "World"})
	require.NoError(t, err)

	for _, text := range []string{"first", "second"} {
		_, err := repo.CreateComment(ctx, model.CommentInput{BlogID: blog.ID, Comment: text})
		require.NoError(t, err)
	}

	_, err = repo.CreateComment(ctx, model.CommentInput{BlogID: blog.ID + 1000, Comment: "orphan"})
	var ce *ConstraintError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.ErrorIs(t, err, ErrInvalidReference)
	assert.Equal(t, "blog", ce.Field)

	comments, err := repo.ListBlogComments(ctx, blog.ID)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "first", comments[0].Comment)

	res, err := repo.ListComments(ctx, params(t, "blog="+strconv.FormatInt(blog.ID, 10), CommentFields, query.StyleLimitOffset))
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Count)

	require.NoError(t, repo.DeleteBlog(ctx, blog.ID))
	_, err = repo.GetComment(ctx, comments[0].ID)
	assert.ErrorIs(t, err, ErrNotFound, "comments cascade with their blog")
}
