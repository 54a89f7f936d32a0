package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/roster/roster/internal/model"
	"github.com/roster/roster/internal/query"
)

const (
	blogColumns    = "id, blog_title, blog_body, created_at, updated_at"
	commentColumns = "id, blog_id, comment, created_at"
)

// BlogFields declares the blog list filters.
var BlogFields = query.FieldSet{
	Search:          []string{"blog_title", "blog_body"},
	Ordering:        []string{"id", "blog_title", "created_at", "updated_at"},
	DefaultOrdering: []string{"-created_at"},
}

// CommentFields declares the comment list filters. "blog" filters by blog id.
var CommentFields = query.FieldSet{
	Filters: []query.Filter{
		{Param: "blog", Column: "blog_id", Type: query.Int},
	},
	Search:          []string{"comment"},
	Ordering:        []string{"id", "created_at"},
	DefaultOrdering: []string{"id"},
}

func scanBlog(row pgx.Row) (model.Blog, error) {
	var b model.Blog
	err := row.Scan(&b.ID, &b.BlogTitle, &b.BlogBody, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

func scanComment(row pgx.Row) (model.Comment, error) {
	var c model.Comment
	err := row.Scan(&c.ID, &c.BlogID, &c.Comment, &c.CreatedAt)
	return c, err
}

func (r *Repository) CreateBlog(ctx context.Context, in model.BlogInput) (*model.Blog, error) {
	q := `
		INSERT INTO blogs (blog_title, blog_body)
		VALUES ($1, $2)
		RETURNING ` + blogColumns

	b, err := scanBlog(r.pool.QueryRow(ctx, q, in.BlogTitle, in.BlogBody))
	return one(b, err, "create blog")
}

func (r *Repository) GetBlog(ctx context.Context, id int64) (*model.Blog, error) {
	q := `SELECT ` + blogColumns + ` FROM blogs WHERE id = $1`

	b, err := scanBlog(r.pool.QueryRow(ctx, q, id))
	return one(b, err, "get blog")
}

func (r *Repository) UpdateBlog(ctx context.Context, id int64, in model.BlogInput) (*model.Blog, error) {
	q := `
		UPDATE blogs
		SET blog_title = $2, blog_body = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + blogColumns

	b, err := scanBlog(r.pool.QueryRow(ctx, q, id, in.BlogTitle, in.BlogBody))
	return one(b, err, "update blog")
}

// DeleteBlog removes a blog. Its comments go with it.
func (r *Repository) DeleteBlog(ctx context.Context, id int64) error {
	return deleteByID(ctx, r.pool, "blogs", id)
}

func (r *Repository) ListBlogs(ctx context.Context, p *query.Params) (query.Result[model.Blog], error) {
	return list(ctx, r.pool, "blogs", blogColumns, p, scanBlog)
}

// ListBlogComments returns every comment of a blog ordered by id.
func (r *Repository) ListBlogComments(ctx context.Context, blogID int64) ([]model.Comment, error) {
	q := `SELECT ` + commentColumns + ` FROM comments WHERE blog_id = $1 ORDER BY id`

	rows, err := r.pool.Query(ctx, q, blogID)
	if err != nil {
		return nil, fmt.Errorf("failed to list blog comments: %w", err)
	}
	defer rows.Close()

	comments := []model.Comment{}
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating comments: %w", err)
	}
	return comments, nil
}

func (r *Repository) CreateComment(ctx context.Context, in model.CommentInput) (*model.Comment, error) {
	q := `
		INSERT INTO comments (blog_id, comment)
		VALUES ($1, $2)
		RETURNING ` + commentColumns

	c, err := scanComment(r.pool.QueryRow(ctx, q, in.BlogID, in.Comment))
	return one(c, err, "create comment")
}

func (r *Repository) GetComment(ctx context.Context, id int64) (*model.Comment, error) {
	q := `SELECT ` + commentColumns + ` FROM comments WHERE id = $1`

	c, err := scanComment(r.pool.QueryRow(ctx, q, id))
	return one(c, err, "get comment")
}

func (r *Repository) UpdateComment(ctx context.Context, id int64, in model.CommentInput) (*model.Comment, error) {
	q := `
		UPDATE comments
		SET blog_id = $2, comment = $3
		WHERE id = $1
		RETURNING ` + commentColumns

	c, err := scanComment(r.pool.QueryRow(ctx, q, id, in.BlogID, in.Comment))
	return one(c, err, "update comment")
}

func (r *Repository) DeleteComment(ctx context.Context, id int64) error {
	return deleteByID(ctx, r.pool, "comments", id)
}

func (r *Repository) ListComments(ctx context.Context, p *query.Params) (query.Result[model.Comment], error) {
	return list(ctx, r.pool, "comments", commentColumns, p, scanComment)
}
