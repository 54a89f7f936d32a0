package service

import (
	"context"
	"fmt"

	"github.com/roster/roster/internal/model"
	"github.com/roster/roster/internal/query"
)

// BlogStore persists blogs and their comments.
type BlogStore interface {
	CreateBlog(ctx context.Context, in model.BlogInput) (*model.Blog, error)
	GetBlog(ctx context.Context, id int64) (*model.Blog, error)
	UpdateBlog(ctx context.Context, id int64, in model.BlogInput) (*model.Blog, error)
	DeleteBlog(ctx context.Context, id int64) error
	ListBlogs(ctx context.Context, p *query.Params) (query.Result[model.Blog], error)
	ListBlogComments(ctx context.Context, blogID int64) ([]model.Comment, error)
}

// BlogService handles blog business logic.
type BlogService struct {
	store BlogStore
	crud  crud[model.Blog, model.BlogInput]
}

// NewBlogService creates a new BlogService.
func NewBlogService(store BlogStore, dispatcher Dispatcher) *BlogService {
	return &BlogService{
		store: store,
		crud: crud[model.Blog, model.BlogInput]{
			resource: model.ResourceBlog,
			notFound: ErrBlogNotFound,
			signals:  dispatcher,
			create:   store.CreateBlog,
			get:      store.GetBlog,
			update:   store.UpdateBlog,
			remove:   store.DeleteBlog,
			id:       func(b *model.Blog) int64 { return b.ID },
		},
	}
}

// List returns one page of blogs without their comments.
func (s *BlogService) List(ctx context.Context, p *query.Params) (query.Result[model.Blog], error) {
	res, err := s.store.ListBlogs(ctx, p)
	if err != nil {
		return res, fmt.Errorf("failed to list blogs: %w", err)
	}
	return res, nil
}

// Get returns a blog with its comments ordered by id.
func (s *BlogService) Get(ctx context.Context, id int64) (*model.Blog, error) {
	b, err := s.crud.fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.withComments(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *BlogService) withComments(ctx context.Context, b *model.Blog) error {
	comments, err := s.store.ListBlogComments(ctx, b.ID)
	if err != nil {
		return fmt.Errorf("failed to load comments of blog %d: %w", b.ID, err)
	}
	b.Comments = comments
	return nil
}

func (s *BlogService) Create(ctx context.Context, patch model.BlogPatch) (*model.Blog, error) {
	in := patch.Apply(&model.Blog{})
	if err := validated(false, patch, &in); err != nil {
		return nil, err
	}
	return s.crud.insert(ctx, in)
}

func (s *BlogService) Update(ctx context.Context, id int64, patch model.BlogPatch, partial bool) (*model.Blog, error) {
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

// Delete removes a blog and, through the foreign key, its comments. The
// comments are loaded first so post_delete receivers see them.
func (s *BlogService) Delete(ctx context.Context, id int64) error {
	cur, err := s.crud.fetch(ctx, id)
	if err != nil {
		return err
	}
	if err := s.withComments(ctx, cur); err != nil {
		return err
	}
	return s.crud.destroy(ctx, cur)
}

// CommentStore persists comments.
type CommentStore interface {
	CreateComment(ctx context.Context, in model.CommentInput) (*model.Comment, error)
	GetComment(ctx context.Context, id int64) (*model.Comment, error)
	UpdateComment(ctx context.Context, id int64, in model.CommentInput) (*model.Comment, error)
	DeleteComment(ctx context.Context, id int64) error
	ListComments(ctx context.Context, p *query.Params) (query.Result[model.Comment], error)
}

// CommentService handles comment business logic.
type CommentService struct {
	store CommentStore
	crud  crud[model.Comment, model.CommentInput]
}

// NewCommentService creates a new CommentService.
func NewCommentService(store CommentStore, dispatcher Dispatcher) *CommentService {
	return &CommentService{
		store: store,
		crud: crud[model.Comment, model.CommentInput]{
			resource: model.ResourceComment,
			notFound: ErrCommentNotFound,
			signals:  dispatcher,
			create:   store.CreateComment,
			get:      store.GetComment,
			update:   store.UpdateComment,
			remove:   store.DeleteComment,
			id:       func(c *model.Comment) int64 { return c.ID },
			refs: func(in model.CommentInput) map[string]int64 {
				return map[string]int64{"blog": in.BlogID}
			},
		},
	}
}

// List returns one page of comments, optionally filtered by blog.
func (s *CommentService) List(ctx context.Context, p *query.Params) (query.Result[model.Comment], error) {
	res, err := s.store.ListComments(ctx, p)
	if err != nil {
		return res, fmt.Errorf("failed to list comments: %w", err)
	}
	return res, nil
}

func (s *CommentService) Get(ctx context.Context, id int64) (*model.Comment, error) {
	return s.crud.fetch(ctx, id)
}

// Create inserts a comment. An unknown blog is reported on the blog field.
func (s *CommentService) Create(ctx context.Context, patch model.CommentPatch) (*model.Comment, error) {
	in := patch.Apply(&model.Comment{})
	if err := validated(false, patch, &in); err != nil {
		return nil, err
	}
	return s.crud.insert(ctx, in)
}

// Update may move a comment to another blog; receivers get the old comment
// as Previous.
func (s *CommentService) Update(ctx context.Context, id int64, patch model.CommentPatch, partial bool) (*model.Comment, error) {
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

func (s *CommentService) Delete(ctx context.Context, id int64) error {
	cur, err := s.crud.fetch(ctx, id)
	if err != nil {
		return err
	}
	return s.crud.destroy(ctx, cur)
}
