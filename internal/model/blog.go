package model

import "time"

// Blog is a post with an optional set of comments.
// Comments is only populated on retrieve.
type Blog struct {
	ID        int64     `json:"id"`
	BlogTitle string    `json:"blog_title"`
	BlogBody  string    `json:"blog_body"`
	Comments  []Comment `json:"comments,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (b Blog) CursorPosition() (time.Time, int64) { return b.CreatedAt, b.ID }

// BlogDetail is the retrieve representation. Comments is always present,
// empty when the blog has none.
type BlogDetail struct {
	Blog
	Comments []Comment `json:"comments"`
}

// Detail returns the retrieve representation of b.
func (b *Blog) Detail() BlogDetail {
	comments := b.Comments
	if comments == nil {
		comments = []Comment{}
	}
	return BlogDetail{Blog: *b, Comments: comments}
}

type BlogInput struct {
	BlogTitle string `json:"blog_title" validate:"required,max=200"`
	BlogBody  string `json:"blog_body" validate:"required"`
}

type BlogPatch struct {
	BlogTitle *string `json:"blog_title"`
	BlogBody  *string `json:"blog_body"`
}

func (p BlogPatch) Apply(b *Blog) BlogInput {
	in := BlogInput{BlogTitle: b.BlogTitle, BlogBody: b.BlogBody}
	if p.BlogTitle != nil {
		in.BlogTitle = *p.BlogTitle
	}
	if p.BlogBody != nil {
		in.BlogBody = *p.BlogBody
	}
	return in
}

// Comment belongs to a blog and is removed with it.
type Comment struct {
	ID        int64     `json:"id"`
	BlogID    int64     `json:"blog"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
}

func (c Comment) CursorPosition() (time.Time, int64) { return c.CreatedAt, c.ID }

type CommentInput struct {
	BlogID  int64  `json:"blog" validate:"required"`
	Comment string `json:"comment" validate:"required,max=1000"`
}

type CommentPatch struct {
	BlogID  *int64  `json:"blog"`
	Comment *string `json:"comment"`
}

func (p CommentPatch) Apply(c *Comment) CommentInput {
	in := CommentInput{BlogID: c.BlogID, Comment: c.Comment}
	if p.BlogID != nil {
		in.BlogID = *p.BlogID
	}
	if p.Comment != nil {
		in.Comment = *p.Comment
	}
	return in
}
