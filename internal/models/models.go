package models

import (
	"time"

	"news/internal/tags"
)

type Post struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	URL          *string    `json:"url"`
	Body         *string    `json:"body"`
	Author       string     `json:"author"`
	AuthorID     string     `json:"-"`
	CommentCount int        `json:"commentCount"`
	CreatedAt    time.Time  `json:"createdAt"`
	Tags         []tags.Tag `json:"tags"`
}

type Comment struct {
	ID        string    `json:"id"`
	PostID    string    `json:"postId"`
	ParentID  *string   `json:"parentId"`
	Author    string    `json:"author"`
	AuthorID  string    `json:"-"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// PostFilter narrows ListPosts and CountPosts. Zero values mean no filter.
type PostFilter struct {
	// Category is a mandatory tag slug; empty or "new" lists every post.
	Category string
	// AnyTags keeps posts carrying at least one of these slugs.
	AnyTags  []string
	AuthorID string
}
