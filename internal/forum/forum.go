// Package forum implements the post, comment and tag use cases on top of the
// relational store. Every rule that protects stored data (tag selection,
// category permissions, comment parents) is enforced here, at the point of
// mutation, whatever the caller has already checked.
package forum

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"news/internal/comments"
	"news/internal/db"
	"news/internal/models"
	"news/internal/pagination"
	"news/internal/permissions"
	"news/internal/tags"
)

type Service struct {
	db          *db.DB
	taxonomy    *tags.Taxonomy
	permissions *permissions.Resolver
	now         func() time.Time
}

func New(database *db.DB, taxonomy *tags.Taxonomy, resolver *permissions.Resolver) *Service {
	return &Service{
		db:          database,
		taxonomy:    taxonomy,
		permissions: resolver,
		now:         time.Now,
	}
}

// WithClock replaces the clock used for created_at timestamps.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Taxonomy() *tags.Taxonomy { return s.taxonomy }

// Author identifies the signed-in user behind a write.
type Author struct {
	ID   string
	Name string
}

func (a Author) name() (string, error) {
	name := strings.TrimSpace(a.Name)
	if name == "" {
		return "", invalid("user profile missing name")
	}
	return name, nil
}

// NewPost is the caller-supplied part of a post.
type NewPost struct {
	Title string   `json:"title"`
	URL   string   `json:"url"`
	Body  string   `json:"body"`
	Tags  []string `json:"tags"`
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

func checkLink(raw *string) error {
	if raw == nil {
		return nil
	}
	u, err := url.Parse(*raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid("url must be an absolute http or https address")
	}
	return nil
}

// resolveSelection turns requested slugs into stored tags and applies the
// per-post tag rules.
func (s *Service) resolveSelection(ctx context.Context, requested []string) ([]tags.Tag, tags.Tag, error) {
	slugs := tags.NormalizeSlugs(requested)
	if len(slugs) == 0 {
		return nil, tags.Tag{}, invalid("tags are required")
	}
	for _, slug := range slugs {
		if !tags.IsValidSlug(slug) {
			return nil, tags.Tag{}, invalid("invalid tag slug %q", slug)
		}
	}
	selected, err := models.GetTagsBySlugs(ctx, s.db, slugs)
	if err != nil {
		return nil, tags.Tag{}, err
	}
	if len(selected) != len(slugs) {
		return nil, tags.Tag{}, invalid("unknown tag")
	}
	mandatory, err := s.taxonomy.CheckSelection(selected)
	var tagErr *tags.ValidationError
	if errors.As(err, &tagErr) {
		return nil, tags.Tag{}, invalid("%s", tagErr.Msg)
	}
	if err != nil {
		return nil, tags.Tag{}, err
	}
	return selected, mandatory, nil
}

// CreatePost validates and stores a post authored by author.
func (s *Service) CreatePost(ctx context.Context, author Author, in NewPost) (*models.Post, error) {
	name, err := author.name()
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, invalid("title is required")
	}
	link := optional(in.URL)
	if err := checkLink(link); err != nil {
		return nil, err
	}
	selected, mandatory, err := s.resolveSelection(ctx, in.Tags)
	if err != nil {
		return nil, err
	}
	perms, err := s.permissions.Permissions(ctx, author.ID)
	if err != nil {
		return nil, err
	}
	if !perms.Allows(mandatory.Slug) {
		return nil, fail(ErrForbidden, fmt.Sprintf("not authorized to post in %s", mandatory.Name))
	}

	post := models.Post{
		ID:        models.NewID(),
		Title:     title,
		URL:       link,
		Body:      optional(in.Body),
		Author:    name,
		AuthorID:  author.ID,
		CreatedAt: s.now().UTC(),
		Tags:      selected,
	}
	var created *models.Post
	err = s.db.WithTx(ctx, func(tx *db.Tx) error {
		if err := models.InsertPost(ctx, tx, post); err != nil {
			return err
		}
		var err error
		created, err = models.GetPost(ctx, tx, post.ID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}
	if created == nil {
		return nil, fmt.Errorf("create post: row %s vanished", post.ID)
	}
	return created, nil
}

// ListOptions selects a page of posts.
type ListOptions struct {
	// Feed is "new" or a core slug. Empty means "new".
	Feed string
	Tags []string
	// AuthorID restricts the listing to one author's posts.
	AuthorID string
	Page     int
	PageSize int
}

// ListPosts returns one page of posts, newest first.
func (s *Service) ListPosts(ctx context.Context, opts ListOptions) (pagination.Page[models.Post], error) {
	feed := tags.NormalizeSlug(opts.Feed)
	if feed == "" {
		feed = tags.FeedNew
	}
	if !s.taxonomy.IsFeed(feed) {
		return pagination.Page[models.Post]{}, invalid("invalid feed")
	}
	filter := models.PostFilter{Category: feed, AuthorID: opts.AuthorID}

	if requested := tags.NormalizeSlugs(opts.Tags); len(requested) > 0 {
		known, err := models.GetTagsBySlugs(ctx, s.db, requested)
		if err != nil {
			return pagination.Page[models.Post]{}, err
		}
		if len(known) != len(requested) {
			return pagination.Page[models.Post]{}, invalid("unknown tag in filter")
		}
		for _, tag := range known {
			// A core feed already fixes the mandatory tag, so only
			// optional tags narrow it further.
			if feed != tags.FeedNew && tag.Kind != tags.KindOptional {
				continue
			}
			filter.AnyTags = append(filter.AnyTags, tag.Slug)
		}
	}

	page := max(opts.Page, 1)
	size := opts.PageSize
	if size <= 0 {
		size = pagination.DefaultPageSize
	}
	size = min(size, pagination.MaxPageSize)

	total, err := models.CountPosts(ctx, s.db, filter)
	if err != nil {
		return pagination.Page[models.Post]{}, err
	}
	items, err := models.ListPosts(ctx, s.db, filter, size, pagination.Offset(page, size))
	if err != nil {
		return pagination.Page[models.Post]{}, err
	}
	return pagination.NewPage(items, page, size, total), nil
}

func (s *Service) GetPost(ctx context.Context, id string) (*models.Post, error) {
	post, err := models.GetPost(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if post == nil {
		return nil, fail(ErrNotFound, "post not found")
	}
	return post, nil
}

// NewComment is the caller-supplied part of a comment.
type NewComment struct {
	Body     string  `json:"body"`
	ParentID *string `json:"parentId"`
}

// CreateComment stores a comment on postID. A parent, when given, must be
// a comment of the same post.
func (s *Service) CreateComment(ctx context.Context, author Author, postID string, in NewComment) (*models.Comment, error) {
	name, err := author.name()
	if err != nil {
		return nil, err
	}
	body := strings.TrimSpace(in.Body)
	if body == "" {
		return nil, invalid("comment body is required")
	}
	var parentID *string
	if in.ParentID != nil {
		parentID = optional(*in.ParentID)
	}

	comment := models.Comment{
		ID:        models.NewID(),
		PostID:    postID,
		ParentID:  parentID,
		Author:    name,
		AuthorID:  author.ID,
		Body:      body,
		CreatedAt: s.now().UTC(),
	}
	err = s.db.WithTx(ctx, func(tx *db.Tx) error {
		post, err := models.GetPost(ctx, tx, postID)
		if err != nil {
			return err
		}
		if post == nil {
			return fail(ErrNotFound, "post not found")
		}
		if parentID != nil {
			parent, err := models.GetComment(ctx, tx, *parentID)
			if err != nil {
				return err
			}
			if parent == nil || parent.PostID != postID {
				return invalid("parent comment not found on this post")
			}
		}
		return models.InsertComment(ctx, tx, comment)
	})
	if err != nil {
		return nil, err
	}
	return &comment, nil
}

// ListComments returns the comment forest of a post.
func (s *Service) ListComments(ctx context.Context, postID string) ([]*comments.Node, error) {
	if _, err := s.GetPost(ctx, postID); err != nil {
		return nil, err
	}
	list, err := models.ListComments(ctx, s.db, postID)
	if err != nil {
		return nil, err
	}
	return comments.BuildTree(list), nil
}
