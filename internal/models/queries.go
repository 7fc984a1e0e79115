package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"news/internal/db"
	"news/internal/tags"
)

var ErrDuplicateSlug = errors.New("tag slug already exists")

// NewID returns a fresh entity id.
func NewID() string {
	return uuid.NewString()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func anySlice(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

// Roles

// GetRole returns the stored role for userID; found is false when there is
// no record.
func GetRole(ctx context.Context, q db.Querier, userID string) (string, bool, error) {
	var role string
	err := q.QueryRowContext(ctx, `SELECT role FROM roles WHERE id = ?`, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get role: %w", err)
	}
	return role, true, nil
}

func SetRole(ctx context.Context, q db.Querier, userID, role string) error {
	_, err := q.ExecContext(ctx, `INSERT INTO roles (id, role) VALUES (?, ?)
        ON CONFLICT (id) DO UPDATE SET role = excluded.role`, userID, role)
	if err != nil {
		return fmt.Errorf("set role: %w", err)
	}
	return nil
}

func DeleteRole(ctx context.Context, q db.Querier, userID string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM roles WHERE id = ?`, userID); err != nil {
		return fmt.Errorf("delete role: %w", err)
	}
	return nil
}

// Roles adapts the roles table to a single-method lookup.
type Roles struct {
	DB db.Querier
}

func (r Roles) Role(ctx context.Context, userID string) (string, bool, error) {
	return GetRole(ctx, r.DB, userID)
}

// Tags

// SeedCoreTags inserts the mandatory vocabulary, leaving existing rows alone.
func SeedCoreTags(ctx context.Context, q db.Querier, taxonomy *tags.Taxonomy, now time.Time) error {
	for _, c := range taxonomy.Core() {
		var description any
		if c.Description != "" {
			description = c.Description
		}
		_, err := q.ExecContext(ctx, `INSERT INTO tags (id, slug, name, description, kind, created_at)
            VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (slug) DO NOTHING`,
			NewID(), c.Slug, c.Name, description, string(tags.KindMandatory), millis(now))
		if err != nil {
			return fmt.Errorf("seed tag %s: %w", c.Slug, err)
		}
	}
	return nil
}

const tagColumns = `t.id, t.slug, t.name, t.description, t.kind`

func scanTag(row interface{ Scan(...any) error }, withUsage bool) (tags.Tag, error) {
	var tag tags.Tag
	var description sql.NullString
	var kind string
	dest := []any{&tag.ID, &tag.Slug, &tag.Name, &description, &kind}
	var usage int
	if withUsage {
		dest = append(dest, &usage)
	}
	if err := row.Scan(dest...); err != nil {
		return tags.Tag{}, err
	}
	tag.Description = nullString(description)
	tag.Kind = tags.Kind(kind)
	if withUsage {
		tag.UsageCount = &usage
	}
	return tag, nil
}

// ListTags returns tags with usage counts in display order. An empty kind
// lists both kinds.
func ListTags(ctx context.Context, q db.Querier, kind tags.Kind) ([]tags.Tag, error) {
	query := `SELECT ` + tagColumns + `, COUNT(pt.post_id) FROM tags t
        LEFT JOIN post_tags pt ON pt.tag_id = t.id`
	args := []any{}
	if kind != "" {
		query += ` WHERE t.kind = ?`
		args = append(args, string(kind))
	}
	query += ` GROUP BY t.id, t.slug, t.name, t.description, t.kind`
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()
	var out []tags.Tag
	for rows.Next() {
		tag, err := scanTag(rows, true)
		if err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		out = append(out, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tags.Sort(out), nil
}

// GetTagBySlug returns the tag with its usage count, or nil if none.
func GetTagBySlug(ctx context.Context, q db.Querier, slug string) (*tags.Tag, error) {
	row := q.QueryRowContext(ctx, `SELECT `+tagColumns+`,
        (SELECT COUNT(*) FROM post_tags pt WHERE pt.tag_id = t.id)
        FROM tags t WHERE t.slug = ?`, slug)
	tag, err := scanTag(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get tag: %w", err)
	}
	return &tag, nil
}

// GetTagsBySlugs returns the tags that exist among slugs, in display order.
func GetTagsBySlugs(ctx context.Context, q db.Querier, slugs []string) ([]tags.Tag, error) {
	if len(slugs) == 0 {
		return nil, nil
	}
	rows, err := q.QueryContext(ctx, `SELECT `+tagColumns+` FROM tags t WHERE t.slug IN (`+placeholders(len(slugs))+`)`,
		anySlice(slugs)...)
	if err != nil {
		return nil, fmt.Errorf("get tags: %w", err)
	}
	defer rows.Close()
	var out []tags.Tag
	for rows.Next() {
		tag, err := scanTag(rows, false)
		if err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		out = append(out, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tags.Sort(out), nil
}

func InsertTag(ctx context.Context, q db.Querier, tag tags.Tag, now time.Time) error {
	_, err := q.ExecContext(ctx, `INSERT INTO tags (id, slug, name, description, kind, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		tag.ID, tag.Slug, tag.Name, tag.Description, string(tag.Kind), millis(now))
	if isUniqueViolation(err) {
		return ErrDuplicateSlug
	}
	if err != nil {
		return fmt.Errorf("insert tag: %w", err)
	}
	return nil
}

// UpdateTag rewrites name, slug and description of the tag with id.
func UpdateTag(ctx context.Context, q db.Querier, id, name, slug string, description *string) error {
	_, err := q.ExecContext(ctx, `UPDATE tags SET name = ?, slug = ?, description = ? WHERE id = ?`,
		name, slug, description, id)
	if isUniqueViolation(err) {
		return ErrDuplicateSlug
	}
	if err != nil {
		return fmt.Errorf("update tag: %w", err)
	}
	return nil
}

func DeleteTag(ctx context.Context, q db.Querier, id string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM tags WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete tag: %w", err)
	}
	return nil
}

// Posts

// InsertPost writes the post row and its tag links.
func InsertPost(ctx context.Context, q db.Querier, p Post) error {
	_, err := q.ExecContext(ctx, `INSERT INTO posts (id, title, url, body, author, author_id, comment_count, created_at)
        VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		p.ID, p.Title, p.URL, p.Body, p.Author, p.AuthorID, millis(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert post: %w", err)
	}
	for _, tag := range p.Tags {
		if _, err := q.ExecContext(ctx, `INSERT INTO post_tags (post_id, tag_id) VALUES (?, ?)`, p.ID, tag.ID); err != nil {
			return fmt.Errorf("link tag %s: %w", tag.Slug, err)
		}
	}
	return nil
}

const postColumns = `p.id, p.title, p.url, p.body, p.author, p.author_id, p.comment_count, p.created_at`

func scanPost(row interface{ Scan(...any) error }) (Post, error) {
	var p Post
	var url, body sql.NullString
	var created int64
	if err := row.Scan(&p.ID, &p.Title, &url, &body, &p.Author, &p.AuthorID, &p.CommentCount, &created); err != nil {
		return Post{}, err
	}
	p.URL = nullString(url)
	p.Body = nullString(body)
	p.CreatedAt = fromMillis(created)
	p.Tags = []tags.Tag{}
	return p, nil
}

// GetPost returns the post with its tags, or nil if none.
func GetPost(ctx context.Context, q db.Querier, id string) (*Post, error) {
	p, err := scanPost(q.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts p WHERE p.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get post: %w", err)
	}
	byPost, err := tagsForPosts(ctx, q, []string{p.ID})
	if err != nil {
		return nil, err
	}
	if list, ok := byPost[p.ID]; ok {
		p.Tags = list
	}
	return &p, nil
}

func postWhere(f PostFilter) (string, []any) {
	var clauses []string
	var args []any
	if f.Category != "" && f.Category != tags.FeedNew {
		clauses = append(clauses, `p.id IN (SELECT pt.post_id FROM post_tags pt
            JOIN tags t ON t.id = pt.tag_id WHERE t.slug = ?)`)
		args = append(args, f.Category)
	}
	if len(f.AnyTags) > 0 {
		clauses = append(clauses, `p.id IN (SELECT pt.post_id FROM post_tags pt
            JOIN tags t ON t.id = pt.tag_id WHERE t.slug IN (`+placeholders(len(f.AnyTags))+`))`)
		args = append(args, anySlice(f.AnyTags)...)
	}
	if f.AuthorID != "" {
		clauses = append(clauses, `p.author_id = ?`)
		args = append(args, f.AuthorID)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return ` WHERE ` + strings.Join(clauses, ` AND `), args
}

// ListPosts returns posts newest first. A negative limit means no limit.
func ListPosts(ctx context.Context, q db.Querier, f PostFilter, limit, offset int) ([]Post, error) {
	where, args := postWhere(f)
	query := `SELECT ` + postColumns + ` FROM posts p` + where + ` ORDER BY p.created_at DESC, p.id DESC`
	if limit >= 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()
	posts := []Post{}
	ids := []string{}
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, p)
		ids = append(ids, p.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()
	byPost, err := tagsForPosts(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	for i := range posts {
		if list, ok := byPost[posts[i].ID]; ok {
			posts[i].Tags = list
		}
	}
	return posts, nil
}

func CountPosts(ctx context.Context, q db.Querier, f PostFilter) (int, error) {
	where, args := postWhere(f)
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts p`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count posts: %w", err)
	}
	return n, nil
}

func tagsForPosts(ctx context.Context, q db.Querier, postIDs []string) (map[string][]tags.Tag, error) {
	out := map[string][]tags.Tag{}
	if len(postIDs) == 0 {
		return out, nil
	}
	rows, err := q.QueryContext(ctx, `SELECT pt.post_id, `+tagColumns+` FROM post_tags pt
        JOIN tags t ON t.id = pt.tag_id WHERE pt.post_id IN (`+placeholders(len(postIDs))+`)`,
		anySlice(postIDs)...)
	if err != nil {
		return nil, fmt.Errorf("load post tags: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var postID string
		var tag tags.Tag
		var description sql.NullString
		var kind string
		if err := rows.Scan(&postID, &tag.ID, &tag.Slug, &tag.Name, &description, &kind); err != nil {
			return nil, fmt.Errorf("scan post tag: %w", err)
		}
		tag.Description = nullString(description)
		tag.Kind = tags.Kind(kind)
		out[postID] = append(out[postID], tag)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for id, list := range out {
		out[id] = tags.Sort(list)
	}
	return out, nil
}

// Comments

// InsertComment writes the comment and bumps the post's comment count.
func InsertComment(ctx context.Context, q db.Querier, c Comment) error {
	_, err := q.ExecContext(ctx, `INSERT INTO comments (id, post_id, parent_id, author, author_id, body, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.PostID, c.ParentID, c.Author, c.AuthorID, c.Body, millis(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	if _, err := q.ExecContext(ctx, `UPDATE posts SET comment_count = comment_count + 1 WHERE id = ?`, c.PostID); err != nil {
		return fmt.Errorf("bump comment count: %w", err)
	}
	return nil
}

const commentColumns = `id, post_id, parent_id, author, author_id, body, created_at`

func scanComment(row interface{ Scan(...any) error }) (Comment, error) {
	var c Comment
	var parent sql.NullString
	var created int64
	if err := row.Scan(&c.ID, &c.PostID, &parent, &c.Author, &c.AuthorID, &c.Body, &created); err != nil {
		return Comment{}, err
	}
	c.ParentID = nullString(parent)
	c.CreatedAt = fromMillis(created)
	return c, nil
}

// GetComment returns the comment, or nil if none.
func GetComment(ctx context.Context, q db.Querier, id string) (*Comment, error) {
	c, err := scanComment(q.QueryRowContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get comment: %w", err)
	}
	return &c, nil
}

// ListComments returns a post's comments oldest first.
func ListComments(ctx context.Context, q db.Querier, postID string) ([]Comment, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE post_id = ?
        ORDER BY created_at ASC, id ASC`, postID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()
	cs := []Comment{}
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		cs = append(cs, c)
	}
	return cs, rows.Err()
}
