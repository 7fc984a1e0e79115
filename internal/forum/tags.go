package forum

import (
	"context"
	"errors"
	"strings"

	"news/internal/db"
	"news/internal/models"
	"news/internal/tags"
)

// ListTags lists tags of kind, or every tag when kind is empty.
func (s *Service) ListTags(ctx context.Context, kind string) ([]tags.Tag, error) {
	k := tags.Kind(strings.TrimSpace(kind))
	if k != "" && !k.Valid() {
		return nil, invalid("invalid tag kind")
	}
	list, err := models.ListTags(ctx, s.db, k)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []tags.Tag{}
	}
	return list, nil
}

func (s *Service) GetTag(ctx context.Context, slug string) (*tags.Tag, error) {
	tag, err := models.GetTagBySlug(ctx, s.db, tags.NormalizeSlug(slug))
	if err != nil {
		return nil, err
	}
	if tag == nil {
		return nil, fail(ErrNotFound, "tag not found")
	}
	return tag, nil
}

// TagInput creates or edits an optional tag. Nil fields are left unset
// (create) or unchanged (update); a nil Slug is derived from the name.
type TagInput struct {
	Name        *string `json:"name"`
	Slug        *string `json:"slug"`
	Description *string `json:"description"`
}

// slugFor picks the requested slug, falling back to one derived from name.
func slugFor(requested *string, name string) (string, error) {
	var slug string
	if requested != nil && strings.TrimSpace(*requested) != "" {
		slug = tags.NormalizeSlug(*requested)
	} else {
		slug = tags.DeriveSlug(name)
	}
	if slug == "" {
		return "", invalid("tag slug is required")
	}
	if !tags.IsValidSlug(slug) {
		return "", invalid("invalid tag slug")
	}
	return slug, nil
}

func duplicate(err error) error {
	if errors.Is(err, models.ErrDuplicateSlug) {
		return fail(ErrConflict, "tag slug already exists")
	}
	return err
}

// CreateOptionalTag adds an admin-curated tag.
func (s *Service) CreateOptionalTag(ctx context.Context, in TagInput) (*tags.Tag, error) {
	var name string
	if in.Name != nil {
		name = strings.TrimSpace(*in.Name)
	}
	if name == "" {
		return nil, invalid("tag name is required")
	}
	slug, err := slugFor(in.Slug, name)
	if err != nil {
		return nil, err
	}
	if s.taxonomy.IsCore(slug) || slug == tags.FeedNew {
		return nil, invalid("core tag slugs are reserved")
	}
	var description *string
	if in.Description != nil {
		description = optional(*in.Description)
	}

	tag := tags.Tag{
		ID:          models.NewID(),
		Slug:        slug,
		Name:        name,
		Description: description,
		Kind:        tags.KindOptional,
	}
	if err := models.InsertTag(ctx, s.db, tag, s.now()); err != nil {
		return nil, duplicate(err)
	}
	usage := 0
	tag.UsageCount = &usage
	return &tag, nil
}

// UpdateOptionalTag edits the optional tag currently at slug. Mandatory
// tags are immutable.
func (s *Service) UpdateOptionalTag(ctx context.Context, slug string, in TagInput) (*tags.Tag, error) {
	existing, err := s.GetTag(ctx, slug)
	if err != nil {
		return nil, err
	}
	if existing.Kind == tags.KindMandatory {
		return nil, fail(ErrForbidden, "core tags are immutable")
	}

	name := existing.Name
	if in.Name != nil {
		name = strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, invalid("tag name cannot be empty")
		}
	}
	next := existing.Slug
	if in.Slug != nil && strings.TrimSpace(*in.Slug) != "" {
		if next, err = slugFor(in.Slug, name); err != nil {
			return nil, err
		}
	}
	if (s.taxonomy.IsCore(next) || next == tags.FeedNew) && next != existing.Slug {
		return nil, invalid("core tag slugs are reserved")
	}
	description := existing.Description
	if in.Description != nil {
		description = optional(*in.Description)
	}

	var updated *tags.Tag
	err = s.db.WithTx(ctx, func(tx *db.Tx) error {
		if err := models.UpdateTag(ctx, tx, existing.ID, name, next, description); err != nil {
			return duplicate(err)
		}
		var err error
		updated, err = models.GetTagBySlug(ctx, tx, next)
		return err
	})
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, fail(ErrNotFound, "tag not found")
	}
	return updated, nil
}

// DeleteOptionalTag removes an optional tag no post carries.
func (s *Service) DeleteOptionalTag(ctx context.Context, slug string) error {
	return s.db.WithTx(ctx, func(tx *db.Tx) error {
		target, err := models.GetTagBySlug(ctx, tx, tags.NormalizeSlug(slug))
		if err != nil {
			return err
		}
		if target == nil {
			return fail(ErrNotFound, "tag not found")
		}
		if target.Kind == tags.KindMandatory {
			return fail(ErrForbidden, "core tags cannot be deleted")
		}
		if target.UsageCount != nil && *target.UsageCount > 0 {
			return fail(ErrConflict, "tag is in use and cannot be deleted")
		}
		return models.DeleteTag(ctx, tx, target.ID)
	})
}
