// Package tags holds the category vocabulary: the fixed set of mandatory
// (core) tags every post carries exactly one of, and the slug rules shared
// by admin-curated optional tags.
package tags

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// Kind separates the closed core vocabulary from admin-curated labels.
type Kind string

const (
	KindMandatory Kind = "mandatory"
	KindOptional  Kind = "optional"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k == KindMandatory || k == KindOptional
}

// MaxOptionalTags bounds the optional tags a single post may carry.
const MaxOptionalTags = 4

// FeedNew is the feed that lists every post regardless of category.
const FeedNew = "new"

// Tag is the display form of a tag row.
type Tag struct {
	ID          string  `json:"id"`
	Slug        string  `json:"slug"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
	Kind        Kind    `json:"kind"`
	UsageCount  *int    `json:"usageCount,omitempty"`
}

// CoreTag describes one seeded mandatory tag.
type CoreTag struct {
	Slug        string
	Name        string
	Description string
}

// Taxonomy is the immutable mandatory vocabulary. Build it once at startup
// and pass it to whatever needs it.
type Taxonomy struct {
	core []CoreTag
	rank map[string]int
}

// DefaultCoreTags is the production vocabulary.
var DefaultCoreTags = []CoreTag{
	{Slug: "rka", Name: "RKA", Description: "Posts from the Rawkode Academy team"},
	{Slug: "news", Name: "News", Description: "Links to news and articles"},
	{Slug: "show", Name: "Show", Description: "Things people have built"},
	{Slug: "ask", Name: "Ask", Description: "Questions for the community"},
}

// NewTaxonomy validates and freezes a mandatory vocabulary.
func NewTaxonomy(core []CoreTag) (*Taxonomy, error) {
	if len(core) == 0 {
		return nil, fmt.Errorf("taxonomy: no core tags")
	}
	t := &Taxonomy{
		core: slices.Clone(core),
		rank: make(map[string]int, len(core)),
	}
	for i, c := range t.core {
		if !IsValidSlug(c.Slug) {
			return nil, fmt.Errorf("taxonomy: invalid core slug %q", c.Slug)
		}
		if _, dup := t.rank[c.Slug]; dup {
			return nil, fmt.Errorf("taxonomy: duplicate core slug %q", c.Slug)
		}
		if c.Slug == FeedNew {
			return nil, fmt.Errorf("taxonomy: %q is reserved for the all-posts feed", FeedNew)
		}
		t.rank[c.Slug] = i
	}
	return t, nil
}

// MustTaxonomy is NewTaxonomy for package-level literals known to be valid.
func MustTaxonomy(core []CoreTag) *Taxonomy {
	t, err := NewTaxonomy(core)
	if err != nil {
		panic(err)
	}
	return t
}

// Core returns a copy of the mandatory tags in configured order.
func (t *Taxonomy) Core() []CoreTag {
	return slices.Clone(t.core)
}

// CoreSlugs returns the mandatory slugs in configured order.
func (t *Taxonomy) CoreSlugs() []string {
	out := make([]string, len(t.core))
	for i, c := range t.core {
		out[i] = c.Slug
	}
	return out
}

// IsCore reports whether slug belongs to the mandatory vocabulary.
func (t *Taxonomy) IsCore(slug string) bool {
	_, ok := t.rank[slug]
	return ok
}

// FeedTypes lists the feeds a reader can browse: "new" plus every core slug.
func (t *Taxonomy) FeedTypes() []string {
	return append([]string{FeedNew}, t.CoreSlugs()...)
}

// IsFeed reports whether v names a known feed.
func (t *Taxonomy) IsFeed(v string) bool {
	return v == FeedNew || t.IsCore(v)
}

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// NormalizeSlug trims and lowercases v. An empty result means "no slug".
func NormalizeSlug(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

var (
	quotes      = regexp.MustCompile(`['"]`)
	nonAlnumRun = regexp.MustCompile(`[^a-z0-9]+`)
	hyphenRun   = regexp.MustCompile(`-{2,}`)
)

// DeriveSlug turns free text such as a tag name into a candidate slug.
// The result may still be empty; callers must validate it.
func DeriveSlug(v string) string {
	s := NormalizeSlug(v)
	s = quotes.ReplaceAllString(s, "")
	s = nonAlnumRun.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	return hyphenRun.ReplaceAllString(s, "-")
}

// IsValidSlug tests v against the slug pattern.
func IsValidSlug(v string) bool {
	return slugPattern.MatchString(v)
}

// ParseSlugList splits a comma separated list, normalizing each entry and
// dropping empties and repeats. First occurrence wins.
func ParseSlugList(csv string) []string {
	if csv == "" {
		return nil
	}
	return NormalizeSlugs(strings.Split(csv, ","))
}

// NormalizeSlugs normalizes and dedupes a list of slugs.
func NormalizeSlugs(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		s := NormalizeSlug(v)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Sort returns tags in display order: mandatory first, then by slug.
func Sort(items []Tag) []Tag {
	out := slices.Clone(items)
	slices.SortStableFunc(out, func(a, b Tag) int {
		if a.Kind != b.Kind {
			if a.Kind == KindMandatory {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Slug, b.Slug)
	})
	return out
}

// ValidationError reports a tag rule violation.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// CheckSelection enforces the per-post tag rules on a resolved tag set:
// exactly one mandatory tag from the vocabulary and at most MaxOptionalTags
// optional ones. It returns the mandatory tag on success.
func (t *Taxonomy) CheckSelection(selected []Tag) (Tag, error) {
	var mandatory []Tag
	optional := 0
	for _, tag := range selected {
		switch tag.Kind {
		case KindMandatory:
			mandatory = append(mandatory, tag)
		case KindOptional:
			optional++
		default:
			return Tag{}, &ValidationError{Msg: fmt.Sprintf("tag %q has unknown kind", tag.Slug)}
		}
	}
	if len(mandatory) != 1 {
		return Tag{}, &ValidationError{Msg: "exactly one mandatory tag is required"}
	}
	if optional > MaxOptionalTags {
		return Tag{}, &ValidationError{Msg: fmt.Sprintf("no more than %d optional tags are allowed", MaxOptionalTags)}
	}
	if !t.IsCore(mandatory[0].Slug) {
		return Tag{}, &ValidationError{Msg: "invalid mandatory tag"}
	}
	return mandatory[0], nil
}
