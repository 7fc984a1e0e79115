package tags

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidSlug(t *testing.T) {
	for _, s := range []string{"a", "go", "k8s", "cloud-native", "a-b-c", "123"} {
		assert.True(t, IsValidSlug(s), s)
	}
	for _, s := range []string{"", "Go", "cloud--native", "-go", "go-", "go_lang", "go lang", "é"} {
		assert.False(t, IsValidSlug(s), s)
	}
}

func TestNormalizeSlug(t *testing.T) {
	assert.Equal(t, "kubernetes", NormalizeSlug("  Kubernetes "))
	assert.Equal(t, "", NormalizeSlug("   "))
}

func TestDeriveSlug(t *testing.T) {
	cases := map[string]string{
		"Cloud Native":          "cloud-native",
		"  --Rust's \"Borrow\"": "rusts-borrow",
		"C++ / C#":              "c-c",
		"already-a-slug":        "already-a-slug",
		"!!!":                   "",
		"a -- b":                "a-b",
	}
	for in, want := range cases {
		got := DeriveSlug(in)
		assert.Equal(t, want, got, in)
		assert.Equal(t, got, DeriveSlug(got), "idempotent for %q", in)
		if got != "" {
			assert.True(t, IsValidSlug(got), got)
		}
	}
}

func TestParseSlugList(t *testing.T) {
	assert.Nil(t, ParseSlugList(""))
	assert.Equal(t, []string{"go", "rust"}, ParseSlugList("Go, rust,,GO , "))
}

func TestTaxonomy(t *testing.T) {
	tx := MustTaxonomy(DefaultCoreTags)
	assert.True(t, tx.IsCore("rka"))
	assert.True(t, tx.IsCore("ask"))
	assert.False(t, tx.IsCore("golang"))
	assert.Equal(t, []string{"new", "rka", "news", "show", "ask"}, tx.FeedTypes())

	core := tx.Core()
	core[0].Slug = "mutated"
	assert.True(t, tx.IsCore("rka"), "Core must return a copy")

	_, err := NewTaxonomy([]CoreTag{{Slug: "Bad"}})
	require.Error(t, err)
	_, err = NewTaxonomy([]CoreTag{{Slug: "new"}})
	require.Error(t, err)
	_, err = NewTaxonomy([]CoreTag{{Slug: "a"}, {Slug: "a"}})
	require.Error(t, err)
}

func TestSort(t *testing.T) {
	in := []Tag{
		{Slug: "zig", Kind: KindOptional},
		{Slug: "show", Kind: KindMandatory},
		{Slug: "go", Kind: KindOptional},
	}
	out := Sort(in)
	assert.Equal(t, []string{"show", "go", "zig"}, []string{out[0].Slug, out[1].Slug, out[2].Slug})
	assert.Equal(t, "zig", in[0].Slug, "input untouched")
}

func TestCheckSelection(t *testing.T) {
	tx := MustTaxonomy(DefaultCoreTags)
	opt := func(s string) Tag { return Tag{Slug: s, Kind: KindOptional} }

	m, err := tx.CheckSelection([]Tag{{Slug: "news", Kind: KindMandatory}, opt("go")})
	require.NoError(t, err)
	assert.Equal(t, "news", m.Slug)

	_, err = tx.CheckSelection([]Tag{opt("go")})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = tx.CheckSelection([]Tag{{Slug: "news", Kind: KindMandatory}, {Slug: "ask", Kind: KindMandatory}})
	require.ErrorAs(t, err, &verr)

	_, err = tx.CheckSelection([]Tag{
		{Slug: "news", Kind: KindMandatory},
		opt("a"), opt("b"), opt("c"), opt("d"), opt("e"),
	})
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Msg, "4")

	_, err = tx.CheckSelection([]Tag{{Slug: "legacy", Kind: KindMandatory}})
	require.ErrorAs(t, err, &verr)
}
