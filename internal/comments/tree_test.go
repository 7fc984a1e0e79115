package comments

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"news/internal/models"
)

func ptr(s string) *string { return &s }

func ids(nodes []*Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}

func TestBuildTree(t *testing.T) {
	in := []models.Comment{
		{ID: "a"},
		{ID: "b", ParentID: ptr("a")},
		{ID: "c", ParentID: ptr("a")},
		{ID: "d", ParentID: ptr("zzz")},
	}
	forest := BuildTree(in)
	require.Equal(t, []string{"a", "d"}, ids(forest))
	assert.Equal(t, []string{"b", "c"}, ids(forest[0].Replies))
	assert.Empty(t, forest[1].Replies)
	assert.Equal(t, 4, Count(forest))

	assert.Equal(t, "zzz", *in[3].ParentID, "input untouched")
}

func TestBuildTreeEmpty(t *testing.T) {
	forest := BuildTree(nil)
	assert.NotNil(t, forest)
	assert.Empty(t, forest)
}

func TestBuildTreeKeepsInputOrder(t *testing.T) {
	in := []models.Comment{
		{ID: "r2", ParentID: ptr("r1")},
		{ID: "r1"},
		{ID: "x", ParentID: ptr("r1")},
		{ID: "deep", ParentID: ptr("r2")},
	}
	forest := BuildTree(in)
	require.Equal(t, []string{"r1"}, ids(forest))
	assert.Equal(t, []string{"r2", "x"}, ids(forest[0].Replies))
	assert.Equal(t, []string{"deep"}, ids(forest[0].Replies[0].Replies))
}

func TestBuildTreeSelfParentIsRoot(t *testing.T) {
	forest := BuildTree([]models.Comment{{ID: "me", ParentID: ptr("me")}})
	require.Equal(t, []string{"me"}, ids(forest))
	assert.Empty(t, forest[0].Replies)
	assert.Equal(t, 1, Count(forest))
}

func TestWalk(t *testing.T) {
	forest := BuildTree([]models.Comment{
		{ID: "a"},
		{ID: "b", ParentID: ptr("a")},
		{ID: "c"},
	})
	var seen []string
	Walk(forest, func(n *Node) { seen = append(seen, n.ID) })
	assert.Equal(t, []string{"a", "b", "c"}, seen)
}
