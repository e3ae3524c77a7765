package tags

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/lensclip/internal/store"
	"github.com/menta2k/lensclip/pkg/types"
)

func setup(t *testing.T) (*store.Store, *Reconciler) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "tags.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, NewReconciler(s, nil)
}

func create(t *testing.T, s *store.Store, owner string) string {
	t.Helper()
	o := &types.Observation{
		ID:          uuid.NewString(),
		OwnerID:     owner,
		Status:      types.StatusProcessing,
		OriginalRef: "observations/x.webp",
	}
	require.NoError(t, s.CreateObservation(context.Background(), o))
	return o.ID
}

func tagsOf(t *testing.T, s *store.Store, id string) []string {
	t.Helper()
	o, err := s.GetObservation(context.Background(), id)
	require.NoError(t, err)
	return o.Tags
}

func exists(t *testing.T, s *store.Store, owner, name string) bool {
	t.Helper()
	ok, err := s.TagExists(context.Background(), owner, name)
	require.NoError(t, err)
	return ok
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"a", "b"}, Normalize([]string{" a ", "", "b", "a", "   "}, 0))

	many := []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "11", "12"}
	assert.Len(t, Normalize(many, AISuggestedLimit), 10)
	assert.Empty(t, Normalize(nil, AISuggestedLimit))
}

func TestSyncReplacesFullSet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, r := setup(t)
	id := create(t, s, "u1")

	require.NoError(t, r.Sync(ctx, "u1", id, []string{"beetle", " red ", ""}))
	assert.Equal(t, []string{"beetle", "red"}, tagsOf(t, s, id))

	require.NoError(t, r.Sync(ctx, "u1", id, []string{"garden"}))
	assert.Equal(t, []string{"garden"}, tagsOf(t, s, id))

	// Tags dropped by the retag were orphaned and removed
	assert.False(t, exists(t, s, "u1", "beetle"))
	assert.False(t, exists(t, s, "u1", "red"))
}

func TestSyncScopesTagsPerOwner(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, r := setup(t)
	a := create(t, s, "u1")
	b := create(t, s, "u2")

	require.NoError(t, r.Sync(ctx, "u1", a, []string{"leaf"}))
	require.NoError(t, r.Sync(ctx, "u2", b, []string{"leaf"}))

	assert.True(t, exists(t, s, "u1", "leaf"))
	assert.True(t, exists(t, s, "u2", "leaf"))
}

func TestDeletingSoleObservationRemovesTag(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, r := setup(t)
	id := create(t, s, "u1")
	require.NoError(t, r.Sync(ctx, "u1", id, []string{"moth"}))

	removed, err := r.CleanupOnDelete(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.False(t, exists(t, s, "u1", "moth"))
}

func TestDeletingOneOfTwoKeepsSharedTag(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, r := setup(t)
	a := create(t, s, "u1")
	b := create(t, s, "u1")
	require.NoError(t, r.Sync(ctx, "u1", a, []string{"shared", "only-a"}))
	require.NoError(t, r.Sync(ctx, "u1", b, []string{"shared"}))

	removed, err := r.CleanupOnDelete(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.True(t, exists(t, s, "u1", "shared"))
	assert.False(t, exists(t, s, "u1", "only-a"))
	assert.Equal(t, []string{"shared"}, tagsOf(t, s, b))

	// The soft-deleted observation must not keep the tag alive
	removed, err = r.CleanupOnDelete(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.False(t, exists(t, s, "u1", "shared"))
}
