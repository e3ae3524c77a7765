package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/lensclip/internal/errors"
	"github.com/menta2k/lensclip/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "lensclip.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newObservation(owner string) *types.Observation {
	return &types.Observation{
		ID:          uuid.NewString(),
		OwnerID:     owner,
		Status:      types.StatusProcessing,
		OriginalRef: "observations/a.webp",
		ThumbRef:    "observations/a_thumb.webp",
		Location:    &types.Location{Latitude: 35.1, Longitude: 139.2},
	}
}

func TestCreateAndGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTestStore(t)
	o := newObservation("u1")
	require.NoError(t, s.CreateObservation(ctx, o))

	got, err := s.GetObservation(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusProcessing, got.Status)
	assert.Equal(t, o.Location, got.Location)
	assert.Nil(t, got.Identification)
	assert.Empty(t, got.Tags)

	_, err = s.GetObservation(ctx, "missing")
	assert.True(t, errors.IsNotFound(err))
}

func TestCompleteIsGuardedByStatus(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTestStore(t)
	o := newObservation("u1")
	require.NoError(t, s.CreateObservation(ctx, o))

	c := Completion{
		Identification: &types.Identification{Title: "Ladybird", Category: "insect", Confidence: 0.9, Model: "m"},
		BoundingBox:    &types.BoundingBox{Label: "Insect", Pixel: types.PixelBox{X: 1, Y: 2, W: 3, H: 4}},
		CroppedRef:     "observations/a_cropped.webp",
	}
	applied, err := s.Complete(ctx, o.ID, c)
	require.NoError(t, err)
	assert.True(t, applied)

	got, err := s.GetObservation(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusReady, got.Status)
	assert.Equal(t, "insect", got.Category)
	require.NotNil(t, got.Identification)
	assert.Equal(t, "Ladybird", got.Identification.Title)
	require.NotNil(t, got.BoundingBox)
	assert.Equal(t, 3, got.BoundingBox.Pixel.W)

	// Second terminal write is rejected
	applied, err = s.Fail(ctx, o.ID, "late")
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestFailAndReset(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTestStore(t)
	o := newObservation("u1")
	require.NoError(t, s.CreateObservation(ctx, o))

	applied, err := s.ResetForRetry(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, applied, "processing observations cannot be reset")

	applied, err = s.Fail(ctx, o.ID, "content rejected")
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = s.ResetForRetry(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, applied)

	got, err := s.GetObservation(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusProcessing, got.Status)
	assert.Empty(t, got.ErrorMessage)
}

func TestListFilters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTestStore(t)
	a, b := newObservation("u1"), newObservation("u1")
	other := newObservation("u2")
	for _, o := range []*types.Observation{a, b, other} {
		require.NoError(t, s.CreateObservation(ctx, o))
	}
	_, err := s.Fail(ctx, b.ID, "x")
	require.NoError(t, err)

	ids, err := s.FindOrCreateTags(ctx, "u1", []string{"red"})
	require.NoError(t, err)
	require.NoError(t, s.ReplaceObservationTags(ctx, a.ID, ids))

	list, err := s.ListObservations(ctx, Filter{OwnerID: "u1"})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, err = s.ListObservations(ctx, Filter{OwnerID: "u1", Status: types.StatusFailed})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, b.ID, list[0].ID)

	list, err = s.ListObservations(ctx, Filter{OwnerID: "u1", Tag: "red"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, []string{"red"}, list[0].Tags)
}

func TestSettingsUpsert(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTestStore(t)

	_, ok, err := s.GetSetting(ctx, "identification_model")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetSetting(ctx, "identification_model", "a"))
	require.NoError(t, s.SetSetting(ctx, "identification_model", "b"))

	v, ok, err := s.GetSetting(ctx, "identification_model")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "b", v)
}
