package indexer

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/faceprofiles/internal/faceprofile"
	"github.com/your-org/faceprofiles/internal/models"
	"github.com/your-org/faceprofiles/internal/storage"
)

type failingMarker struct{}

func (failingMarker) MarkIndexed(context.Context, uuid.UUID, uuid.UUID, int) (bool, error) {
	return false, errors.New("db down")
}

func seed(t *testing.T, store *storage.MemoryStore) *models.FaceProfile {
	t.Helper()
	p := &models.FaceProfile{
		ID:               uuid.New(),
		UserID:           uuid.New(),
		CompanyID:        uuid.New(),
		Embedding:        make([]float32, faceprofile.EmbeddingDim),
		EmbeddingVersion: "v1",
		IsPrimary:        true,
	}
	require.NoError(t, store.InsertProfile(context.Background(), p, 0))
	return p
}

func event(p *models.FaceProfile, typ models.ProfileEventType) models.ProfileEvent {
	return models.ProfileEvent{Type: typ, ProfileID: p.ID, UserID: p.UserID, CompanyID: p.CompanyID}
}

func TestHandleMarksEnrolledProfiles(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	p := seed(t, store)

	require.NoError(t, New(store, 7).Handle(ctx, event(p, models.ProfileEnrolled)))

	got, err := store.GetProfile(ctx, p.ID, p.CompanyID)
	require.NoError(t, err)
	assert.True(t, got.Indexed)
	assert.Equal(t, 7, got.IndexVersion)
}

func TestHandleRedeliveryIsNoop(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	p := seed(t, store)
	ix := New(store, 2)

	require.NoError(t, ix.Handle(ctx, event(p, models.ProfileEnrolled)))
	marked, err := store.MarkIndexed(ctx, p.ID, p.CompanyID, 2)
	require.NoError(t, err)
	assert.False(t, marked)

	require.NoError(t, ix.Handle(ctx, event(p, models.ProfilePrimaryChanged)))
	got, err := store.GetProfile(ctx, p.ID, p.CompanyID)
	require.NoError(t, err)
	assert.True(t, got.Indexed)
	assert.Equal(t, 2, got.IndexVersion)
}

func TestHandleSkipsDeletedProfiles(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	p := seed(t, store)
	_, err := store.SoftDeleteProfile(ctx, p.ID, p.CompanyID)
	require.NoError(t, err)

	ix := New(store, 1)
	require.NoError(t, ix.Handle(ctx, event(p, models.ProfileEnrolled)))
	require.NoError(t, ix.Handle(ctx, event(p, models.ProfileDeleted)))

	got, err := store.GetProfileAnyState(ctx, p.ID, p.CompanyID)
	require.NoError(t, err)
	assert.False(t, got.Indexed)
}

func TestHandleReturnsStoreErrors(t *testing.T) {
	p := &models.FaceProfile{ID: uuid.New(), CompanyID: uuid.New()}
	err := New(failingMarker{}, 1).Handle(context.Background(), event(p, models.ProfilePrimaryChanged))
	assert.Error(t, err)

	err = New(failingMarker{}, 1).Handle(context.Background(), event(p, models.ProfileDeleted))
	assert.NoError(t, err)
}
