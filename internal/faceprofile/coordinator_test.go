package faceprofile_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/faceprofiles/internal/faceprofile"
	"github.com/your-org/faceprofiles/internal/models"
	"github.com/your-org/faceprofiles/internal/storage"
)

type fakeGateway struct {
	mu      sync.Mutex
	enroll  func(ctx context.Context, req faceprofile.EnrollRequest) (faceprofile.EnrollOutcome, error)
	calls   int
	deletes []string
}

func (g *fakeGateway) Enroll(ctx context.Context, req faceprofile.EnrollRequest) (faceprofile.EnrollOutcome, error) {
	g.mu.Lock()
	g.calls++
	fn := g.enroll
	g.mu.Unlock()
	return fn(ctx, req)
}

func (g *fakeGateway) DeleteProfile(_ context.Context, profileID string, _ uuid.UUID, hard bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if hard {
		g.deletes = append(g.deletes, profileID)
	}
	return nil
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type recordingCache struct {
	mu    sync.Mutex
	users []uuid.UUID
	err   error
}

func (c *recordingCache) InvalidateUser(_ context.Context, userID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users = append(c.users, userID)
	return c.err
}

type recordingEvents struct {
	mu     sync.Mutex
	events []models.ProfileEvent
	err    error
}

func (e *recordingEvents) PublishProfileEvent(_ context.Context, ev models.ProfileEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return e.err
}

type recordingImages struct {
	keys []string
}

func (r *recordingImages) DeleteObject(_ context.Context, key string) error {
	r.keys = append(r.keys, key)
	return nil
}

func embedding(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = float64(i%7) / 10
	}
	return v
}

// acceptAll returns a fresh engine profile id and a valid embedding for every call.
func acceptAll(ctx context.Context, req faceprofile.EnrollRequest) (faceprofile.EnrollOutcome, error) {
	return faceprofile.EnrollAccepted{
		ProfileID: uuid.NewString(),
		Embedding: embedding(faceprofile.EmbeddingDim),
	}, nil
}

type fixture struct {
	store   *storage.MemoryStore
	gateway *fakeGateway
	cache   *recordingCache
	events  *recordingEvents
	images  *recordingImages
	coord   *faceprofile.Coordinator
	user    uuid.UUID
	company uuid.UUID
}

func newFixture(t *testing.T, mutate func(*faceprofile.Options)) *fixture {
	t.Helper()
	f := &fixture{
		store:   storage.NewMemoryStore(),
		gateway: &fakeGateway{enroll: acceptAll},
		cache:   &recordingCache{},
		events:  &recordingEvents{},
		images:  &recordingImages{},
		user:    uuid.New(),
		company: uuid.New(),
	}
	opts := faceprofile.Options{
		EmbeddingVersion: "arcface-r100-v1",
		CommitTimeout:    time.Second,
		Cache:            f.cache,
		Events:           f.events,
		Images:           f.images,
	}
	if mutate != nil {
		mutate(&opts)
	}
	coord, err := faceprofile.NewCoordinator(f.store, f.gateway, opts)
	require.NoError(t, err)
	f.coord = coord
	return f
}

func (f *fixture) input(primary bool) faceprofile.EnrollInput {
	return faceprofile.EnrollInput{
		UserID:      f.user,
		CompanyID:   f.company,
		ImageData:   []byte("jpeg-bytes"),
		MakePrimary: primary,
	}
}

func (f *fixture) enroll(t *testing.T, primary bool) *models.FaceProfile {
	t.Helper()
	p, err := f.coord.Enroll(context.Background(), f.input(primary))
	require.NoError(t, err)
	return p
}

func (f *fixture) list(t *testing.T) []models.FaceProfile {
	t.Helper()
	list, err := f.coord.List(context.Background(), f.user, f.company)
	require.NoError(t, err)
	return list
}

func ids(list []models.FaceProfile) []uuid.UUID {
	out := make([]uuid.UUID, len(list))
	for i, p := range list {
		out[i] = p.ID
	}
	return out
}

func primaries(list []models.FaceProfile) int {
	n := 0
	for _, p := range list {
		if p.IsPrimary {
			n++
		}
	}
	return n
}

func TestNewCoordinatorValidation(t *testing.T) {
	store := storage.NewMemoryStore()
	gw := &fakeGateway{enroll: acceptAll}

	_, err := faceprofile.NewCoordinator(nil, gw, faceprofile.Options{EmbeddingVersion: "v1"})
	assert.Error(t, err)
	_, err = faceprofile.NewCoordinator(store, nil, faceprofile.Options{EmbeddingVersion: "v1"})
	assert.Error(t, err)
	_, err = faceprofile.NewCoordinator(store, gw, faceprofile.Options{})
	assert.Error(t, err)
}

func TestEnrollPrimaryLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	p1 := f.enroll(t, true)
	list := f.list(t)
	require.Len(t, list, 1)
	assert.Equal(t, p1.ID, list[0].ID)
	assert.True(t, list[0].IsPrimary)

	p2 := f.enroll(t, true)
	list = f.list(t)
	assert.Equal(t, []uuid.UUID{p2.ID, p1.ID}, ids(list))
	assert.True(t, list[0].IsPrimary)
	assert.False(t, list[1].IsPrimary)

	require.NoError(t, f.coord.SetPrimary(ctx, p1.ID, f.user, f.company, true))
	list = f.list(t)
	assert.Equal(t, []uuid.UUID{p1.ID, p2.ID}, ids(list))
	assert.True(t, list[0].IsPrimary)
	assert.False(t, list[1].IsPrimary)

	err := f.coord.SetPrimary(ctx, p1.ID, f.user, f.company, false)
	assert.True(t, errors.Is(err, faceprofile.ErrCannotUnsetLastPrimary))
	assert.Equal(t, faceprofile.KindCannotUnsetLastPrimary, faceprofile.KindOf(err))

	after := f.list(t)
	assert.Equal(t, ids(list), ids(after))
	assert.True(t, after[0].IsPrimary)
}

func TestEnrollStoresEngineResult(t *testing.T) {
	quality := 0.87
	engineID := uuid.New()
	f := newFixture(t, nil)
	f.gateway.enroll = func(ctx context.Context, req faceprofile.EnrollRequest) (faceprofile.EnrollOutcome, error) {
		return faceprofile.EnrollAccepted{
			ProfileID:        engineID.String(),
			QualityScore:     &quality,
			Embedding:        embedding(faceprofile.EmbeddingDim),
			EmbeddingVersion: "arcface-r100-v2",
		}, nil
	}

	in := f.input(false)
	in.Metadata = map[string]string{"device": "lobby"}
	in.EnrollImagePath = "enroll/c/u/x.jpg"
	p, err := f.coord.Enroll(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, engineID, p.ID)
	assert.Equal(t, "arcface-r100-v2", p.EmbeddingVersion)
	assert.False(t, p.IsPrimary)
	require.NotNil(t, p.QualityScore)
	assert.InDelta(t, 0.87, *p.QualityScore, 1e-9)

	stored, err := f.coord.Get(context.Background(), engineID, f.company)
	require.NoError(t, err)
	assert.Len(t, stored.Embedding, faceprofile.EmbeddingDim)
	assert.Equal(t, "lobby", stored.MetaData["device"])
	assert.Equal(t, "enroll/c/u/x.jpg", stored.EnrollImagePath)
	assert.NotContains(t, stored.MetaData, faceprofile.EngineProfileIDKey)

	assert.Equal(t, []uuid.UUID{f.user}, f.cache.users)
	require.Len(t, f.events.events, 1)
	assert.Equal(t, models.ProfileEnrolled, f.events.events[0].Type)
	assert.Equal(t, engineID, f.events.events[0].ProfileID)
	assert.False(t, f.events.events[0].Timestamp.IsZero())
}

func TestEnrollDefaultsEmbeddingVersionAndLocalID(t *testing.T) {
	f := newFixture(t, nil)
	f.gateway.enroll = func(ctx context.Context, req faceprofile.EnrollRequest) (faceprofile.EnrollOutcome, error) {
		return faceprofile.EnrollAccepted{ProfileID: "engine-123", Embedding: embedding(faceprofile.EmbeddingDim)}, nil
	}

	in := f.input(false)
	in.Metadata = map[string]string{"device": "gate-2"}
	p, err := f.coord.Enroll(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "arcface-r100-v1", p.EmbeddingVersion)
	assert.NotEqual(t, uuid.Nil, p.ID)

	stored, err := f.coord.Get(context.Background(), p.ID, f.company)
	require.NoError(t, err)
	assert.Equal(t, "engine-123", stored.MetaData[faceprofile.EngineProfileIDKey])
	assert.Equal(t, "gate-2", stored.MetaData["device"])
	assert.NotContains(t, in.Metadata, faceprofile.EngineProfileIDKey, "caller metadata is not mutated")
}

func TestEnrollRejected(t *testing.T) {
	f := newFixture(t, nil)
	f.gateway.enroll = func(ctx context.Context, req faceprofile.EnrollRequest) (faceprofile.EnrollOutcome, error) {
		return faceprofile.EnrollRejected{Status: "no_face", Message: "no face detected in image"}, nil
	}

	_, err := f.coord.Enroll(context.Background(), f.input(true))
	require.Error(t, err)
	assert.True(t, errors.Is(err, faceprofile.ErrEnrollmentRejected))

	var fe *faceprofile.Error
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "no face detected in image", fe.Message)

	assert.Empty(t, f.list(t))
	assert.Empty(t, f.cache.users)
	assert.Empty(t, f.events.events)
}

func TestEnrollGatewayUnavailable(t *testing.T) {
	f := newFixture(t, nil)
	f.gateway.enroll = func(ctx context.Context, req faceprofile.EnrollRequest) (faceprofile.EnrollOutcome, error) {
		return nil, errors.New("connection refused")
	}

	_, err := f.coord.Enroll(context.Background(), f.input(true))
	assert.Equal(t, faceprofile.KindGatewayUnavailable, faceprofile.KindOf(err))
	assert.Empty(t, f.list(t))
	assert.Empty(t, f.cache.users)
}

func TestEnrollEmbeddingValidation(t *testing.T) {
	tests := []struct {
		name     string
		values   []float64
		wantKind faceprofile.Kind
	}{
		{name: "missing", values: nil, wantKind: faceprofile.KindMissingEmbedding},
		{name: "too short", values: embedding(128), wantKind: faceprofile.KindDimensionMismatch},
		{name: "too long", values: embedding(513), wantKind: faceprofile.KindDimensionMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.gateway.enroll = func(ctx context.Context, req faceprofile.EnrollRequest) (faceprofile.EnrollOutcome, error) {
				return faceprofile.EnrollAccepted{ProfileID: "engine-1", Embedding: tt.values}, nil
			}

			_, err := f.coord.Enroll(context.Background(), f.input(true))
			assert.Equal(t, tt.wantKind, faceprofile.KindOf(err))
			assert.Empty(t, f.list(t))
			assert.Empty(t, f.gateway.deletes, "compensation is off by default")
		})
	}
}

func TestEnrollCompensatesOrphan(t *testing.T) {
	f := newFixture(t, func(o *faceprofile.Options) { o.Compensate = true })
	f.gateway.enroll = func(ctx context.Context, req faceprofile.EnrollRequest) (faceprofile.EnrollOutcome, error) {
		return faceprofile.EnrollAccepted{ProfileID: "engine-9", Embedding: embedding(10)}, nil
	}

	_, err := f.coord.Enroll(context.Background(), f.input(false))
	assert.True(t, errors.Is(err, faceprofile.ErrDimensionMismatch))
	assert.Equal(t, []string{"engine-9"}, f.gateway.deletes)
}

func TestEnrollProfileLimit(t *testing.T) {
	f := newFixture(t, func(o *faceprofile.Options) { o.MaxProfilesPerUser = 2 })
	f.enroll(t, true)
	f.enroll(t, false)

	_, err := f.coord.Enroll(context.Background(), f.input(false))
	assert.True(t, errors.Is(err, faceprofile.ErrProfileLimitReached))
	assert.Equal(t, 2, f.gateway.callCount(), "engine is not called past the limit")

	// Soft-deleted profiles do not count.
	list := f.list(t)
	require.NoError(t, f.coord.Delete(context.Background(), list[1].ID, f.company, false))
	f.enroll(t, false)
}

func TestConcurrentEnrollsRespectProfileLimit(t *testing.T) {
	f := newFixture(t, func(o *faceprofile.Options) {
		o.MaxProfilesPerUser = 2
		o.Compensate = true
	})
	f.gateway.enroll = func(ctx context.Context, req faceprofile.EnrollRequest) (faceprofile.EnrollOutcome, error) {
		time.Sleep(20 * time.Millisecond)
		return acceptAll(ctx, req)
	}

	const workers = 8
	var (
		wg   sync.WaitGroup
		errs = make(chan error, workers)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.coord.Enroll(context.Background(), f.input(false))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, errors.Is(err, faceprofile.ErrProfileLimitReached), err)
	}
	assert.Equal(t, 2, succeeded)
	assert.Len(t, f.list(t), 2)
	// Every engine registration that lost the race is dropped again.
	assert.Len(t, f.gateway.deletes, f.gateway.callCount()-2)
}

func TestEnrollExistingEngineIDIsNotCompensated(t *testing.T) {
	f := newFixture(t, func(o *faceprofile.Options) { o.Compensate = true })
	engineID := uuid.NewString()
	f.gateway.enroll = func(ctx context.Context, req faceprofile.EnrollRequest) (faceprofile.EnrollOutcome, error) {
		return faceprofile.EnrollAccepted{ProfileID: engineID, Embedding: embedding(faceprofile.EmbeddingDim)}, nil
	}

	first := f.enroll(t, true)

	_, err := f.coord.Enroll(context.Background(), f.input(false))
	assert.True(t, errors.Is(err, faceprofile.ErrProfileExists))
	assert.Empty(t, f.gateway.deletes, "stored profile keeps its engine registration")

	list := f.list(t)
	require.Len(t, list, 1)
	assert.Equal(t, first.ID, list[0].ID)
	assert.True(t, list[0].IsPrimary)
}

func TestEnrollInvalidInput(t *testing.T) {
	f := newFixture(t, nil)

	in := f.input(true)
	in.ImageData = nil
	_, err := f.coord.Enroll(context.Background(), in)
	assert.True(t, errors.Is(err, faceprofile.ErrInvalidRequest))

	in = f.input(true)
	in.CompanyID = uuid.Nil
	_, err = f.coord.Enroll(context.Background(), in)
	assert.True(t, errors.Is(err, faceprofile.ErrInvalidRequest))

	assert.Zero(t, f.gateway.callCount())
}

func TestEnrollCanceledBeforeEngineCall(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.coord.Enroll(ctx, f.input(true))
	assert.Equal(t, faceprofile.KindGatewayUnavailable, faceprofile.KindOf(err))
	assert.Zero(t, f.gateway.callCount())
	assert.Empty(t, f.list(t))
}

func TestEnrollCanceledAfterEngineAccepted(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	f.gateway.enroll = func(_ context.Context, req faceprofile.EnrollRequest) (faceprofile.EnrollOutcome, error) {
		cancel()
		return acceptAll(ctx, req)
	}

	p, err := f.coord.Enroll(ctx, f.input(true))
	require.NoError(t, err)

	list := f.list(t)
	require.Len(t, list, 1)
	assert.Equal(t, p.ID, list[0].ID)
	assert.True(t, list[0].IsPrimary)
}

func TestSideEffectFailuresAreNotPropagated(t *testing.T) {
	f := newFixture(t, nil)
	f.cache.err = errors.New("redis down")
	f.events.err = errors.New("nats down")

	p := f.enroll(t, true)
	require.NoError(t, f.coord.SetPrimary(context.Background(), p.ID, f.user, f.company, true))
	require.NoError(t, f.coord.Delete(context.Background(), p.ID, f.company, false))
}

func TestDeleteSoftKeepsRowAndDoesNotRepromote(t *testing.T) {
	f := newFixture(t, nil)
	other := f.enroll(t, false)
	primary := f.enroll(t, true)

	require.NoError(t, f.coord.Delete(context.Background(), primary.ID, f.company, false))

	list := f.list(t)
	assert.Equal(t, []uuid.UUID{other.ID}, ids(list))
	assert.Zero(t, primaries(list))

	retained, err := f.store.GetProfileAnyState(context.Background(), primary.ID, f.company)
	require.NoError(t, err)
	assert.NotNil(t, retained.DeletedAt)
	assert.Empty(t, f.images.keys)

	last := f.events.events[len(f.events.events)-1]
	assert.Equal(t, models.ProfileDeleted, last.Type)
	assert.False(t, last.Hard)
	assert.True(t, last.IsPrimary)
}

func TestDeleteHardErasesImage(t *testing.T) {
	f := newFixture(t, nil)
	in := f.input(true)
	in.EnrollImagePath = "enroll/img.jpg"
	p, err := f.coord.Enroll(context.Background(), in)
	require.NoError(t, err)

	require.NoError(t, f.coord.Delete(context.Background(), p.ID, f.company, true))

	_, err = f.store.GetProfileAnyState(context.Background(), p.ID, f.company)
	assert.True(t, errors.Is(err, faceprofile.ErrNotFound))
	assert.Equal(t, []string{"enroll/img.jpg"}, f.images.keys)

	last := f.events.events[len(f.events.events)-1]
	assert.True(t, last.Hard)
}

func TestDeleteMissingProfile(t *testing.T) {
	f := newFixture(t, nil)
	err := f.coord.Delete(context.Background(), uuid.New(), f.company, false)
	assert.True(t, errors.Is(err, faceprofile.ErrNotFound))
	assert.Empty(t, f.cache.users)
}

func TestSetPrimaryEvents(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := f.enroll(t, true)
	b := f.enroll(t, false)
	before := len(f.events.events)

	require.NoError(t, f.coord.SetPrimary(ctx, a.ID, f.user, f.company, true))
	assert.Len(t, f.events.events, before, "no-op transition publishes nothing")

	require.NoError(t, f.coord.SetPrimary(ctx, b.ID, f.user, f.company, true))
	require.Len(t, f.events.events, before+1)
	ev := f.events.events[before]
	assert.Equal(t, models.ProfilePrimaryChanged, ev.Type)
	assert.Equal(t, b.ID, ev.ProfileID)
	assert.True(t, ev.IsPrimary)

	err := f.coord.SetPrimary(ctx, b.ID, uuid.New(), f.company, true)
	assert.True(t, errors.Is(err, faceprofile.ErrNotFound))
}

func TestConcurrentPrimaryEnrollsLeaveOnePrimary(t *testing.T) {
	f := newFixture(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.coord.Enroll(context.Background(), f.input(true))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	list := f.list(t)
	assert.Len(t, list, 16)
	assert.Equal(t, 1, primaries(list))
}
