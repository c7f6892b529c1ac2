package faceprofile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/faceprofiles/internal/models"
	"github.com/your-org/faceprofiles/internal/observability"
)

const sideEffectTimeout = 5 * time.Second

// EngineProfileIDKey is the metadata key holding the engine's profile id
// when it could not be used as the local id.
const EngineProfileIDKey = "engine_profile_id"

// ProfileStore persists face profiles and applies primary transitions
// atomically per (user, company).
type ProfileStore interface {
	ListActiveProfiles(ctx context.Context, userID, companyID uuid.UUID) ([]models.FaceProfile, error)
	GetProfile(ctx context.Context, profileID, companyID uuid.UUID) (*models.FaceProfile, error)
	// GetProfileAnyState also returns soft-deleted profiles.
	GetProfileAnyState(ctx context.Context, profileID, companyID uuid.UUID) (*models.FaceProfile, error)
	// InsertProfile clears the user's current primary first when p.IsPrimary is set.
	// maxActive > 0 refuses the insert once the user holds that many active
	// profiles; the count and the insert are atomic per (user, company).
	InsertProfile(ctx context.Context, p *models.FaceProfile, maxActive int) error
	SoftDeleteProfile(ctx context.Context, profileID, companyID uuid.UUID) (*models.FaceProfile, error)
	HardDeleteProfile(ctx context.Context, profileID, companyID uuid.UUID) (*models.FaceProfile, error)
	// SetPrimary reports whether any row changed.
	SetPrimary(ctx context.Context, profileID, userID, companyID uuid.UUID, value bool) (bool, error)
}

// Invalidator drops cached views of a user's profiles.
type Invalidator interface {
	InvalidateUser(ctx context.Context, userID uuid.UUID) error
}

type EventPublisher interface {
	PublishProfileEvent(ctx context.Context, ev models.ProfileEvent) error
}

type ImageEraser interface {
	DeleteObject(ctx context.Context, key string) error
}

type Options struct {
	// EmbeddingVersion is recorded when the engine does not name one.
	EmbeddingVersion string
	// MaxProfilesPerUser caps active profiles per user; <= 0 disables the cap.
	MaxProfilesPerUser int
	// CommitTimeout bounds the local write that follows an accepted enrollment.
	CommitTimeout time.Duration
	// Compensate asks the engine to drop a profile the local side failed to record.
	Compensate bool

	Cache  Invalidator
	Events EventPublisher
	Images ImageEraser
}

// Coordinator runs the enrollment, deletion and primary-selection flows.
// It keeps no profile state between calls.
type Coordinator struct {
	store   ProfileStore
	gateway Gateway
	opts    Options
	now     func() time.Time
}

func NewCoordinator(store ProfileStore, gateway Gateway, opts Options) (*Coordinator, error) {
	if store == nil {
		return nil, errors.New("profile store is required")
	}
	if gateway == nil {
		return nil, errors.New("verification gateway is required")
	}
	if opts.EmbeddingVersion == "" {
		return nil, errors.New("default embedding version is required")
	}
	if opts.CommitTimeout <= 0 {
		opts.CommitTimeout = 10 * time.Second
	}
	return &Coordinator{store: store, gateway: gateway, opts: opts, now: time.Now}, nil
}

type EnrollInput struct {
	UserID          uuid.UUID
	CompanyID       uuid.UUID
	DeviceID        string
	ImageData       []byte
	MakePrimary     bool
	Metadata        map[string]string
	EnrollImagePath string
}

func (c *Coordinator) List(ctx context.Context, userID, companyID uuid.UUID) ([]models.FaceProfile, error) {
	return c.store.ListActiveProfiles(ctx, userID, companyID)
}

func (c *Coordinator) Get(ctx context.Context, profileID, companyID uuid.UUID) (*models.FaceProfile, error) {
	return c.store.GetProfile(ctx, profileID, companyID)
}

// GetAnyState returns a profile whether or not it was soft-deleted.
func (c *Coordinator) GetAnyState(ctx context.Context, profileID, companyID uuid.UUID) (*models.FaceProfile, error) {
	return c.store.GetProfileAnyState(ctx, profileID, companyID)
}

// Enroll registers a face with the engine and records the returned embedding.
// Once the engine has accepted, the local write runs to completion even if ctx
// is canceled, because the engine-side registration cannot be undone from here.
func (c *Coordinator) Enroll(ctx context.Context, in EnrollInput) (*models.FaceProfile, error) {
	if err := validateEnrollInput(in); err != nil {
		observability.Enrollments.WithLabelValues("invalid_request").Inc()
		return nil, err
	}

	// Early refusal only; InsertProfile enforces the cap under the user lock.
	if c.opts.MaxProfilesPerUser > 0 {
		active, err := c.store.ListActiveProfiles(ctx, in.UserID, in.CompanyID)
		if err != nil {
			return nil, fmt.Errorf("count active profiles: %w", err)
		}
		if len(active) >= c.opts.MaxProfilesPerUser {
			observability.Enrollments.WithLabelValues("limit_reached").Inc()
			return nil, LimitReached(c.opts.MaxProfilesPerUser, len(active))
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, wrapError(KindGatewayUnavailable, err, "enrollment canceled before the engine was called")
	}

	outcome, err := c.gateway.Enroll(ctx, EnrollRequest{
		UserID:      in.UserID,
		CompanyID:   in.CompanyID,
		DeviceID:    in.DeviceID,
		ImageData:   in.ImageData,
		MakePrimary: in.MakePrimary,
		Metadata:    in.Metadata,
	})
	if err != nil {
		observability.Enrollments.WithLabelValues("unavailable").Inc()
		if KindOf(err) != KindGatewayUnavailable {
			err = Unavailable(err)
		}
		return nil, err
	}

	var accepted EnrollAccepted
	switch o := outcome.(type) {
	case EnrollAccepted:
		accepted = o
	case EnrollRejected:
		observability.Enrollments.WithLabelValues("rejected").Inc()
		slog.Info("enrollment rejected by engine",
			"user_id", in.UserID, "company_id", in.CompanyID, "status", o.Status, "message", o.Message)
		return nil, Rejected(o.Status, o.Message)
	default:
		return nil, fmt.Errorf("unexpected enroll outcome %T", outcome)
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.CommitTimeout)
	defer cancel()

	emb, err := ValidateEmbedding(accepted.Embedding)
	if err != nil {
		observability.Enrollments.WithLabelValues("invalid_embedding").Inc()
		c.orphaned(writeCtx, accepted.ProfileID, in, err)
		return nil, err
	}

	version := accepted.EmbeddingVersion
	if version == "" {
		version = c.opts.EmbeddingVersion
	}
	metadata := make(map[string]string, len(in.Metadata)+1)
	for k, v := range in.Metadata {
		metadata[k] = v
	}
	id, linked := c.localProfileID(accepted.ProfileID)
	if !linked && accepted.ProfileID != "" {
		metadata[EngineProfileIDKey] = accepted.ProfileID
	}

	p := &models.FaceProfile{
		ID:               id,
		UserID:           in.UserID,
		CompanyID:        in.CompanyID,
		Embedding:        emb.Values,
		EmbeddingVersion: version,
		EnrollImagePath:  in.EnrollImagePath,
		IsPrimary:        PlanEnroll(in.MakePrimary) == ActionPromote,
		QualityScore:     accepted.QualityScore,
		MetaData:         metadata,
	}
	if err := c.store.InsertProfile(writeCtx, p, c.opts.MaxProfilesPerUser); err != nil {
		switch KindOf(err) {
		case KindProfileLimitReached:
			observability.Enrollments.WithLabelValues("limit_reached").Inc()
			c.orphaned(writeCtx, accepted.ProfileID, in, err)
			return nil, err
		case KindProfileExists:
			// The engine id names a profile we already hold; deleting it
			// engine-side would orphan the stored one.
			observability.Enrollments.WithLabelValues("store_failed").Inc()
			slog.Warn("engine returned an existing profile id",
				"profile_id", p.ID, "user_id", in.UserID, "company_id", in.CompanyID, "error", err)
			return nil, err
		}
		observability.Enrollments.WithLabelValues("store_failed").Inc()
		c.orphaned(writeCtx, accepted.ProfileID, in, err)
		return nil, fmt.Errorf("store face profile: %w", err)
	}

	observability.Enrollments.WithLabelValues("ok").Inc()
	slog.Info("face profile enrolled",
		"profile_id", p.ID, "user_id", p.UserID, "company_id", p.CompanyID, "primary", p.IsPrimary)

	c.afterMutation(writeCtx, models.ProfileEvent{
		Type:      models.ProfileEnrolled,
		ProfileID: p.ID,
		UserID:    p.UserID,
		CompanyID: p.CompanyID,
		IsPrimary: p.IsPrimary,
	})
	return p, nil
}

// Delete removes a profile. Soft delete keeps the row; hard delete erases it
// together with its stored image. Neither promotes another profile to primary.
func (c *Coordinator) Delete(ctx context.Context, profileID, companyID uuid.UUID, hard bool) error {
	var (
		p    *models.FaceProfile
		err  error
		mode = "soft"
	)
	if hard {
		mode = "hard"
		p, err = c.store.HardDeleteProfile(ctx, profileID, companyID)
	} else {
		p, err = c.store.SoftDeleteProfile(ctx, profileID, companyID)
	}
	if err != nil {
		return err
	}
	observability.ProfileDeletes.WithLabelValues(mode).Inc()
	slog.Info("face profile deleted",
		"profile_id", p.ID, "user_id", p.UserID, "company_id", p.CompanyID, "mode", mode, "was_primary", p.IsPrimary)

	sctx, cancel := sideEffectContext(ctx)
	defer cancel()

	if hard && p.EnrollImagePath != "" && c.opts.Images != nil {
		if err := c.opts.Images.DeleteObject(sctx, p.EnrollImagePath); err != nil {
			observability.SideEffectFailures.WithLabelValues("image_erase").Inc()
			slog.Warn("erase enrollment image", "profile_id", p.ID, "key", p.EnrollImagePath, "error", err)
		}
	}

	c.afterMutation(sctx, models.ProfileEvent{
		Type:      models.ProfileDeleted,
		ProfileID: p.ID,
		UserID:    p.UserID,
		CompanyID: p.CompanyID,
		IsPrimary: p.IsPrimary,
		Hard:      hard,
	})
	return nil
}

// SetPrimary flips the primary flag. cannot_unset_last_primary is returned as is.
func (c *Coordinator) SetPrimary(ctx context.Context, profileID, userID, companyID uuid.UUID, value bool) error {
	transition := "unset"
	if value {
		transition = "set"
	}

	changed, err := c.store.SetPrimary(ctx, profileID, userID, companyID, value)
	if err != nil {
		observability.PrimaryTransitions.WithLabelValues(transition, string(KindOf(err))).Inc()
		return err
	}
	if !changed {
		observability.PrimaryTransitions.WithLabelValues(transition, "noop").Inc()
		return nil
	}
	observability.PrimaryTransitions.WithLabelValues(transition, "ok").Inc()

	sctx, cancel := sideEffectContext(ctx)
	defer cancel()
	c.afterMutation(sctx, models.ProfileEvent{
		Type:      models.ProfilePrimaryChanged,
		ProfileID: profileID,
		UserID:    userID,
		CompanyID: companyID,
		IsPrimary: value,
	})
	return nil
}

// afterMutation invalidates cached views and announces the change.
// Failures are logged only.
func (c *Coordinator) afterMutation(ctx context.Context, ev models.ProfileEvent) {
	if c.opts.Cache != nil {
		if err := c.opts.Cache.InvalidateUser(ctx, ev.UserID); err != nil {
			observability.SideEffectFailures.WithLabelValues("cache_invalidate").Inc()
			slog.Warn("invalidate user cache", "user_id", ev.UserID, "error", err)
		}
	}
	if c.opts.Events != nil {
		ev.Timestamp = c.now().UTC()
		if err := c.opts.Events.PublishProfileEvent(ctx, ev); err != nil {
			observability.SideEffectFailures.WithLabelValues("event_publish").Inc()
			slog.Warn("publish profile event", "type", ev.Type, "profile_id", ev.ProfileID, "error", err)
		}
	}
}

// orphaned records that the engine accepted a profile we could not store.
func (c *Coordinator) orphaned(ctx context.Context, engineProfileID string, in EnrollInput, cause error) {
	slog.Warn("engine accepted enrollment but no local profile was recorded",
		"engine_profile_id", engineProfileID, "user_id", in.UserID, "company_id", in.CompanyID, "error", cause)

	if !c.opts.Compensate || engineProfileID == "" {
		return
	}
	if err := c.gateway.DeleteProfile(ctx, engineProfileID, in.CompanyID, true); err != nil {
		observability.SideEffectFailures.WithLabelValues("compensation").Inc()
		slog.Warn("compensating engine delete failed", "engine_profile_id", engineProfileID, "error", err)
	}
}

// localProfileID reuses the engine's id when it is a UUID. linked is false
// when a fresh local id had to be generated.
func (c *Coordinator) localProfileID(engineID string) (id uuid.UUID, linked bool) {
	if engineID == "" {
		return uuid.New(), false
	}
	id, err := uuid.Parse(engineID)
	if err != nil {
		slog.Warn("engine profile id is not a uuid, generating a local one", "engine_profile_id", engineID)
		return uuid.New(), false
	}
	return id, true
}

func validateEnrollInput(in EnrollInput) error {
	switch {
	case in.UserID == uuid.Nil:
		return newError(KindInvalidRequest, "user_id is required")
	case in.CompanyID == uuid.Nil:
		return newError(KindInvalidRequest, "company_id is required")
	case len(in.ImageData) == 0:
		return newError(KindInvalidRequest, "image data is required")
	}
	return nil
}

func sideEffectContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
}
