package storage

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/faceprofiles/internal/faceprofile"
	"github.com/your-org/faceprofiles/internal/models"
)

type profileKey struct {
	profileID uuid.UUID
	companyID uuid.UUID
}

// MemoryStore is an in-process ProfileStore with the same primary rules as
// PostgresStore. One mutex stands in for the per-user transaction lock.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[profileKey]*models.FaceProfile
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles: make(map[profileKey]*models.FaceProfile),
		now:      time.Now,
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) ListActiveProfiles(ctx context.Context, userID, companyID uuid.UUID) ([]models.FaceProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.FaceProfile{}
	for _, p := range s.profiles {
		if p.UserID == userID && p.CompanyID == companyID && p.Active() {
			out = append(out, withoutEmbedding(p))
		}
	}
	slices.SortFunc(out, func(a, b models.FaceProfile) int {
		if a.IsPrimary != b.IsPrimary {
			if a.IsPrimary {
				return -1
			}
			return 1
		}
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return slices.Compare(a.ID[:], b.ID[:])
	})
	return out, nil
}

func (s *MemoryStore) GetProfile(ctx context.Context, profileID, companyID uuid.UUID) (*models.FaceProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[profileKey{profileID, companyID}]
	if !ok || !p.Active() {
		return nil, faceprofile.NotFound("face profile")
	}
	c := clone(p)
	return &c, nil
}

func (s *MemoryStore) GetProfileAnyState(ctx context.Context, profileID, companyID uuid.UUID) (*models.FaceProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[profileKey{profileID, companyID}]
	if !ok {
		return nil, faceprofile.NotFound("face profile")
	}
	c := clone(p)
	return &c, nil
}

func (s *MemoryStore) InsertProfile(ctx context.Context, p *models.FaceProfile, maxActive int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := profileKey{p.ID, p.CompanyID}
	if _, exists := s.profiles[key]; exists {
		return faceprofile.ProfileExists(fmt.Errorf("insert face profile %s", p.ID))
	}
	if maxActive > 0 {
		if active := s.countActiveLocked(p.UserID, p.CompanyID); active >= maxActive {
			return faceprofile.LimitReached(maxActive, active)
		}
	}
	if p.MetaData == nil {
		p.MetaData = map[string]string{}
	}

	now := s.now()
	if faceprofile.PlanEnroll(p.IsPrimary) == faceprofile.ActionPromote {
		s.clearPrimaryLocked(p.UserID, p.CompanyID, now)
	}
	p.CreatedAt = now
	p.UpdatedAt = now
	p.Indexed = false
	p.IndexVersion = 0

	stored := clone(p)
	s.profiles[key] = &stored
	return nil
}

func (s *MemoryStore) SoftDeleteProfile(ctx context.Context, profileID, companyID uuid.UUID) (*models.FaceProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[profileKey{profileID, companyID}]
	if !ok || !p.Active() {
		return nil, faceprofile.NotFound("face profile")
	}
	now := s.now()
	p.DeletedAt = &now
	p.UpdatedAt = now
	p.Indexed = false

	out := withoutEmbedding(p)
	return &out, nil
}

func (s *MemoryStore) HardDeleteProfile(ctx context.Context, profileID, companyID uuid.UUID) (*models.FaceProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := profileKey{profileID, companyID}
	p, ok := s.profiles[key]
	if !ok {
		return nil, faceprofile.NotFound("face profile")
	}
	delete(s.profiles, key)

	out := withoutEmbedding(p)
	return &out, nil
}

func (s *MemoryStore) SetPrimary(ctx context.Context, profileID, userID, companyID uuid.UUID, value bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.profiles[profileKey{profileID, companyID}]
	if !ok || !target.Active() || target.UserID != userID {
		return false, faceprofile.NotFound("face profile")
	}

	primaries := 0
	for _, p := range s.profiles {
		if p.UserID == userID && p.CompanyID == companyID && p.Active() && p.IsPrimary {
			primaries++
		}
	}

	action, err := faceprofile.PlanSetPrimary(target, primaries, value)
	if err != nil {
		return false, err
	}

	now := s.now()
	switch action {
	case faceprofile.ActionNone:
		return false, nil
	case faceprofile.ActionPromote:
		s.clearPrimaryLocked(userID, companyID, now)
		target.IsPrimary = true
	case faceprofile.ActionDemote:
		target.IsPrimary = false
	}
	target.UpdatedAt = now
	return true, nil
}

func (s *MemoryStore) MarkIndexed(ctx context.Context, profileID, companyID uuid.UUID, indexVersion int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[profileKey{profileID, companyID}]
	if !ok || !p.Active() || len(p.Embedding) == 0 {
		return false, nil
	}
	if p.Indexed && p.IndexVersion == indexVersion {
		return false, nil
	}
	p.Indexed = true
	p.IndexVersion = indexVersion
	return true, nil
}

func (s *MemoryStore) countActiveLocked(userID, companyID uuid.UUID) int {
	n := 0
	for _, p := range s.profiles {
		if p.UserID == userID && p.CompanyID == companyID && p.Active() {
			n++
		}
	}
	return n
}

func (s *MemoryStore) clearPrimaryLocked(userID, companyID uuid.UUID, now time.Time) {
	for _, p := range s.profiles {
		if p.UserID == userID && p.CompanyID == companyID && p.Active() && p.IsPrimary {
			p.IsPrimary = false
			p.UpdatedAt = now
		}
	}
}

func clone(p *models.FaceProfile) models.FaceProfile {
	c := *p
	c.Embedding = slices.Clone(p.Embedding)
	c.MetaData = maps.Clone(p.MetaData)
	if p.DeletedAt != nil {
		t := *p.DeletedAt
		c.DeletedAt = &t
	}
	if p.QualityScore != nil {
		q := *p.QualityScore
		c.QualityScore = &q
	}
	return c
}

func withoutEmbedding(p *models.FaceProfile) models.FaceProfile {
	c := clone(p)
	c.Embedding = nil
	return c
}
