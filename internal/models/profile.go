package models

import (
	"time"

	"github.com/google/uuid"
)

// FaceProfile is one biometric enrollment of a user inside a company.
type FaceProfile struct {
	ID               uuid.UUID         `json:"profile_id" db:"profile_id"`
	UserID           uuid.UUID         `json:"user_id" db:"user_id"`
	CompanyID        uuid.UUID         `json:"company_id" db:"company_id"`
	Embedding        []float32         `json:"-" db:"embedding"`
	EmbeddingVersion string            `json:"embedding_version" db:"embedding_version"`
	EnrollImagePath  string            `json:"enroll_image_path,omitempty" db:"enroll_image_path"`
	IsPrimary        bool              `json:"is_primary" db:"is_primary"`
	QualityScore     *float64          `json:"quality_score,omitempty" db:"quality_score"`
	MetaData         map[string]string `json:"meta_data" db:"meta_data"`
	CreatedAt        time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at" db:"updated_at"`
	DeletedAt        *time.Time        `json:"deleted_at,omitempty" db:"deleted_at"`
	Indexed          bool              `json:"indexed" db:"indexed"`
	IndexVersion     int               `json:"index_version" db:"index_version"`
}

// Active reports whether the profile has not been soft-deleted.
func (p *FaceProfile) Active() bool {
	return p.DeletedAt == nil
}

type ProfileEventType string

const (
	ProfileEnrolled       ProfileEventType = "enrolled"
	ProfilePrimaryChanged ProfileEventType = "primary_changed"
	ProfileDeleted        ProfileEventType = "deleted"
)

// ProfileEvent is published to NATS after a successful profile mutation.
type ProfileEvent struct {
	Type      ProfileEventType `json:"type"`
	ProfileID uuid.UUID        `json:"profile_id"`
	UserID    uuid.UUID        `json:"user_id"`
	CompanyID uuid.UUID        `json:"company_id"`
	IsPrimary bool             `json:"is_primary"`
	Hard      bool             `json:"hard,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}
