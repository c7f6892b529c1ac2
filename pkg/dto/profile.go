package dto

import (
	"github.com/google/uuid"
)

type FaceProfileResponse struct {
	ProfileID        uuid.UUID         `json:"profile_id"`
	UserID           uuid.UUID         `json:"user_id"`
	CompanyID        uuid.UUID         `json:"company_id"`
	EmbeddingVersion string            `json:"embedding_version"`
	IsPrimary        bool              `json:"is_primary"`
	QualityScore     *float64          `json:"quality_score,omitempty"`
	Metadata         map[string]string `json:"metadata"`
	ImageURL         string            `json:"image_url,omitempty"`
	Indexed          bool              `json:"indexed"`
	CreatedAt        string            `json:"created_at"`
	UpdatedAt        string            `json:"updated_at"`
}

type FaceProfileListResponse struct {
	Profiles []FaceProfileResponse `json:"profiles"`
	Total    int                   `json:"total"`
}

type SetPrimaryRequest struct {
	CompanyID uuid.UUID `json:"company_id" binding:"required"`
	Status    *bool     `json:"status" binding:"required"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable,omitempty"`
}
