package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

const (
	serviceName         = "face_verification.FaceVerification"
	enrollFaceMethod    = "/" + serviceName + "/EnrollFace"
	deleteProfileMethod = "/" + serviceName + "/DeleteProfile"
)

type enrollFaceRequest struct {
	UserID      string            `json:"user_id"`
	CompanyID   string            `json:"company_id"`
	ImageData   []byte            `json:"image_data"`
	DeviceID    string            `json:"device_id,omitempty"`
	MakePrimary bool              `json:"make_primary"`
	Metadata    map[string]string `json:"metadata"`
}

type duplicateProfile struct {
	UserID     string  `json:"user_id"`
	Similarity float64 `json:"similarity"`
}

type enrollFaceResponse struct {
	Status            string             `json:"status"`
	ProfileID         string             `json:"profile_id,omitempty"`
	Message           string             `json:"message,omitempty"`
	QualityScore      *float64           `json:"quality_score,omitempty"`
	Embedding         engineVector       `json:"embedding,omitempty"`
	EmbeddingVersion  string             `json:"embedding_version,omitempty"`
	DuplicateProfiles []duplicateProfile `json:"duplicate_profiles,omitempty"`
}

type deleteProfileRequest struct {
	ProfileID  string `json:"profile_id"`
	CompanyID  string `json:"company_id"`
	HardDelete bool   `json:"hard_delete"`
}

type deleteProfileResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// engineVector decodes an embedding that may carry non-finite components.
// null and the strings "NaN", "Infinity" and "-Infinity" decode to NaN or
// ±Inf so the embedding validator can zero them.
type engineVector []float64

func (v *engineVector) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*v = nil
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("decode embedding: %w", err)
	}

	out := make(engineVector, len(items))
	for i, item := range items {
		x, err := parseComponent(bytes.TrimSpace(item))
		if err != nil {
			return fmt.Errorf("decode embedding component %d: %w", i, err)
		}
		out[i] = x
	}
	*v = out
	return nil
}

func parseComponent(raw []byte) (float64, error) {
	switch {
	case bytes.Equal(raw, []byte("null")):
		return math.NaN(), nil
	case len(raw) > 0 && raw[0] == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		return strconv.ParseFloat(s, 64)
	default:
		return strconv.ParseFloat(string(raw), 64)
	}
}
