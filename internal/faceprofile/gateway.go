package faceprofile

import (
	"context"

	"github.com/google/uuid"
)

// StatusOK is the only engine status that counts as a successful enrollment.
const StatusOK = "ok"

type EnrollRequest struct {
	UserID      uuid.UUID
	CompanyID   uuid.UUID
	DeviceID    string
	ImageData   []byte
	MakePrimary bool
	Metadata    map[string]string
}

// EnrollOutcome is an answer the engine actually gave: EnrollAccepted or
// EnrollRejected. A call that produced no answer is reported as an error
// of kind gateway_unavailable instead.
type EnrollOutcome interface {
	enrollOutcome()
}

type EnrollAccepted struct {
	ProfileID        string
	QualityScore     *float64
	Embedding        []float64
	EmbeddingVersion string
}

type EnrollRejected struct {
	Status  string
	Message string
}

func (EnrollAccepted) enrollOutcome() {}
func (EnrollRejected) enrollOutcome() {}

// Gateway is the verification engine as seen by the coordinator.
// Implementations do not retry.
type Gateway interface {
	Enroll(ctx context.Context, req EnrollRequest) (EnrollOutcome, error)
	// DeleteProfile removes a profile from the engine's own index.
	DeleteProfile(ctx context.Context, profileID string, companyID uuid.UUID, hard bool) error
}

// Unavailable marks err as a transport-level gateway failure.
func Unavailable(err error) error {
	return wrapError(KindGatewayUnavailable, err, "verification engine call failed")
}

// Rejected builds the error for an engine answer other than "ok".
func Rejected(status, message string) error {
	if message == "" {
		message = "engine returned status " + status
	}
	return newError(KindEnrollmentRejected, message)
}
