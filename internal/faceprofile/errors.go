package faceprofile

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the stable, caller-visible classification of a failure.
type Kind string

const (
	KindMissingEmbedding       Kind = "missing_embedding"
	KindDimensionMismatch      Kind = "dimension_mismatch"
	KindEnrollmentRejected     Kind = "enrollment_rejected"
	KindGatewayUnavailable     Kind = "gateway_unavailable"
	KindNotFound               Kind = "not_found"
	KindCannotUnsetLastPrimary Kind = "cannot_unset_last_primary"
	KindInvalidRequest         Kind = "invalid_request"
	KindProfileLimitReached    Kind = "profile_limit_reached"
	KindProfileExists          Kind = "profile_exists"
	KindInternal               Kind = "internal"
)

// Sentinels for errors.Is. They compare by Kind only, so a wrapped
// *Error carrying an engine message still matches.
var (
	ErrMissingEmbedding       = &Error{Kind: KindMissingEmbedding}
	ErrDimensionMismatch      = &Error{Kind: KindDimensionMismatch}
	ErrEnrollmentRejected     = &Error{Kind: KindEnrollmentRejected}
	ErrGatewayUnavailable     = &Error{Kind: KindGatewayUnavailable}
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrCannotUnsetLastPrimary = &Error{Kind: KindCannotUnsetLastPrimary}
	ErrInvalidRequest         = &Error{Kind: KindInvalidRequest}
	ErrProfileLimitReached    = &Error{Kind: KindProfileLimitReached}
	ErrProfileExists          = &Error{Kind: KindProfileExists}
)

type Error struct {
	Kind Kind
	// Message is human readable. For KindEnrollmentRejected it is the engine's message verbatim.
	Message string
	Err     error
}

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func wrapError(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// NotFound builds a not_found error naming the missing resource.
func NotFound(what string) error {
	return newError(KindNotFound, what+" not found")
}

// LimitReached reports that a user already holds max active profiles.
func LimitReached(max, current int) error {
	return newError(KindProfileLimitReached,
		fmt.Sprintf("maximum %d face profiles allowed per user, current: %d", max, current))
}

// ProfileExists reports an insert whose profile id is already stored.
func ProfileExists(cause error) error {
	return wrapError(KindProfileExists, cause, "face profile id already exists")
}

type Metadata struct {
	HTTPStatus    int
	PublicMessage string
	Retryable     bool
}

var metadataByKind = map[Kind]Metadata{
	KindMissingEmbedding:       {HTTPStatus: http.StatusUnprocessableEntity, PublicMessage: "engine returned no embedding"},
	KindDimensionMismatch:      {HTTPStatus: http.StatusUnprocessableEntity, PublicMessage: "engine returned an embedding of the wrong size"},
	KindEnrollmentRejected:     {HTTPStatus: http.StatusUnprocessableEntity, PublicMessage: "image was rejected by the verification engine"},
	KindGatewayUnavailable:     {HTTPStatus: http.StatusServiceUnavailable, PublicMessage: "verification engine unavailable", Retryable: true},
	KindNotFound:               {HTTPStatus: http.StatusNotFound, PublicMessage: "face profile not found"},
	KindCannotUnsetLastPrimary: {HTTPStatus: http.StatusConflict, PublicMessage: "cannot unset the last primary profile"},
	KindInvalidRequest:         {HTTPStatus: http.StatusBadRequest, PublicMessage: "invalid request"},
	KindProfileLimitReached:    {HTTPStatus: http.StatusConflict, PublicMessage: "face profile limit reached"},
	KindProfileExists:          {HTTPStatus: http.StatusConflict, PublicMessage: "face profile already exists"},
	KindInternal:               {HTTPStatus: http.StatusInternalServerError, PublicMessage: "internal server error", Retryable: true},
}

// MetadataFor maps a Kind to its transport metadata, defaulting to internal.
func MetadataFor(kind Kind) Metadata {
	if meta, ok := metadataByKind[kind]; ok {
		return meta
	}
	return metadataByKind[KindInternal]
}
