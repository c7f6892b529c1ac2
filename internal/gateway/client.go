package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/your-org/faceprofiles/internal/config"
	"github.com/your-org/faceprofiles/internal/faceprofile"
	"github.com/your-org/faceprofiles/internal/observability"
)

// Client talks to the verification engine over gRPC. It implements
// faceprofile.Gateway and never retries.
type Client struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// NewClient creates a client for cfg.Addr. Extra dial options are appended
// after the defaults (tests use this to dial an in-memory listener).
func NewClient(cfg config.GatewayConfig, opts ...grpc.DialOption) (*Client, error) {
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
	}, opts...)

	conn, err := grpc.NewClient(cfg.Addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("connect to verification engine: %w", err)
	}

	return &Client{conn: conn, timeout: cfg.Timeout}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Enroll submits one image. Explicit engine answers come back as an outcome;
// a call that produced no answer is returned as a gateway_unavailable error.
func (c *Client) Enroll(ctx context.Context, req faceprofile.EnrollRequest) (faceprofile.EnrollOutcome, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	metadata := req.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}

	var resp enrollFaceResponse
	start := time.Now()
	err := c.conn.Invoke(ctx, enrollFaceMethod, &enrollFaceRequest{
		UserID:      req.UserID.String(),
		CompanyID:   req.CompanyID.String(),
		ImageData:   req.ImageData,
		DeviceID:    req.DeviceID,
		MakePrimary: req.MakePrimary,
		Metadata:    metadata,
	}, &resp)
	if err != nil {
		if rejected, ok := rejectionFromStatus(err); ok {
			observe("enroll", "rejected", start)
			return rejected, nil
		}
		observe("enroll", "unavailable", start)
		return nil, faceprofile.Unavailable(err)
	}

	if resp.Status != faceprofile.StatusOK {
		observe("enroll", "rejected", start)
		if len(resp.DuplicateProfiles) > 0 {
			slog.Info("engine reported duplicate faces",
				"user_id", req.UserID, "company_id", req.CompanyID,
				"duplicates", len(resp.DuplicateProfiles))
		}
		return faceprofile.EnrollRejected{Status: resp.Status, Message: resp.Message}, nil
	}

	observe("enroll", "ok", start)
	return faceprofile.EnrollAccepted{
		ProfileID:        resp.ProfileID,
		QualityScore:     resp.QualityScore,
		Embedding:        []float64(resp.Embedding),
		EmbeddingVersion: resp.EmbeddingVersion,
	}, nil
}

// DeleteProfile asks the engine to drop a profile from its own index.
func (c *Client) DeleteProfile(ctx context.Context, profileID string, companyID uuid.UUID, hard bool) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var resp deleteProfileResponse
	start := time.Now()
	err := c.conn.Invoke(ctx, deleteProfileMethod, &deleteProfileRequest{
		ProfileID:  profileID,
		CompanyID:  companyID.String(),
		HardDelete: hard,
	}, &resp)
	if err != nil {
		observe("delete_profile", "unavailable", start)
		return faceprofile.Unavailable(err)
	}
	if resp.Status != faceprofile.StatusOK {
		observe("delete_profile", "rejected", start)
		return fmt.Errorf("engine delete profile %s: %s: %s", profileID, resp.Status, resp.Message)
	}
	observe("delete_profile", "ok", start)
	return nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// rejectionFromStatus treats status codes that describe the request itself as
// an engine answer. Everything else (deadline, unavailable, internal, a
// cancelled caller) means no answer was obtained.
func rejectionFromStatus(err error) (faceprofile.EnrollRejected, bool) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return faceprofile.EnrollRejected{}, false
	}
	st, ok := status.FromError(err)
	if !ok {
		return faceprofile.EnrollRejected{}, false
	}
	switch st.Code() {
	case codes.InvalidArgument, codes.FailedPrecondition, codes.AlreadyExists, codes.NotFound:
		return faceprofile.EnrollRejected{
			Status:  strings.ToLower(st.Code().String()),
			Message: st.Message(),
		}, true
	default:
		return faceprofile.EnrollRejected{}, false
	}
}

func observe(method, result string, start time.Time) {
	observability.GatewayDuration.WithLabelValues(method, result).Observe(time.Since(start).Seconds())
}

var _ faceprofile.Gateway = (*Client)(nil)
