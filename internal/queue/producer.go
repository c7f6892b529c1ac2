package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/faceprofiles/internal/models"
)

const (
	ProfilesStreamName  = "PROFILES"
	ProfilesSubjectBase = "profiles"
)

// publisher is the slice of jetstream.JetStream the producer needs.
type publisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

type Producer struct {
	nc  *nats.Conn
	js  jetstream.JetStream
	pub publisher
}

func connect(natsURL string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create jetstream context: %w", err)
	}
	return nc, js, nil
}

func NewProducer(natsURL string) (*Producer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Producer{nc: nc, js: js, pub: js}, nil
}

// ProfilesStreamConfig describes the PROFILES stream. Events are kept while
// any consumer is interested, for at most a week.
func ProfilesStreamConfig() jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:        ProfilesStreamName,
		Subjects:    []string{ProfilesSubjectBase + ".>"},
		Retention:   jetstream.InterestPolicy,
		MaxAge:      7 * 24 * time.Hour,
		MaxMsgs:     1000000,
		Storage:     jetstream.FileStorage,
		Duplicates:  2 * time.Minute,
		Description: "Face profile lifecycle events",
	}
}

// EnsureStreams creates the PROFILES stream if it doesn't exist.
// Retries up to 30 times (1s apart) to handle NATS startup delay.
func (p *Producer) EnsureStreams(ctx context.Context) error {
	cfg := ProfilesStreamConfig()

	const maxAttempts = 30
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := p.js.CreateOrUpdateStream(opCtx, cfg)
		cancel()
		if err == nil {
			slog.Info("ensured NATS stream", "name", cfg.Name)
			return nil
		}
		if attempt == maxAttempts {
			return fmt.Errorf("create stream %s: %w (after %d attempts)", cfg.Name, err, maxAttempts)
		}
		slog.Warn("ensure NATS stream (retrying...)", "name", cfg.Name, "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}
	return nil
}

// ProfileSubject returns profiles.<company_id>.<type>.
func ProfileSubject(ev models.ProfileEvent) string {
	return fmt.Sprintf("%s.%s.%s", ProfilesSubjectBase, ev.CompanyID, ev.Type)
}

// PublishProfileEvent publishes ev to the PROFILES stream. The message id
// lets JetStream drop a duplicate publish of the same event.
func (p *Producer) PublishProfileEvent(ctx context.Context, ev models.ProfileEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal profile event: %w", err)
	}

	msgID := fmt.Sprintf("%s-%s-%d", ev.ProfileID, ev.Type, ev.Timestamp.UnixNano())
	if _, err := p.pub.Publish(ctx, ProfileSubject(ev), payload, jetstream.WithMsgID(msgID)); err != nil {
		return fmt.Errorf("publish profile event: %w", err)
	}
	return nil
}

// QueueDepth returns the number of messages held in the PROFILES stream.
func (p *Producer) QueueDepth(ctx context.Context) (uint64, error) {
	stream, err := p.js.Stream(ctx, ProfilesStreamName)
	if err != nil {
		return 0, err
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return 0, err
	}
	return info.State.Msgs, nil
}

func (p *Producer) Ping() error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (p *Producer) Close() {
	p.nc.Close()
}
