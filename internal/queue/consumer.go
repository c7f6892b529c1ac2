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

type ProfileEventHandler func(ctx context.Context, ev models.ProfileEvent) error

// ackMsg is the part of jetstream.Msg a worker touches.
type ackMsg interface {
	Data() []byte
	Subject() string
	Ack() error
	Nak() error
	Term() error
}

type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Consumer{nc: nc, js: js}, nil
}

// ConsumeProfileEvents starts a durable consumer on the PROFILES stream.
// workerCount determines how many goroutines process messages concurrently.
// It returns once the fetch loop and workers are running.
func (c *Consumer) ConsumeProfileEvents(ctx context.Context, consumerName string, handler ProfileEventHandler, workerCount int) error {
	if workerCount < 1 {
		workerCount = 1
	}

	stream, err := c.js.Stream(ctx, ProfilesStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", ProfilesStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		FilterSubject: ProfilesSubjectBase + ".>",
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	msgCh := make(chan jetstream.Msg, workerCount*2)

	go func() {
		defer close(msgCh)
		for {
			if ctx.Err() != nil {
				return
			}

			batch, err := cons.Fetch(workerCount, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("fetch profile events error", "error", err)
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				select {
				case msgCh <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	for i := 0; i < workerCount; i++ {
		go func(workerID int) {
			for msg := range msgCh {
				handleMessage(ctx, workerID, msg, handler)
			}
		}(i)
	}

	slog.Info("profile event consumer started", "consumer", consumerName, "workers", workerCount)
	return nil
}

// handleMessage acks on success, naks on handler error for redelivery and
// terminates payloads that can never decode.
func handleMessage(ctx context.Context, workerID int, msg ackMsg, handler ProfileEventHandler) {
	var ev models.ProfileEvent
	if err := json.Unmarshal(msg.Data(), &ev); err != nil {
		slog.Error("decode profile event", "worker", workerID, "subject", msg.Subject(), "error", err)
		_ = msg.Term()
		return
	}

	if err := handler(ctx, ev); err != nil {
		slog.Error("process profile event error", "worker", workerID, "subject", msg.Subject(),
			"profile_id", ev.ProfileID, "error", err)
		_ = msg.Nak()
		return
	}
	_ = msg.Ack()
}

func (c *Consumer) Close() {
	c.nc.Close()
}
