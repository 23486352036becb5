package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/soarkit/backend/internal/models"
)

// eventChannel is the pub/sub channel carrying pipeline events from the
// worker to the API process.
const eventChannel = "soar:events"

// Publisher sends pipeline events over Redis pub/sub. The worker uses it as
// its event sink; the API's relay turns the stream back into hub broadcasts.
type Publisher struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewPublisher connects a publisher to the broker's Redis instance.
func NewPublisher(redisURL string, logger *slog.Logger) (*Publisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{rdb: redis.NewClient(opts), logger: logger}, nil
}

// Publish is best-effort. A dropped event costs a dashboard update, not a
// task, so failures are logged and swallowed.
func (p *Publisher) Publish(event string, data models.Document) {
	blob, err := json.Marshal(Event{Type: event, TS: time.Now().UTC(), Data: data})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.rdb.Publish(ctx, eventChannel, blob).Err(); err != nil {
		p.logger.Debug("event publish failed", "type", event, "error", err)
	}
}

func (p *Publisher) Close() error {
	return p.rdb.Close()
}

// Relay subscribes to the event channel and forwards frames to the hub.
type Relay struct {
	rdb    *redis.Client
	hub    *Hub
	logger *slog.Logger
}

// NewRelay connects a relay to the broker's Redis instance.
func NewRelay(redisURL string, hub *Hub, logger *slog.Logger) (*Relay, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{rdb: redis.NewClient(opts), hub: hub, logger: logger}, nil
}

// Run consumes the subscription until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, eventChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.logger.Warn("dropping undecodable live event", "error", err)
				continue
			}
			r.hub.Forward(ev)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Relay) Close() error {
	return r.rdb.Close()
}
