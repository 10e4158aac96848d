package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const relayChannelPrefix = "lexdesk:room:"

type relayEnvelope struct {
	Node    string          `json:"node"`
	Payload json.RawMessage `json:"payload"`
}

// RedisRelay shares room broadcasts between API nodes over Redis pub/sub.
// Each node ignores what it published itself.
type RedisRelay struct {
	client *redis.Client
	node   string
	logger *zap.Logger
}

func NewRedisRelay(client *redis.Client, logger *zap.Logger) *RedisRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisRelay{client: client, node: uuid.NewString(), logger: logger}
}

func (r *RedisRelay) Node() string { return r.node }

func (r *RedisRelay) Publish(ctx context.Context, documentID string, payload []byte) error {
	data, err := json.Marshal(relayEnvelope{Node: r.node, Payload: payload})
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, relayChannelPrefix+documentID, data).Err(); err != nil {
		return fmt.Errorf("publish room event: %w", err)
	}
	return nil
}

// Subscribe returns once the pattern subscription is confirmed; messages are
// delivered from a background goroutine until ctx is cancelled.
func (r *RedisRelay) Subscribe(ctx context.Context, deliver func(documentID string, payload []byte)) error {
	pubsub := r.client.PSubscribe(ctx, relayChannelPrefix+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe room events: %w", err)
	}

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env relayEnvelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					r.logger.Warn("bad relay message", zap.String("channel", msg.Channel), zap.Error(err))
					continue
				}
				if env.Node == r.node {
					continue
				}
				deliver(strings.TrimPrefix(msg.Channel, relayChannelPrefix), env.Payload)
			}
		}
	}()
	return nil
}
