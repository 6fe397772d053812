package notify

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultChannel = "inspectline.changes"

// RedisBus shares changes between server replicas over Redis pub/sub.
type RedisBus struct {
	Client  *redis.Client
	Channel string
	Log     *zap.SugaredLogger
}

func NewRedisBus(url, channel string, log *zap.SugaredLogger) (*RedisBus, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &RedisBus{Client: redis.NewClient(opts), Channel: channel, Log: log}, nil
}

func (b *RedisBus) Publish(ctx context.Context, c Change) error {
	data, err := EncodeChange(c)
	if err != nil {
		return err
	}
	return b.Client.Publish(ctx, b.Channel, data).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context) (<-chan Change, func()) {
	ctx, stop := context.WithCancel(ctx)
	ps := b.Client.Subscribe(ctx, b.Channel)
	out := make(chan Change, subscriberBuffer)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				c, err := DecodeChange([]byte(msg.Payload))
				if err != nil {
					b.Log.Warnw("drop undecodable change", "channel", msg.Channel, "error", err)
					continue
				}
				select {
				case out <- c:
				default:
				}
			}
		}
	}()
	return out, stop
}

func (b *RedisBus) Close() error {
	return b.Client.Close()
}
