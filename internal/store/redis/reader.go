package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goredis "github.com/go-redis/redis/v8"

	"marketpanel/internal/model"
)

// Reader reads what Publisher writes.
type Reader struct {
	client *goredis.Client
}

// NewReader wraps client.
func NewReader(client *goredis.Client) *Reader {
	return &Reader{client: client}
}

// Latest returns the latest row stored for an instrument, or nil when the
// key is absent or expired.
func (r *Reader) Latest(ctx context.Context, asset string, tf model.Timeframe, symbol string) (*LatestRow, error) {
	key := LatestKey(asset, tf, symbol)
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	var row LatestRow
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &row, nil
}

// SubscribeRuns delivers raw run summaries published on RunChannel until ctx
// is done. The subscription is confirmed before it returns.
func (r *Reader) SubscribeRuns(ctx context.Context) (<-chan []byte, error) {
	sub := r.client.Subscribe(ctx, RunChannel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", RunChannel, err)
	}

	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(m.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
