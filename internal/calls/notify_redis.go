package calls

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

const (
	callChannelPrefix = "call.updates."
	userChannelPrefix = "call.user."
)

// RedisNotifier fans call record snapshots out over Redis pub/sub so
// negotiation engines and watch endpoints on any node observe changes
// without the signaling service pushing to them directly.
//
// Two channel families are published per change: one keyed by call id,
// one per participant user id.
type RedisNotifier struct {
	rdb *redis.Client
	log *slog.Logger
}

func NewRedisNotifier(rdb *redis.Client, log *slog.Logger) *RedisNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &RedisNotifier{rdb: rdb, log: log}
}

func (n *RedisNotifier) CallChanged(ctx context.Context, c Call) {
	payload, err := json.Marshal(c)
	if err != nil {
		n.log.Error("call snapshot marshal failed", "call_id", c.ID, "err", err)
		return
	}
	// Best-effort: a lost publish is recovered by the next change or by
	// the subscriber's initial snapshot fetch.
	channels := []string{
		callChannelPrefix + c.ID,
		userChannelPrefix + c.CallerID,
		userChannelPrefix + c.CalleeID,
	}
	for _, ch := range channels {
		if err := n.rdb.Publish(ctx, ch, payload).Err(); err != nil {
			n.log.Warn("call change publish failed", "channel", ch, "err", err)
		}
	}
}

func (n *RedisNotifier) WatchCall(ctx context.Context, callID string) (<-chan Call, func()) {
	return n.watch(ctx, callChannelPrefix+callID)
}

func (n *RedisNotifier) WatchUser(ctx context.Context, userID string) (<-chan Call, func()) {
	return n.watch(ctx, userChannelPrefix+userID)
}

func (n *RedisNotifier) watch(ctx context.Context, channel string) (<-chan Call, func()) {
	sub := n.rdb.Subscribe(ctx, channel)
	out := make(chan Call, 16)

	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var c Call
			if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
				n.log.Warn("call snapshot unmarshal failed", "channel", channel, "err", err)
				continue
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			_ = sub.Close()
		})
	}
	return out, stop
}
