package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	OnlineSetKey    = "dm:presence:online"
	PresenceChannel = "dm:presence"

	writeTimeout = 2 * time.Second
)

// Connect opens a Redis client and checks it with a ping.
func Connect(ctx context.Context, addr, password string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "cache.Connect.Ping")
	}
	return rdb, nil
}

// RedisPresence mirrors the online set into Redis for other services and
// publishes each snapshot on PresenceChannel. Only the newest pending
// snapshot is written; older ones are dropped.
type RedisPresence struct {
	rdb     *redis.Client
	pending chan []string
	log     *zap.Logger
}

func NewRedisPresence(rdb *redis.Client, log *zap.Logger) *RedisPresence {
	return &RedisPresence{
		rdb:     rdb,
		pending: make(chan []string, 1),
		log:     log.Named("presence_mirror"),
	}
}

// Update queues a snapshot without blocking. Calls are expected to be
// serialized by the caller.
func (p *RedisPresence) Update(online []string) {
	snapshot := append([]string(nil), online...)
	select {
	case p.pending <- snapshot:
		return
	default:
	}
	select {
	case <-p.pending:
	default:
	}
	select {
	case p.pending <- snapshot:
	default:
		p.log.Debug("presence snapshot dropped")
	}
}

// Run writes queued snapshots until ctx is done.
func (p *RedisPresence) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case online := <-p.pending:
			if err := p.write(ctx, online); err != nil {
				p.log.Warn("presence mirror write failed", zap.Error(err))
			}
		}
	}
}

func (p *RedisPresence) write(ctx context.Context, online []string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	payload, err := json.Marshal(online)
	if err != nil {
		return err
	}
	_, err = p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, OnlineSetKey)
		if len(online) > 0 {
			members := make([]interface{}, len(online))
			for i, id := range online {
				members[i] = id
			}
			pipe.SAdd(ctx, OnlineSetKey, members...)
		}
		pipe.Publish(ctx, PresenceChannel, payload)
		return nil
	})
	return errors.Wrap(err, "cache.RedisPresence.write")
}

// Online reads the mirrored online set.
func (p *RedisPresence) Online(ctx context.Context) ([]string, error) {
	members, err := p.rdb.SMembers(ctx, OnlineSetKey).Result()
	if err != nil {
		return nil, errors.Wrap(err, "cache.RedisPresence.Online")
	}
	return members, nil
}
