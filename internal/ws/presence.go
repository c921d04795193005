package ws

import (
	"context"

	"go.uber.org/zap"

	"dm-service/internal/models"
	"dm-service/internal/observability"
)

// PresenceMirror receives every online-set snapshot. Update must not block.
type PresenceMirror interface {
	Update(online []string)
}

// Broadcaster pushes the full online set to every registered handle after
// each registry mutation.
type Broadcaster struct {
	mirror PresenceMirror
	log    *zap.Logger

	// seq numbers presence events; Announce runs under the registry's
	// mutation lock so it needs no synchronization of its own.
	seq uint64
}

// NewBroadcaster creates a Broadcaster. mirror may be nil.
func NewBroadcaster(mirror PresenceMirror, log *zap.Logger) *Broadcaster {
	return &Broadcaster{mirror: mirror, log: log.Named("presence")}
}

// PresenceChanged implements ChangeListener.
func (b *Broadcaster) PresenceChanged(r *Registry) []Handle {
	return b.Announce(r)
}

// Announce pushes the current snapshot to each handle independently and
// returns the handles whose push failed.
func (b *Broadcaster) Announce(r *Registry) []Handle {
	online, handles := r.Snapshot()
	event := models.OnlineUsersEvent(online)

	var failed []Handle
	for _, h := range handles {
		if err := h.Push(event); err != nil {
			b.log.Warn("presence push failed", zap.String("user_id", h.UserID()), zap.String("conn_id", h.ID()), zap.Error(err))
			observability.IncPushFailure(models.EventOnlineUsers)
			failed = append(failed, h)
		}
	}

	observability.SetOnlineUsers(len(online))
	if b.mirror != nil {
		b.mirror.Update(online)
	}
	b.seq++
	go b.publish(b.seq, online)
	b.log.Debug("presence announced", zap.Int("online", len(online)), zap.Int("failed", len(failed)))
	return failed
}

// publish ships the snapshot as a presence_changed event. Events may reach
// the broker out of order; consumers order them by seq.
func (b *Broadcaster) publish(seq uint64, online []string) {
	err := observability.PublishEvent(context.Background(), observability.RoutingPresenceEvents, observability.EventEnvelope{
		EventType: "presence_events",
		EventName: "presence_changed",
		Payload: map[string]interface{}{
			"seq":    seq,
			"online": online,
			"count":  len(online),
		},
	}, nil)
	if err != nil {
		b.log.Debug("presence event publish failed", zap.Uint64("seq", seq), zap.Error(err))
	}
}
