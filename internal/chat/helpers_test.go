package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"dm-service/internal/models"
	"dm-service/internal/repositories"
	"dm-service/internal/ws"
)

type recordingHandle struct {
	id     string
	userID string

	mu     sync.Mutex
	events []models.Event
	closed bool
	fail   bool
}

func newRecordingHandle(id, userID string) *recordingHandle {
	return &recordingHandle{id: id, userID: userID}
}

func (h *recordingHandle) ID() string     { return h.id }
func (h *recordingHandle) UserID() string { return h.userID }

func (h *recordingHandle) Push(event models.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ws.ErrHandleClosed
	}
	if h.fail {
		return ws.ErrSlowConsumer
	}
	h.events = append(h.events, event)
	return nil
}

func (h *recordingHandle) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
}

func (h *recordingHandle) named(name string) []models.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []models.Event
	for _, ev := range h.events {
		if ev.Event == name {
			out = append(out, ev)
		}
	}
	return out
}

func (h *recordingHandle) messages() []models.Message {
	var out []models.Message
	for _, ev := range h.named(models.EventNewMessage) {
		out = append(out, ev.Data.(models.Message))
	}
	return out
}

type noopUploader struct {
	url string
	err error
}

func (u noopUploader) Upload(context.Context, string) (string, error) {
	return u.url, u.err
}

// hookedStore runs afterQuery once Query has taken its snapshot.
type hookedStore struct {
	*repositories.MemoryStore
	afterQuery func()
}

func (s *hookedStore) Query(ctx context.Context, key models.ConversationKey, since time.Time) ([]models.Message, error) {
	msgs, err := s.MemoryStore.Query(ctx, key, since)
	if s.afterQuery != nil {
		s.afterQuery()
	}
	return msgs, err
}

type fixture struct {
	store         *repositories.MemoryStore
	registry      *ws.Registry
	tracker       *ViewTracker
	locks         *ConversationLocks
	router        *Router
	conversations *ConversationService
	dispatcher    *Dispatcher
	conns         int
}

func newFixture(store repositories.MessageRepository, uploader noopUploader) *fixture {
	mem := repositories.NewMemoryStore()
	if store == nil {
		store = mem
	}
	log := zap.NewNop()
	registry := ws.NewRegistry(nil, log)
	tracker := NewViewTracker()
	locks := NewConversationLocks()
	router := NewRouter(store, uploader, registry, tracker, locks, log)
	conversations := NewConversationService(store, mem, tracker, locks, log)
	return &fixture{
		store:         mem,
		registry:      registry,
		tracker:       tracker,
		locks:         locks,
		router:        router,
		conversations: conversations,
		dispatcher:    NewDispatcher(router, conversations, tracker, log),
	}
}

// connect registers a live session for userID the way the websocket
// handler does.
func (f *fixture) connect(userID string) *recordingHandle {
	f.conns++
	h := newRecordingHandle(fmt.Sprintf("conn-%s-%d", userID, f.conns), userID)
	f.dispatcher.Connected(userID, h.id)
	f.registry.Register(userID, h)
	return h
}

func (f *fixture) disconnect(h *recordingHandle) {
	f.registry.Unregister(h.userID, h)
	f.dispatcher.Disconnected(h.userID, h.id)
}

// lastCounts returns the payload of the newest unseenMessages push.
func (h *recordingHandle) lastCounts() map[string]int {
	pushed := h.named(models.EventUnseenMessages)
	if len(pushed) == 0 {
		return nil
	}
	return pushed[len(pushed)-1].Data.(map[string]int)
}

func text(s string) models.Content {
	return models.Content{Text: s}
}
