package repositories

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"dm-service/internal/models"
)

// MemoryStore is an in-process message store and user directory. It backs
// the memory driver and the service tests.
type MemoryStore struct {
	mu       sync.RWMutex
	seq      int64
	last     time.Time
	messages []models.Message
	index    map[string]int
	users    []models.User
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{index: map[string]int{}, now: time.Now}
}

// AddUser registers a directory entry.
func (s *MemoryStore) AddUser(user models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = append(s.users, user)
}

func (s *MemoryStore) Append(_ context.Context, msg models.NewMessage) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	if now.Before(s.last) {
		now = s.last
	}
	s.last = now
	s.seq++

	out := models.Message{
		ID:         strconv.FormatInt(s.seq, 10),
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Text:       msg.Text,
		Image:      msg.Image,
		CreatedAt:  now,
	}
	s.index[out.ID] = len(s.messages)
	s.messages = append(s.messages, out)
	return out, nil
}

func (s *MemoryStore) Query(_ context.Context, key models.ConversationKey, since time.Time) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.Message{}
	for _, m := range s.messages {
		if key.Includes(m) && !m.CreatedAt.Before(since) {
			out = append(out, m)
		}
	}
	// Append order already matches (created_at, id); sort keeps the contract explicit.
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return seqOf(out[i].ID) < seqOf(out[j].ID)
	})
	return out, nil
}

func (s *MemoryStore) GetMessage(_ context.Context, messageID string) (models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[messageID]
	if !ok {
		return models.Message{}, ErrMessageNotFound
	}
	return s.messages[i], nil
}

func (s *MemoryStore) MarkSeen(_ context.Context, messageIDs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var flipped int64
	for _, id := range messageIDs {
		i, ok := s.index[id]
		if !ok || s.messages[i].Seen {
			continue
		}
		s.messages[i].Seen = true
		flipped++
	}
	return flipped, nil
}

func (s *MemoryStore) UnseenCounts(_ context.Context, receiverID string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := map[string]int{}
	for _, m := range s.messages {
		if m.ReceiverID == receiverID && !m.Seen {
			counts[m.SenderID]++
		}
	}
	return counts, nil
}

func (s *MemoryStore) ListUsersExcept(_ context.Context, userID string) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := []models.User{}
	for _, u := range s.users {
		if u.ID != userID {
			users = append(users, u)
		}
	}
	return users, nil
}

func seqOf(id string) int64 {
	n, _ := strconv.ParseInt(id, 10, 64)
	return n
}

var _ MessageRepository = (*MemoryStore)(nil)
var _ UserRepository = (*MemoryStore)(nil)
var _ MessageRepository = (*MessageRepo)(nil)
var _ UserRepository = (*UserRepo)(nil)
var _ MessageRepository = (*MongoMessageRepo)(nil)
var _ UserRepository = (*MongoUserRepo)(nil)
