package repositories

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dm-service/internal/models"
)

func TestMemoryStoreQueryOrdersByTimeThenID(t *testing.T) {
	store := NewMemoryStore()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store.now = func() time.Time { return fixed }
	ctx := context.Background()

	first, err := store.Append(ctx, models.NewMessage{SenderID: "a", ReceiverID: "b", Text: "1"})
	require.NoError(t, err)
	second, err := store.Append(ctx, models.NewMessage{SenderID: "b", ReceiverID: "a", Text: "2"})
	require.NoError(t, err)
	_, err = store.Append(ctx, models.NewMessage{SenderID: "a", ReceiverID: "c", Text: "other"})
	require.NoError(t, err)

	msgs, err := store.Query(ctx, models.NewConversationKey("b", "a"), time.Time{})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, first.ID, msgs[0].ID)
	assert.Equal(t, second.ID, msgs[1].ID)
	assert.Equal(t, fixed, msgs[0].CreatedAt)
}

func TestMemoryStoreTimestampsNeverDecrease(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	calls := 0
	store.now = func() time.Time {
		calls++
		if calls == 2 {
			return base.Add(-time.Hour)
		}
		return base
	}
	ctx := context.Background()

	a, _ := store.Append(ctx, models.NewMessage{SenderID: "a", ReceiverID: "b", Text: "1"})
	b, _ := store.Append(ctx, models.NewMessage{SenderID: "a", ReceiverID: "b", Text: "2"})
	assert.False(t, b.CreatedAt.Before(a.CreatedAt))
}

func TestMemoryStoreMarkSeenCountsOnlyFlips(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	m, _ := store.Append(ctx, models.NewMessage{SenderID: "a", ReceiverID: "b", Text: "hi"})

	flipped, err := store.MarkSeen(ctx, []string{m.ID, "missing"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), flipped)

	flipped, err = store.MarkSeen(ctx, []string{m.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(0), flipped)

	_, err = store.GetMessage(ctx, "missing")
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestMemoryStoreUnseenCountsMatchBruteForce(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	users := []string{"a", "b", "c"}
	rng := rand.New(rand.NewSource(7))

	var ids []string
	for i := 0; i < 300; i++ {
		from := users[rng.Intn(len(users))]
		to := users[rng.Intn(len(users))]
		if from == to {
			continue
		}
		if rng.Intn(3) == 0 && len(ids) > 0 {
			_, err := store.MarkSeen(ctx, []string{ids[rng.Intn(len(ids))]})
			require.NoError(t, err)
			continue
		}
		m, err := store.Append(ctx, models.NewMessage{SenderID: from, ReceiverID: to, Text: "x"})
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}

	for _, me := range users {
		counts, err := store.UnseenCounts(ctx, me)
		require.NoError(t, err)
		for _, peer := range users {
			if peer == me {
				continue
			}
			msgs, err := store.Query(ctx, models.NewConversationKey(me, peer), time.Time{})
			require.NoError(t, err)
			want := 0
			for _, m := range msgs {
				if m.SenderID == peer && !m.Seen {
					want++
				}
			}
			assert.Equal(t, want, counts[peer], "unseen %s->%s", peer, me)
		}
	}
}

func TestMemoryStoreListUsersExcept(t *testing.T) {
	store := NewMemoryStore()
	store.AddUser(models.User{ID: "a", FullName: "Ann"})
	store.AddUser(models.User{ID: "b", FullName: "Bob"})

	users, err := store.ListUsersExcept(context.Background(), "a")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "b", users[0].ID)
}
