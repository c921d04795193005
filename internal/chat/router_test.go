package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"dm-service/internal/apperr"
	"dm-service/internal/mocks"
	"dm-service/internal/models"
)

func conversation(t *testing.T, f *fixture, a, b string) []models.Message {
	t.Helper()
	msgs, err := f.store.Query(context.Background(), models.NewConversationKey(a, b), time.Time{})
	require.NoError(t, err)
	return msgs
}

func TestRouteRejectsEmptyContent(t *testing.T) {
	f := newFixture(nil, noopUploader{})
	cases := []models.Content{
		{},
		{Text: "   \n\t"},
		{Text: "", Image: "  "},
	}
	for _, content := range cases {
		_, err := f.router.Route(context.Background(), "A", "B", content)
		assert.True(t, apperr.Is(err, apperr.KindValidation), "content %+v", content)
	}
	assert.Empty(t, conversation(t, f, "A", "B"))
}

func TestRouteRejectsSelfAndMissingParties(t *testing.T) {
	f := newFixture(nil, noopUploader{})
	_, err := f.router.Route(context.Background(), "A", "A", text("hi"))
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	_, err = f.router.Route(context.Background(), "A", "", text("hi"))
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestRouteUploadFailureStoresNothing(t *testing.T) {
	f := newFixture(nil, noopUploader{err: errors.New("cdn down")})
	receiver := f.connect("B")

	_, err := f.router.Route(context.Background(), "A", "B", models.Content{Text: "look", Image: "data:image/png;base64,AAAA"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUpload))
	assert.Empty(t, conversation(t, f, "A", "B"))
	assert.Empty(t, receiver.messages())
}

func TestRouteStoresUploadedImageURL(t *testing.T) {
	f := newFixture(nil, noopUploader{url: "https://cdn.example/img.png"})
	msg, err := f.router.Route(context.Background(), "A", "B", models.Content{Image: "data:image/png;base64,AAAA"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/img.png", msg.Image)
	assert.Empty(t, msg.Text)

	stored := conversation(t, f, "A", "B")
	require.Len(t, stored, 1)
	assert.Equal(t, msg, stored[0])
}

func TestRoutePersistenceFailure(t *testing.T) {
	store := new(mocks.MessageRepositoryMock)
	store.On("Append", mock.Anything, mock.Anything).Return(nil, errors.New("connection reset"))
	f := newFixture(store, noopUploader{})
	receiver := f.connect("B")

	_, err := f.router.Route(context.Background(), "A", "B", text("hi"))
	assert.True(t, apperr.Is(err, apperr.KindPersistence))
	assert.Empty(t, receiver.messages())
	store.AssertExpectations(t)
}

func TestRouteDeliversToReceiverAndEchoesSender(t *testing.T) {
	f := newFixture(nil, noopUploader{})
	sender := f.connect("A")
	receiver := f.connect("B")

	msg, err := f.router.Route(context.Background(), "A", "B", text("hello"))
	require.NoError(t, err)
	assert.False(t, msg.Seen)
	assert.NotEmpty(t, msg.ID)

	assert.Equal(t, []models.Message{msg}, receiver.messages())
	assert.Equal(t, []models.Message{msg}, sender.messages())
}

func TestRouteOfflineReceiverStillPersists(t *testing.T) {
	f := newFixture(nil, noopUploader{})
	sender := f.connect("A")

	msg, err := f.router.Route(context.Background(), "A", "B", text("later"))
	require.NoError(t, err)
	assert.Len(t, conversation(t, f, "A", "B"), 1)
	assert.Equal(t, []models.Message{msg}, sender.messages())
}

func TestRouteToViewingReceiverIsSeen(t *testing.T) {
	f := newFixture(nil, noopUploader{})
	receiver := f.connect("B")
	f.tracker.Open("B", receiver.id, "A")

	msg, err := f.router.Route(context.Background(), "A", "B", text("you there?"))
	require.NoError(t, err)
	assert.True(t, msg.Seen)

	pushed := receiver.messages()
	require.Len(t, pushed, 1)
	assert.True(t, pushed[0].Seen)
	assert.Empty(t, receiver.named(models.EventUnseenMessages))

	stored := conversation(t, f, "A", "B")
	require.Len(t, stored, 1)
	assert.True(t, stored[0].Seen)
}

func TestRouteToSeededReceiverPushesUnseenCounts(t *testing.T) {
	f := newFixture(nil, noopUploader{})
	ctx := context.Background()
	_, err := f.router.Route(ctx, "C", "B", text("c1"))
	require.NoError(t, err)
	receiver := f.connect("B")
	_, _, err = f.conversations.Sidebar(ctx, "B")
	require.NoError(t, err)

	_, err = f.router.Route(ctx, "A", "B", text("ping"))
	require.NoError(t, err)

	counts := receiver.named(models.EventUnseenMessages)
	require.Len(t, counts, 1)
	assert.Equal(t, map[string]int{"A": 1, "C": 1}, counts[0].Data)
}

func TestRouteUnseededReceiverGetsNoCounts(t *testing.T) {
	f := newFixture(nil, noopUploader{})
	receiver := f.connect("B")

	_, err := f.router.Route(context.Background(), "A", "B", text("ping"))
	require.NoError(t, err)
	assert.Len(t, receiver.messages(), 1)
	assert.Empty(t, receiver.named(models.EventUnseenMessages))
}

func TestRoutePushedCountsMatchStoreAfterOfflineSidebar(t *testing.T) {
	f := newFixture(nil, noopUploader{})
	ctx := context.Background()

	// the sidebar is loaded over HTTP while B has no live session
	_, _, err := f.conversations.Sidebar(ctx, "B")
	require.NoError(t, err)
	_, err = f.router.Route(ctx, "A", "B", text("while offline"))
	require.NoError(t, err)

	receiver := f.connect("B")
	_, err = f.router.Route(ctx, "A", "B", text("now online"))
	require.NoError(t, err)
	assert.Empty(t, receiver.named(models.EventUnseenMessages))

	_, _, err = f.conversations.Sidebar(ctx, "B")
	require.NoError(t, err)
	_, err = f.router.Route(ctx, "A", "B", text("after sidebar"))
	require.NoError(t, err)

	stored, err := f.store.UnseenCounts(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"A": 3}, stored)
	assert.Equal(t, stored, receiver.lastCounts())
}

func TestRouteReplacementSessionDoesNotInheritOpenConversation(t *testing.T) {
	f := newFixture(nil, noopUploader{})
	ctx := context.Background()
	first := f.connect("B")
	reply := f.dispatcher.Dispatch(ctx, "B", first.id, inbound(t, models.EventOpenConversation, map[string]string{"peerId": "A"}))
	assert.Nil(t, reply)

	second := f.connect("B")
	assert.True(t, first.closed)

	msg, err := f.router.Route(ctx, "A", "B", text("who reads this"))
	require.NoError(t, err)
	assert.False(t, msg.Seen)

	stored, err := f.store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.False(t, stored.Seen)
	require.Len(t, second.messages(), 1)

	// the replaced connection's late teardown leaves the new session alone
	f.disconnect(first)
	reply = f.dispatcher.Dispatch(ctx, "B", second.id, inbound(t, models.EventOpenConversation, map[string]string{"peerId": "A"}))
	assert.Nil(t, reply)
	msg, err = f.router.Route(ctx, "A", "B", text("read live"))
	require.NoError(t, err)
	assert.True(t, msg.Seen)
}

func TestRoutePushFailureEvictsReceiver(t *testing.T) {
	f := newFixture(nil, noopUploader{})
	receiver := f.connect("B")
	receiver.fail = true

	_, err := f.router.Route(context.Background(), "A", "B", text("hi"))
	require.NoError(t, err)

	_, ok := f.registry.Lookup("B")
	assert.False(t, ok)
	assert.True(t, receiver.closed)
}

func TestRouteConcurrentSendsKeepStoreOrderPerReceiver(t *testing.T) {
	f := newFixture(nil, noopUploader{})
	receiver := f.connect("B")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.router.Route(context.Background(), "A", "B", text("x"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, conversation(t, f, "A", "B"), receiver.messages())
	assert.Zero(t, f.locks.size())
}
