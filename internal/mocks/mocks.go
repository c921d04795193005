package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"dm-service/internal/models"
)

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) Append(ctx context.Context, msg models.NewMessage) (models.Message, error) {
	args := m.Called(ctx, msg)
	var out models.Message
	if val := args.Get(0); val != nil {
		out = val.(models.Message)
	}
	return out, args.Error(1)
}

func (m *MessageRepositoryMock) Query(ctx context.Context, key models.ConversationKey, since time.Time) ([]models.Message, error) {
	args := m.Called(ctx, key, since)
	var list []models.Message
	if val := args.Get(0); val != nil {
		list = val.([]models.Message)
	}
	return list, args.Error(1)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var out models.Message
	if val := args.Get(0); val != nil {
		out = val.(models.Message)
	}
	return out, args.Error(1)
}

func (m *MessageRepositoryMock) MarkSeen(ctx context.Context, messageIDs []string) (int64, error) {
	args := m.Called(ctx, messageIDs)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MessageRepositoryMock) UnseenCounts(ctx context.Context, receiverID string) (map[string]int, error) {
	args := m.Called(ctx, receiverID)
	var counts map[string]int
	if val := args.Get(0); val != nil {
		counts = val.(map[string]int)
	}
	return counts, args.Error(1)
}

type UserRepositoryMock struct {
	mock.Mock
}

func (m *UserRepositoryMock) ListUsersExcept(ctx context.Context, userID string) ([]models.User, error) {
	args := m.Called(ctx, userID)
	var list []models.User
	if val := args.Get(0); val != nil {
		list = val.([]models.User)
	}
	return list, args.Error(1)
}

type UploaderMock struct {
	mock.Mock
}

func (m *UploaderMock) Upload(ctx context.Context, payload string) (string, error) {
	args := m.Called(ctx, payload)
	return args.String(0), args.Error(1)
}

type ResolverMock struct {
	mock.Mock
}

func (m *ResolverMock) Resolve(ctx context.Context, token string) (string, error) {
	args := m.Called(ctx, token)
	return args.String(0), args.Error(1)
}

type MessageRouterMock struct {
	mock.Mock
}

func (m *MessageRouterMock) Route(ctx context.Context, senderID, receiverID string, content models.Content) (models.Message, error) {
	args := m.Called(ctx, senderID, receiverID, content)
	var out models.Message
	if val := args.Get(0); val != nil {
		out = val.(models.Message)
	}
	return out, args.Error(1)
}

type ConversationsMock struct {
	mock.Mock
}

func (m *ConversationsMock) Sidebar(ctx context.Context, me string) ([]models.User, map[string]int, error) {
	args := m.Called(ctx, me)
	var users []models.User
	if val := args.Get(0); val != nil {
		users = val.([]models.User)
	}
	var counts map[string]int
	if val := args.Get(1); val != nil {
		counts = val.(map[string]int)
	}
	return users, counts, args.Error(2)
}

func (m *ConversationsMock) Fetch(ctx context.Context, me, peer string) ([]models.Message, error) {
	args := m.Called(ctx, me, peer)
	var list []models.Message
	if val := args.Get(0); val != nil {
		list = val.([]models.Message)
	}
	return list, args.Error(1)
}

func (m *ConversationsMock) MarkSeen(ctx context.Context, me, messageID string) error {
	args := m.Called(ctx, me, messageID)
	return args.Error(0)
}
