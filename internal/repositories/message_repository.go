package repositories

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"dm-service/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository is the durable message store. Append assigns the id and
// creation time; Query returns a conversation ordered by (created_at, id).
type MessageRepository interface {
	Append(ctx context.Context, msg models.NewMessage) (models.Message, error)
	Query(ctx context.Context, key models.ConversationKey, since time.Time) ([]models.Message, error)
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
	MarkSeen(ctx context.Context, messageIDs []string) (int64, error)
	UnseenCounts(ctx context.Context, receiverID string) (map[string]int, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id::text AS id, sender_id, receiver_id, text, image, seen, created_at`

// conversationQuery orders by the numeric id column; a bare "id" would bind
// to the text alias above.
const conversationQuery = `SELECT ` + messageColumns + `
        FROM messages
        WHERE ((sender_id=$1 AND receiver_id=$2) OR (sender_id=$2 AND receiver_id=$1))
        AND created_at >= $3
        ORDER BY messages.created_at ASC, messages.id ASC`

// Append stores a message and returns it with its assigned id and timestamp.
func (r *MessageRepo) Append(ctx context.Context, msg models.NewMessage) (models.Message, error) {
	var out models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (sender_id, receiver_id, text, image) VALUES ($1, $2, $3, $4) RETURNING `+messageColumns,
		msg.SenderID, msg.ReceiverID, msg.Text, msg.Image).StructScan(&out)
	if err != nil {
		return models.Message{}, errors.Wrap(err, "messageRepo.Append.Insert")
	}
	return out, nil
}

// Query returns both directions of the conversation created at or after since.
func (r *MessageRepo) Query(ctx context.Context, key models.ConversationKey, since time.Time) ([]models.Message, error) {
	msgs := []models.Message{}
	if err := r.db.SelectContext(ctx, &msgs, conversationQuery, key.A, key.B, since); err != nil {
		return nil, errors.Wrap(err, "messageRepo.Query.Select")
	}
	return msgs, nil
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	id, err := strconv.ParseInt(messageID, 10, 64)
	if err != nil {
		return models.Message{}, ErrMessageNotFound
	}
	var msg models.Message
	err = r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, errors.Wrap(err, "messageRepo.GetMessage.Get")
	}
	return msg, nil
}

// MarkSeen flips the seen flag on the given messages and reports how many
// were previously unseen.
func (r *MessageRepo) MarkSeen(ctx context.Context, messageIDs []string) (int64, error) {
	ids := make([]int64, 0, len(messageIDs))
	for _, raw := range messageIDs {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	res, err := r.db.ExecContext(ctx, `UPDATE messages SET seen = TRUE WHERE id = ANY($1) AND seen = FALSE`, pq.Array(ids))
	if err != nil {
		return 0, errors.Wrap(err, "messageRepo.MarkSeen.Update")
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "messageRepo.MarkSeen.RowsAffected")
	}
	return count, nil
}

// UnseenCounts aggregates unseen messages addressed to receiverID per sender.
// Senders without unseen messages are omitted.
func (r *MessageRepo) UnseenCounts(ctx context.Context, receiverID string) (map[string]int, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT sender_id, COUNT(*) FROM messages
        WHERE receiver_id=$1 AND seen = FALSE
        GROUP BY sender_id`, receiverID)
	if err != nil {
		return nil, errors.Wrap(err, "messageRepo.UnseenCounts.Query")
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var senderID string
		var count int
		if err := rows.Scan(&senderID, &count); err != nil {
			return nil, errors.Wrap(err, "messageRepo.UnseenCounts.Scan")
		}
		counts[senderID] = count
	}
	return counts, rows.Err()
}
