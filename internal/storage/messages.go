package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Jason198341/seatcon-sub001/internal/message"
)

type messageRepo struct {
	db *sql.DB
}

const messageColumns = `id, room_id, client_id, author_id, author_name, role, content, source_lang, reply_to, pinned, deleted, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (message.Message, error) {
	var (
		msg      message.Message
		id       int64
		clientID sql.NullString
		replyTo  sql.NullString
	)
	if err := row.Scan(&id, &msg.RoomID, &clientID, &msg.AuthorID, &msg.AuthorName, &msg.Role,
		&msg.Content, &msg.SourceLang, &replyTo, &msg.Pinned, &msg.Deleted, &msg.CreatedAt); err != nil {
		return message.Message{}, err
	}
	msg.ID = formatID(id)
	msg.ClientID = message.ID(clientID.String)
	msg.ReplyTo = message.ID(replyTo.String)
	msg.CreatedAt = msg.CreatedAt.UTC()
	return msg, nil
}

func formatID(id int64) message.ID {
	return message.ID(strconv.FormatInt(id, 10))
}

func parseID(id message.ID) (int64, bool) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func nullID(id message.ID) any {
	if id == "" {
		return nil
	}
	return string(id)
}

func (r *messageRepo) InsertMessage(ctx context.Context, msg message.Message) (message.Message, bool, error) {
	if msg.RoomID == "" || msg.AuthorID == "" || msg.CreatedAt.IsZero() {
		return message.Message{}, false, fmt.Errorf("room_id, author_id, and created_at are required")
	}

	var id int64
	err := r.db.QueryRowContext(ctx, `INSERT INTO room_messages
		(room_id, client_id, author_id, author_name, role, content, source_lang, reply_to, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (room_id, client_id) WHERE client_id IS NOT NULL DO NOTHING
		RETURNING id`,
		msg.RoomID, nullID(msg.ClientID), msg.AuthorID, msg.AuthorName, msg.Role,
		msg.Content, msg.SourceLang, nullID(msg.ReplyTo), msg.CreatedAt).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) && msg.ClientID != "" {
		existing, err := r.getByClientID(ctx, msg.RoomID, msg.ClientID)
		if err != nil {
			return message.Message{}, false, err
		}
		return existing, false, nil
	}
	if err != nil {
		return message.Message{}, false, fmt.Errorf("insert message: %w", err)
	}

	msg.ID = formatID(id)
	msg.CreatedAt = msg.CreatedAt.UTC()
	return msg, true, nil
}

func (r *messageRepo) getByClientID(ctx context.Context, roomID string, clientID message.ID) (message.Message, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+messageColumns+`
		FROM room_messages WHERE room_id = $1 AND client_id = $2`, roomID, string(clientID))
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return message.Message{}, ErrNotFound
		}
		return message.Message{}, fmt.Errorf("get message by client id: %w", err)
	}
	return msg, nil
}

func (r *messageRepo) GetMessage(ctx context.Context, roomID string, id message.ID) (message.Message, error) {
	n, ok := parseID(id)
	if !ok {
		return message.Message{}, ErrNotFound
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+messageColumns+`
		FROM room_messages WHERE room_id = $1 AND id = $2`, roomID, n)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return message.Message{}, ErrNotFound
		}
		return message.Message{}, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

func (r *messageRepo) ListRecentMessages(ctx context.Context, roomID string, limit int) ([]message.Message, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+messageColumns+`
		FROM room_messages WHERE room_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return collectDescending(rows)
}

func (r *messageRepo) ListMessagesBefore(ctx context.Context, roomID string, before time.Time, limit int) ([]message.Message, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+messageColumns+`
		FROM room_messages WHERE room_id = $1 AND created_at < $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3`, roomID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages before: %w", err)
	}
	return collectDescending(rows)
}

// collectDescending drains newest-first rows and returns them oldest first.
func collectDescending(rows *sql.Rows) ([]message.Message, error) {
	defer rows.Close()

	var out []message.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (r *messageRepo) AddLike(ctx context.Context, like message.Like, at time.Time) (bool, error) {
	n, ok := parseID(like.MessageID)
	if !ok || like.UserID == "" {
		return false, fmt.Errorf("message id and user id are required")
	}
	res, err := r.db.ExecContext(ctx, `INSERT INTO message_likes (message_id, user_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (message_id, user_id) DO NOTHING`, n, like.UserID, at)
	if err != nil {
		return false, fmt.Errorf("insert like: %w", err)
	}
	return changed(res)
}

func (r *messageRepo) RemoveLike(ctx context.Context, like message.Like) (bool, error) {
	n, ok := parseID(like.MessageID)
	if !ok || like.UserID == "" {
		return false, fmt.Errorf("message id and user id are required")
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM message_likes WHERE message_id = $1 AND user_id = $2`, n, like.UserID)
	if err != nil {
		return false, fmt.Errorf("delete like: %w", err)
	}
	return changed(res)
}

func changed(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}
