package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
)

type Channel struct {
	ID         string    `json:"id"`
	IncidentID string    `json:"incident_id"`
	CreatedAt  time.Time `json:"created_at"`
}

type Message struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channel_id"`
	AuthorID  string    `json:"author_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

type ChatStore interface {
	// EnsureChannel creates the channel for the incident on first call and
	// returns the existing one on every call after.
	EnsureChannel(ctx context.Context, incidentID string) (*Channel, error)
	GetChannel(ctx context.Context, id string) (*Channel, error)
	AppendMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, channelID string, limit int) ([]Message, error)
}

type chatStore struct {
	db *sql.DB
}

func NewChatStore(db *sql.DB) ChatStore {
	return &chatStore{db: db}
}

func (s *chatStore) EnsureChannel(ctx context.Context, incidentID string) (*Channel, error) {
	id := uuid.Must(uuid.NewV4()).String()
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_channels(id, incident_id, created_at) VALUES(?,?,?)
		ON CONFLICT (incident_id) DO NOTHING`,
		id, incidentID, time.Now().UTC()); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, incident_id, created_at FROM chat_channels WHERE incident_id=?`, incidentID)
	var ch Channel
	if err := row.Scan(&ch.ID, &ch.IncidentID, &ch.CreatedAt); err != nil {
		return nil, err
	}
	return &ch, nil
}

func (s *chatStore) GetChannel(ctx context.Context, id string) (*Channel, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, incident_id, created_at FROM chat_channels WHERE id=?`, id)
	var ch Channel
	if err := row.Scan(&ch.ID, &ch.IncidentID, &ch.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &ch, nil
}

func (s *chatStore) AppendMessage(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.Must(uuid.NewV4()).String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages(id, channel_id, author_id, body, created_at) VALUES(?,?,?,?,?)`,
		msg.ID, msg.ChannelID, msg.AuthorID, msg.Body, msg.CreatedAt)
	return err
}

func (s *chatStore) ListMessages(ctx context.Context, channelID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, channel_id, author_id, body, created_at FROM chat_messages
		WHERE channel_id=? ORDER BY created_at ASC LIMIT ?`, channelID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.AuthorID, &m.Body, &m.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
