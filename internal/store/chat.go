// ABOUTME: Durable chat log, append-only per lobby
package store

import (
	"context"

	"github.com/chorus-fm/chorus/internal/protocol"
)

// SaveChatMessage appends one message.
func (s *Store) SaveChatMessage(ctx context.Context, msg protocol.ChatMessage) error {
	if !s.Available() {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (id, lobby_id, user_id, username, emoji, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.LobbyID, msg.UserID, msg.Username, msg.Emoji, msg.Content, msg.Timestamp)
	return err
}

// GetChatHistory returns the latest limit messages in chronological order.
func (s *Store) GetChatHistory(ctx context.Context, lobbyID string, limit int) ([]protocol.ChatMessage, error) {
	if !s.Available() {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, lobby_id, user_id, username, COALESCE(emoji, ''), content, created_at
		FROM chat_messages WHERE lobby_id = ?
		ORDER BY created_at DESC LIMIT ?`, lobbyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []protocol.ChatMessage
	for rows.Next() {
		var m protocol.ChatMessage
		if err := rows.Scan(&m.ID, &m.LobbyID, &m.UserID, &m.Username,
			&m.Emoji, &m.Content, &m.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query returns newest first; flip to chronological.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
