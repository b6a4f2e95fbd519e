package database

import (
	"database/sql"
	"time"
)

// TimeLayout is the storage format for message timestamps. Dates are
// normalized to UTC and stored as fixed-width ISO-8601 strings so that
// lexicographic comparison matches chronological order.
const TimeLayout = "2006-01-02T15:04:05"

// Chat represents an archived conversation (group, channel, or direct chat).
type Chat struct {
	ID       int64  `db:"id"`
	Title    string `db:"title"`
	Username string `db:"username"`
}

// User represents a message sender. When the sender is itself a channel or
// group, a pseudo-user keyed by that chat's id is stored instead.
type User struct {
	ID        int64  `db:"id"`
	Username  string `db:"username"`
	FirstName string `db:"first_name"`
	LastName  string `db:"last_name"`
}

// Message represents a single archived message.
type Message struct {
	ID           int64
	ChatID       int64
	SenderID     int64
	Date         time.Time
	Text         string
	ReplyToMsgID int64
	IsForwarded  bool
	RawJSON      string
}

// Media represents a message attachment, keyed by (msg_id, chat_id).
type Media struct {
	MsgID     int64  `db:"msg_id"`
	ChatID    int64  `db:"chat_id"`
	MediaType string `db:"media_type"`
	MediaID   string `db:"media_id"`
}

// chatRow and userRow are sqlx scan targets; the optional name columns are
// nullable in the schema.
type chatRow struct {
	ID       int64          `db:"id"`
	Title    string         `db:"title"`
	Username sql.NullString `db:"username"`
}

func (r *chatRow) toChat() Chat {
	return Chat{ID: r.ID, Title: r.Title, Username: r.Username.String}
}

type userRow struct {
	ID        int64          `db:"id"`
	Username  sql.NullString `db:"username"`
	FirstName string         `db:"first_name"`
	LastName  sql.NullString `db:"last_name"`
}

func (r *userRow) toUser() User {
	return User{ID: r.ID, Username: r.Username.String, FirstName: r.FirstName, LastName: r.LastName.String}
}

// messageRow is the sqlx scan target for the messages table. The date
// column is kept as its raw string so cursor arithmetic operates on the
// exact stored representation.
type messageRow struct {
	ID           int64          `db:"id"`
	ChatID       int64          `db:"chat_id"`
	SenderID     int64          `db:"sender_id"`
	Date         string         `db:"date"`
	Text         sql.NullString `db:"text"`
	ReplyToMsgID sql.NullInt64  `db:"reply_to_msg_id"`
	IsForwarded  int            `db:"is_forwarded"`
	RawJSON      sql.NullString `db:"raw_json"`
}

func (r *messageRow) toMessage() Message {
	date, _ := time.ParseInLocation(TimeLayout, r.Date, time.UTC)
	return Message{
		ID:           r.ID,
		ChatID:       r.ChatID,
		SenderID:     r.SenderID,
		Date:         date,
		Text:         r.Text.String,
		ReplyToMsgID: r.ReplyToMsgID.Int64,
		IsForwarded:  r.IsForwarded != 0,
		RawJSON:      r.RawJSON.String,
	}
}

// FormatDate renders t in the canonical storage format.
func FormatDate(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// nullString maps empty optional fields to SQL NULL on write.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func messageArgs(m *Message) []any {
	var text, rawJSON, replyTo any
	if m.Text != "" {
		text = m.Text
	}
	if m.RawJSON != "" {
		rawJSON = m.RawJSON
	}
	if m.ReplyToMsgID != 0 {
		replyTo = m.ReplyToMsgID
	}
	forwarded := 0
	if m.IsForwarded {
		forwarded = 1
	}
	return []any{m.ID, m.ChatID, m.SenderID, FormatDate(m.Date), text, replyTo, forwarded, rawJSON}
}
