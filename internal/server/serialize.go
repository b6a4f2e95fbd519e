package server

import (
	"strconv"

	"teleconvo/internal/database"
)

// Wire records have fixed field names; optional fields serialize as null
// rather than being omitted so every record has the same shape.

type messageRecord struct {
	ID           int64   `json:"id"`
	ChatID       int64   `json:"chat_id"`
	SenderID     int64   `json:"sender_id"`
	Date         string  `json:"date"`
	Text         *string `json:"text"`
	ReplyToMsgID *int64  `json:"reply_to_msg_id"`
	IsForwarded  bool    `json:"is_forwarded"`
	RawJSON      *string `json:"raw_json"`
}

type chatRecord struct {
	ID       int64   `json:"id"`
	Title    string  `json:"title"`
	Username *string `json:"username"`
}

type userRecord struct {
	ID        int64   `json:"id"`
	Username  *string `json:"username"`
	FirstName string  `json:"first_name"`
	LastName  *string `json:"last_name"`
}

type mediaRecord struct {
	MsgID     int64  `json:"msg_id"`
	ChatID    int64  `json:"chat_id"`
	MediaType string `json:"media_type"`
	MediaID   string `json:"media_id"`
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optInt64(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}

func serializeMessage(m database.Message) messageRecord {
	return messageRecord{
		ID:           m.ID,
		ChatID:       m.ChatID,
		SenderID:     m.SenderID,
		Date:         database.FormatDate(m.Date),
		Text:         optString(m.Text),
		ReplyToMsgID: optInt64(m.ReplyToMsgID),
		IsForwarded:  m.IsForwarded,
		RawJSON:      optString(m.RawJSON),
	}
}

func serializeMessages(msgs []database.Message) []messageRecord {
	records := make([]messageRecord, len(msgs))
	for i, m := range msgs {
		records[i] = serializeMessage(m)
	}
	return records
}

func serializeChats(chats []database.Chat) []chatRecord {
	records := make([]chatRecord, len(chats))
	for i, c := range chats {
		records[i] = chatRecord{ID: c.ID, Title: c.Title, Username: optString(c.Username)}
	}
	return records
}

func serializeUsers(users []database.User) []userRecord {
	records := make([]userRecord, len(users))
	for i, u := range users {
		records[i] = userRecord{
			ID:        u.ID,
			Username:  optString(u.Username),
			FirstName: u.FirstName,
			LastName:  optString(u.LastName),
		}
	}
	return records
}

func serializeMedia(media []database.Media) []mediaRecord {
	records := make([]mediaRecord, len(media))
	for i, m := range media {
		records[i] = mediaRecord{
			MsgID:     m.MsgID,
			ChatID:    m.ChatID,
			MediaType: m.MediaType,
			MediaID:   m.MediaID,
		}
	}
	return records
}

// mediaCursorString renders the media next-cursor (a raw msg_id) for the
// wire, where cursors are exchanged as strings.
func mediaCursorString(id int64) *string {
	if id == 0 {
		return nil
	}
	s := strconv.FormatInt(id, 10)
	return &s
}
