package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jmoiron/sqlx"
)

// MessagePage is one page of a message listing.
type MessagePage struct {
	Messages   []Message
	HasMore    bool
	NextCursor string // encoded cursor, empty when there is no next page
}

// MediaPage is one page of a media listing. The cursor for media is the raw
// last-seen msg_id rather than an encoded token.
type MediaPage struct {
	Media      []Media
	HasMore    bool
	NextCursor int64 // 0 when there is no next page
}

// UserPage is the result of a user search. Users are not cursor-paginated;
// user volume is expected to be small relative to messages.
type UserPage struct {
	Users   []User
	HasMore bool
}

// SearchResult is the result of a full-text search.
type SearchResult struct {
	Messages []Message
	HasMore  bool
}

// Store defines the data access interface over the archive.
// Methods accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// UpsertChat inserts or updates a chat keyed by id; last writer wins.
	UpsertChat(ctx context.Context, chat *Chat) error

	// UpsertUser inserts or updates a user keyed by id; last writer wins.
	UpsertUser(ctx context.Context, user *User) error

	// GetChatByID retrieves a chat by id. Returns nil, nil if not found.
	GetChatByID(ctx context.Context, chatID int64) (*Chat, error)

	// GetUserByID retrieves a user by id. Returns nil, nil if not found.
	GetUserByID(ctx context.Context, userID int64) (*User, error)

	// ListChats retrieves all chats ordered by title.
	ListChats(ctx context.Context) ([]Chat, error)

	// InsertMessage appends a single message.
	InsertMessage(ctx context.Context, msg *Message) error

	// InsertMessagesBatch appends messages in one transaction; all rows
	// land or none do.
	InsertMessagesBatch(ctx context.Context, msgs []Message) error

	// UpdateMessageText replaces a message's text. Exists only so the
	// search index stays correct; archived messages are otherwise immutable.
	UpdateMessageText(ctx context.Context, msgID int64, text string) error

	// DeleteMessage removes a message and, through the schema triggers,
	// its search index entry.
	DeleteMessage(ctx context.Context, msgID int64) error

	// InsertMedia inserts or replaces a media row keyed by (msg_id, chat_id).
	InsertMedia(ctx context.Context, media *Media) error

	// ListMessages returns up to limit messages matching the filter,
	// ordered by (date DESC, id DESC), resuming after the cursor when one
	// is supplied. Invalid cursors start from the first page.
	ListMessages(ctx context.Context, filter MessageFilter, limit int, cursor string) (*MessagePage, error)

	// CountMessages returns the total number of messages matching the filter.
	CountMessages(ctx context.Context, filter MessageFilter) (int64, error)

	// SearchMessages queries the full-text index, joins back to messages,
	// and applies optional date bounds.
	SearchMessages(ctx context.Context, query, dateFrom, dateTo string, limit int) (*SearchResult, error)

	// ListMedia returns up to limit media rows ordered by msg_id DESC,
	// resuming strictly below beforeMsgID when it is positive.
	ListMedia(ctx context.Context, filter MediaFilter, limit int, beforeMsgID int64) (*MediaPage, error)

	// SearchUsers substring-matches keyword across username, first and last
	// name. The empty keyword matches everyone.
	SearchUsers(ctx context.Context, keyword string, limit int) (*UserPage, error)

	// RebuildSearchIndex repopulates the full-text index from the messages
	// table. The index is a pure derived structure, so this is always safe.
	RebuildSearchIndex(ctx context.Context) error

	// RunMaintenance performs database maintenance (VACUUM, WAL checkpoint).
	RunMaintenance(ctx context.Context) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlxStore) UpsertChat(ctx context.Context, chat *Chat) error {
	if chat == nil {
		return errors.New("cannot upsert nil chat")
	}

	query := `
        INSERT INTO chats (id, title, username)
        VALUES (?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            title = excluded.title,
            username = excluded.username;
    `
	if _, err := s.db.ExecContext(ctx, query, chat.ID, chat.Title, nullString(chat.Username)); err != nil {
		s.logger.ErrorContext(ctx, "Error upserting chat", "chat_id", chat.ID, "error", err)
		return fmt.Errorf("failed to upsert chat %d: %w", chat.ID, err)
	}
	return nil
}

func (s *sqlxStore) UpsertUser(ctx context.Context, user *User) error {
	if user == nil {
		return errors.New("cannot upsert nil user")
	}

	query := `
        INSERT INTO users (id, username, first_name, last_name)
        VALUES (?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            username = excluded.username,
            first_name = excluded.first_name,
            last_name = excluded.last_name;
    `
	_, err := s.db.ExecContext(ctx, query,
		user.ID, nullString(user.Username), user.FirstName, nullString(user.LastName))
	if err != nil {
		s.logger.ErrorContext(ctx, "Error upserting user", "user_id", user.ID, "error", err)
		return fmt.Errorf("failed to upsert user %d: %w", user.ID, err)
	}
	return nil
}

func (s *sqlxStore) GetChatByID(ctx context.Context, chatID int64) (*Chat, error) {
	var row chatRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, title, username FROM chats WHERE id = ?`, chatID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to get chat %d: %w", chatID, err)
	}

	chat := row.toChat()
	return &chat, nil
}

func (s *sqlxStore) GetUserByID(ctx context.Context, userID int64) (*User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, username, first_name, last_name FROM users WHERE id = ?`, userID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to get user %d: %w", userID, err)
	}

	user := row.toUser()
	return &user, nil
}

func (s *sqlxStore) ListChats(ctx context.Context) ([]Chat, error) {
	var rows []chatRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, title, username FROM chats ORDER BY title`)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error listing chats", "error", err)
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}

	chats := make([]Chat, len(rows))
	for i := range rows {
		chats[i] = rows[i].toChat()
	}
	return chats, nil
}

const insertMessageQuery = `
        INSERT INTO messages (id, chat_id, sender_id, date, text, reply_to_msg_id, is_forwarded, raw_json)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?);
    `

func (s *sqlxStore) InsertMessage(ctx context.Context, msg *Message) error {
	if msg == nil {
		return errors.New("cannot insert nil message")
	}

	if _, err := s.db.ExecContext(ctx, insertMessageQuery, messageArgs(msg)...); err != nil {
		s.logger.ErrorContext(ctx, "Error inserting message",
			"message_id", msg.ID, "chat_id", msg.ChatID, "error", err)
		return fmt.Errorf("failed to insert message %d: %w", msg.ID, err)
	}
	return nil
}

func (s *sqlxStore) InsertMessagesBatch(ctx context.Context, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for message batch", "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				if !errors.Is(rollbackErr, sql.ErrTxDone) {
					s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
				}
			}
		}
	}()

	stmt, err := tx.PreparexContext(ctx, insertMessageQuery)
	if err != nil {
		return fmt.Errorf("failed to prepare batch insert: %w", err)
	}
	defer stmt.Close()

	for i := range msgs {
		if _, err := stmt.ExecContext(ctx, messageArgs(&msgs[i])...); err != nil {
			s.logger.ErrorContext(ctx, "Error inserting message in batch",
				"message_id", msgs[i].ID, "chat_id", msgs[i].ChatID, "error", err)
			return fmt.Errorf("failed to insert message %d in batch: %w", msgs[i].ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit message batch", "error", err)
		return fmt.Errorf("failed to commit message batch: %w", err)
	}
	tx = nil

	s.logger.DebugContext(ctx, "Message batch inserted", "count", len(msgs))
	return nil
}

func (s *sqlxStore) UpdateMessageText(ctx context.Context, msgID int64, text string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET text = ? WHERE id = ?`, nullString(text), msgID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error updating message text", "message_id", msgID, "error", err)
		return fmt.Errorf("failed to update message %d: %w", msgID, err)
	}
	return nil
}

func (s *sqlxStore) DeleteMessage(ctx context.Context, msgID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, msgID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error deleting message", "message_id", msgID, "error", err)
		return fmt.Errorf("failed to delete message %d: %w", msgID, err)
	}
	return nil
}

func (s *sqlxStore) InsertMedia(ctx context.Context, media *Media) error {
	if media == nil {
		return errors.New("cannot insert nil media")
	}

	query := `
        INSERT OR REPLACE INTO media (msg_id, chat_id, media_type, media_id)
        VALUES (?, ?, ?, ?);
    `
	_, err := s.db.ExecContext(ctx, query,
		media.MsgID, media.ChatID, media.MediaType, media.MediaID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error inserting media",
			"msg_id", media.MsgID, "chat_id", media.ChatID, "error", err)
		return fmt.Errorf("failed to insert media for message %d: %w", media.MsgID, err)
	}
	return nil
}

const messageColumns = `m.id, m.chat_id, m.sender_id, m.date, m.text, m.reply_to_msg_id, m.is_forwarded, m.raw_json`

func (s *sqlxStore) ListMessages(ctx context.Context, filter MessageFilter, limit int, cursor string) (*MessagePage, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}

	var wb whereBuilder
	filter.apply(&wb)

	// A semantically invalid cursor resets to the first page by design.
	if cursor != "" {
		if cur, ok := DecodeCursor(cursor); ok {
			wb.add("(m.date < ? OR (m.date = ? AND m.id < ?))",
				cur.LastDate, cur.LastDate, cur.LastID)
		} else {
			s.logger.DebugContext(ctx, "Invalid cursor supplied, starting from first page")
		}
	}

	query := fmt.Sprintf(`
        SELECT %s
        FROM messages m
        WHERE %s
        ORDER BY m.date DESC, m.id DESC
        LIMIT ?;
    `, messageColumns, wb.clause())

	var rows []messageRow
	args := append(wb.args, limit+1)
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		s.logger.ErrorContext(ctx, "Error listing messages", "error", err)
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}

	page := &MessagePage{
		Messages: make([]Message, len(rows)),
		HasMore:  hasMore,
	}
	for i := range rows {
		page.Messages[i] = rows[i].toMessage()
	}

	if hasMore && len(rows) > 0 {
		last := rows[len(rows)-1]
		page.NextCursor = EncodeCursor(Cursor{LastID: last.ID, LastDate: last.Date})
	}

	return page, nil
}

func (s *sqlxStore) CountMessages(ctx context.Context, filter MessageFilter) (int64, error) {
	var wb whereBuilder
	filter.apply(&wb)

	query := fmt.Sprintf(`SELECT COUNT(*) FROM messages m WHERE %s;`, wb.clause())

	var count int64
	if err := s.db.GetContext(ctx, &count, query, wb.args...); err != nil {
		s.logger.ErrorContext(ctx, "Error counting messages", "error", err)
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

func (s *sqlxStore) SearchMessages(ctx context.Context, query, dateFrom, dateTo string, limit int) (*SearchResult, error) {
	if query == "" {
		return nil, errors.New("search query must not be empty")
	}
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}

	var wb whereBuilder
	wb.add("messages_fts MATCH ?", query)
	if dateFrom != "" {
		wb.add("m.date >= ?", dateFrom)
	}
	if dateTo != "" {
		wb.add("m.date <= ?", dateTo)
	}

	ftsQuery := fmt.Sprintf(`
        SELECT %s
        FROM messages m
        JOIN messages_fts ON m.id = messages_fts.rowid
        WHERE %s
        ORDER BY m.date DESC, m.id DESC
        LIMIT ?;
    `, messageColumns, wb.clause())

	var rows []messageRow
	args := append(wb.args, limit)
	if err := s.db.SelectContext(ctx, &rows, ftsQuery, args...); err != nil {
		s.logger.ErrorContext(ctx, "Error searching messages", "query", query, "error", err)
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}

	result := &SearchResult{
		Messages: make([]Message, len(rows)),
		// Approximation: a full page is assumed to mean more matches exist.
		HasMore: len(rows) == limit,
	}
	for i := range rows {
		result.Messages[i] = rows[i].toMessage()
	}
	return result, nil
}

func (s *sqlxStore) ListMedia(ctx context.Context, filter MediaFilter, limit int, beforeMsgID int64) (*MediaPage, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}

	var wb whereBuilder
	filter.apply(&wb)
	if beforeMsgID > 0 {
		wb.add("msg_id < ?", beforeMsgID)
	}

	query := fmt.Sprintf(`
        SELECT msg_id, chat_id, media_type, media_id
        FROM media
        WHERE %s
        ORDER BY msg_id DESC
        LIMIT ?;
    `, wb.clause())

	var media []Media
	args := append(wb.args, limit+1)
	if err := s.db.SelectContext(ctx, &media, query, args...); err != nil {
		s.logger.ErrorContext(ctx, "Error listing media", "error", err)
		return nil, fmt.Errorf("failed to list media: %w", err)
	}

	hasMore := len(media) > limit
	if hasMore {
		media = media[:limit]
	}

	page := &MediaPage{Media: media, HasMore: hasMore}
	if hasMore && len(media) > 0 {
		page.NextCursor = media[len(media)-1].MsgID
	}
	return page, nil
}

func (s *sqlxStore) SearchUsers(ctx context.Context, keyword string, limit int) (*UserPage, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}

	var wb whereBuilder
	if keyword != "" {
		pattern := "%" + keyword + "%"
		wb.add("(username LIKE ? OR first_name LIKE ? OR last_name LIKE ?)",
			pattern, pattern, pattern)
	}

	query := fmt.Sprintf(`
        SELECT id, username, first_name, last_name
        FROM users
        WHERE %s
        ORDER BY first_name, last_name
        LIMIT ?;
    `, wb.clause())

	var rows []userRow
	args := append(wb.args, limit+1)
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		s.logger.ErrorContext(ctx, "Error searching users", "error", err)
		return nil, fmt.Errorf("failed to search users: %w", err)
	}

	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}

	page := &UserPage{
		Users:   make([]User, len(rows)),
		HasMore: hasMore,
	}
	for i := range rows {
		page.Users[i] = rows[i].toUser()
	}
	return page, nil
}

func (s *sqlxStore) RebuildSearchIndex(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Rebuilding full-text search index...")
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages_fts(messages_fts) VALUES ('rebuild');`)
	if err != nil {
		s.logger.ErrorContext(ctx, "Full-text index rebuild failed", "error", err)
		return fmt.Errorf("failed to rebuild search index: %w", err)
	}
	s.logger.InfoContext(ctx, "Full-text search index rebuilt.")
	return nil
}

func (s *sqlxStore) RunMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")

	// VACUUM must run outside a transaction in SQLite.
	if _, err := s.db.ExecContext(ctx, "VACUUM;"); err != nil {
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return fmt.Errorf("failed to execute VACUUM: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE);"); err != nil {
		s.logger.WarnContext(ctx, "WAL checkpoint failed", "error", err)
	}

	s.logger.InfoContext(ctx, "Database maintenance completed successfully")
	return nil
}
