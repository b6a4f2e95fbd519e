// Package collector ingests live Telegram messages into the archive store.
// It buffers incoming records and writes them in bounded batches so that no
// single transaction holds the database connection for long.
package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"golang.org/x/sync/errgroup"

	"teleconvo/internal/config"
	"teleconvo/internal/database"
)

const (
	maxFlushRetries  = 5
	baseRetryDelay   = time.Second
	pendingQueueSize = 1024
)

// Collector listens for Telegram updates and persists chats, users,
// messages, and media through the Store.
type Collector struct {
	cfg    config.CollectorConfig
	chatID int64
	store  database.Store
	logger *slog.Logger
	bot    *bot.Bot
	// pending buffers messages between the update handler and the batch
	// flush loop.
	pending chan database.Message
}

// New creates a collector using the given Bot API token. When chatID is
// non-zero, updates from other chats are ignored.
func New(token string, chatID int64, cfg config.CollectorConfig, store database.Store, logger *slog.Logger) (*Collector, error) {
	c := &Collector{
		cfg:     cfg,
		chatID:  chatID,
		store:   store,
		logger:  logger.With("component", "collector"),
		pending: make(chan database.Message, pendingQueueSize),
	}

	b, err := bot.New(token, bot.WithDefaultHandler(c.handleUpdate))
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	c.bot = b
	return c, nil
}

// Run starts the update listener and the batch flush loop, blocking until
// ctx is cancelled. Remaining buffered messages are flushed on shutdown.
func (c *Collector) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		c.logger.Info("Starting Telegram update listener...")
		c.bot.Start(gCtx)
		c.logger.Info("Telegram update listener stopped.")
		return nil
	})

	g.Go(func() error {
		return c.flushLoop(gCtx)
	})

	return g.Wait()
}

// handleUpdate records one incoming update. Chat and user rows are
// refreshed on every sighting; the message itself is queued for the next
// batch flush.
func (c *Collector) handleUpdate(ctx context.Context, _ *bot.Bot, update *models.Update) {
	switch {
	case update.Message != nil:
		c.recordMessage(ctx, update.Message)
	case update.ChannelPost != nil:
		c.recordMessage(ctx, update.ChannelPost)
	case update.EditedMessage != nil:
		c.recordEdit(ctx, update.EditedMessage)
	case update.EditedChannelPost != nil:
		c.recordEdit(ctx, update.EditedChannelPost)
	}
}

func (c *Collector) recordMessage(ctx context.Context, msg *models.Message) {
	if c.chatID != 0 && msg.Chat.ID != c.chatID {
		return
	}

	chat := chatFrom(&msg.Chat)
	if err := c.store.UpsertChat(ctx, &chat); err != nil {
		c.logger.ErrorContext(ctx, "Failed to upsert chat", "chat_id", chat.ID, "error", err)
		return
	}

	sender := senderFrom(msg)
	if err := c.store.UpsertUser(ctx, &sender); err != nil {
		c.logger.ErrorContext(ctx, "Failed to upsert sender", "user_id", sender.ID, "error", err)
		return
	}

	record := database.Message{
		ID:          int64(msg.ID),
		ChatID:      msg.Chat.ID,
		SenderID:    sender.ID,
		Date:        time.Unix(int64(msg.Date), 0).UTC(),
		Text:        messageText(msg),
		IsForwarded: msg.ForwardOrigin != nil,
	}
	if msg.ReplyToMessage != nil {
		record.ReplyToMsgID = int64(msg.ReplyToMessage.ID)
	}
	if raw, err := json.Marshal(msg); err == nil {
		record.RawJSON = string(raw)
	}

	select {
	case c.pending <- record:
	default:
		// Queue full: write directly rather than dropping the record.
		c.logger.WarnContext(ctx, "Pending queue full, inserting message directly", "message_id", record.ID)
		if err := c.store.InsertMessage(ctx, &record); err != nil {
			c.logger.ErrorContext(ctx, "Failed to insert message", "message_id", record.ID, "error", err)
		}
	}

	if mediaType, mediaID := extractMedia(msg); mediaType != "" {
		media := database.Media{
			MsgID:     int64(msg.ID),
			ChatID:    msg.Chat.ID,
			MediaType: mediaType,
			MediaID:   mediaID,
		}
		if err := c.store.InsertMedia(ctx, &media); err != nil {
			c.logger.ErrorContext(ctx, "Failed to insert media", "msg_id", media.MsgID, "error", err)
		}
	}
}

// recordEdit keeps the archived text, and with it the search index, in sync
// with the origin service.
func (c *Collector) recordEdit(ctx context.Context, msg *models.Message) {
	if c.chatID != 0 && msg.Chat.ID != c.chatID {
		return
	}
	if err := c.store.UpdateMessageText(ctx, int64(msg.ID), messageText(msg)); err != nil {
		c.logger.ErrorContext(ctx, "Failed to update edited message", "message_id", msg.ID, "error", err)
	}
}

// flushLoop drains the pending queue into batch inserts, flushing when the
// batch fills or the interval elapses. A failed flush is retried with
// exponential backoff before the batch is dropped.
func (c *Collector) flushLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]database.Message, 0, c.cfg.BatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		c.flushBatch(ctx, batch)
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			// Final flush runs on a fresh context; shutdown must not
			// abandon already-collected records.
			if len(batch) > 0 {
				flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				c.flushBatch(flushCtx, batch)
				cancel()
			}
			return ctx.Err()
		case msg := <-c.pending:
			batch = append(batch, msg)
			if len(batch) >= c.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (c *Collector) flushBatch(ctx context.Context, batch []database.Message) {
	for attempt := 0; attempt <= maxFlushRetries; attempt++ {
		if attempt > 0 {
			delay := baseRetryDelay * (1 << (attempt - 1))
			c.logger.WarnContext(ctx, "Retrying batch insert",
				"attempt", attempt, "delay", delay, "count", len(batch))
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}

		err := c.store.InsertMessagesBatch(ctx, batch)
		if err == nil {
			c.logger.DebugContext(ctx, "Batch flushed", "count", len(batch))
			return
		}
		c.logger.ErrorContext(ctx, "Batch insert failed", "count", len(batch), "error", err)
	}
	c.logger.ErrorContext(ctx, "Dropping batch after repeated failures", "count", len(batch))
}

// chatFrom builds the archive chat row. Private chats have no title, so one
// is composed from the counterpart's name.
func chatFrom(chat *models.Chat) database.Chat {
	title := chat.Title
	if title == "" {
		title = chat.FirstName
		if chat.LastName != "" {
			title += " " + chat.LastName
		}
	}
	return database.Chat{
		ID:       chat.ID,
		Title:    title,
		Username: chat.Username,
	}
}

// senderFrom resolves the message author. Channel posts carry no user, so
// the chat itself is recorded as a pseudo-user keyed by the chat id.
func senderFrom(msg *models.Message) database.User {
	if msg.From != nil {
		return database.User{
			ID:        msg.From.ID,
			Username:  msg.From.Username,
			FirstName: msg.From.FirstName,
			LastName:  msg.From.LastName,
		}
	}
	chat := chatFrom(&msg.Chat)
	return database.User{
		ID:        chat.ID,
		Username:  chat.Username,
		FirstName: chat.Title,
	}
}

func messageText(msg *models.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	return msg.Caption
}

// extractMedia returns the attachment kind and file id, if any. Photos use
// the largest available size.
func extractMedia(msg *models.Message) (string, string) {
	switch {
	case len(msg.Photo) > 0:
		return "photo", msg.Photo[len(msg.Photo)-1].FileID
	case msg.Document != nil:
		return "document", msg.Document.FileID
	case msg.Video != nil:
		return "video", msg.Video.FileID
	case msg.Animation != nil:
		return "animation", msg.Animation.FileID
	case msg.Audio != nil:
		return "audio", msg.Audio.FileID
	case msg.Voice != nil:
		return "voice", msg.Voice.FileID
	case msg.VideoNote != nil:
		return "video_note", msg.VideoNote.FileID
	case msg.Sticker != nil:
		return "sticker", msg.Sticker.FileID
	}
	return "", ""
}
