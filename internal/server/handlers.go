package server

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"

	"teleconvo/internal/database"
)

// Default and maximum page sizes for the query operations.
const (
	defaultLimit     = 50
	maxMessagesLimit = 200
)

// decodeParams unmarshals the raw params object into a typed, per-operation
// request record. Absent or null params yield the zero record; any type
// mismatch is an invalid-params error. This is the hard type check: cursor
// leniency applies only to tokens that already are strings.
func decodeParams(raw json.RawMessage, out any) *rpcError {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return invalidParams("invalid parameters: " + err.Error())
	}
	return nil
}

// normalizeLimit applies the default, rejects non-positive values, and
// clamps to maxLimit when maxLimit is non-zero.
func normalizeLimit(limit *int, maxLimit int) (int, *rpcError) {
	if limit == nil {
		return defaultLimit, nil
	}
	value := *limit
	if maxLimit > 0 && value > maxLimit {
		value = maxLimit
	}
	if value <= 0 {
		return 0, invalidParams("limit must be greater than 0")
	}
	return value, nil
}

type listMessagesParams struct {
	ChatID   *int64  `json:"chat_id"`
	SenderID *int64  `json:"sender_id"`
	Keyword  *string `json:"keyword"`
	DateFrom *string `json:"date_from"`
	DateTo   *string `json:"date_to"`
	Limit    *int    `json:"limit"`
	Cursor   *string `json:"cursor"`
}

type listMessagesResult struct {
	Messages   []messageRecord `json:"messages"`
	NextCursor *string         `json:"next_cursor"`
	HasMore    bool            `json:"has_more"`
	TotalCount int64           `json:"total_count"`
}

func (d *Dispatcher) handleListMessages(ctx context.Context, raw json.RawMessage) (any, *rpcError) {
	var params listMessagesParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}

	limit, rpcErr := normalizeLimit(params.Limit, maxMessagesLimit)
	if rpcErr != nil {
		return nil, rpcErr
	}

	filter := database.MessageFilter{
		ChatID:   params.ChatID,
		SenderID: params.SenderID,
	}
	if params.Keyword != nil {
		filter.Keyword = *params.Keyword
	}
	if params.DateFrom != nil {
		filter.DateFrom = *params.DateFrom
	}
	if params.DateTo != nil {
		filter.DateTo = *params.DateTo
	}

	cursor := ""
	if params.Cursor != nil {
		cursor = *params.Cursor
	}

	page, err := d.store.ListMessages(ctx, filter, limit, cursor)
	if err != nil {
		return nil, d.internalError(ctx, "listMessages", err)
	}

	total, err := d.store.CountMessages(ctx, filter)
	if err != nil {
		return nil, d.internalError(ctx, "listMessages", err)
	}

	return listMessagesResult{
		Messages:   serializeMessages(page.Messages),
		NextCursor: optString(page.NextCursor),
		HasMore:    page.HasMore,
		TotalCount: total,
	}, nil
}

type listChatsResult struct {
	Chats []chatRecord `json:"chats"`
}

func (d *Dispatcher) handleListChats(ctx context.Context, _ json.RawMessage) (any, *rpcError) {
	chats, err := d.store.ListChats(ctx)
	if err != nil {
		return nil, d.internalError(ctx, "listChats", err)
	}
	return listChatsResult{Chats: serializeChats(chats)}, nil
}

type listUsersParams struct {
	Keyword *string `json:"keyword"`
	Limit   *int    `json:"limit"`
	Cursor  *string `json:"cursor"`
}

type listUsersResult struct {
	Users      []userRecord `json:"users"`
	NextCursor *string      `json:"next_cursor"`
	HasMore    bool         `json:"has_more"`
}

func (d *Dispatcher) handleListUsers(ctx context.Context, raw json.RawMessage) (any, *rpcError) {
	var params listUsersParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}

	limit, rpcErr := normalizeLimit(params.Limit, 0)
	if rpcErr != nil {
		return nil, rpcErr
	}

	keyword := ""
	if params.Keyword != nil {
		keyword = *params.Keyword
	}

	// Cursor is accepted for shape compatibility but users are not
	// cursor-paginated; volume is small relative to messages.
	page, err := d.store.SearchUsers(ctx, keyword, limit)
	if err != nil {
		return nil, d.internalError(ctx, "listUsers", err)
	}

	return listUsersResult{
		Users:      serializeUsers(page.Users),
		NextCursor: nil,
		HasMore:    page.HasMore,
	}, nil
}

type listMediaParams struct {
	ChatID    *int64  `json:"chat_id"`
	MediaType *string `json:"media_type"`
	Limit     *int    `json:"limit"`
	Cursor    *string `json:"cursor"`
}

type listMediaResult struct {
	Media      []mediaRecord `json:"media"`
	NextCursor *string       `json:"next_cursor"`
	HasMore    bool          `json:"has_more"`
}

func (d *Dispatcher) handleListMedia(ctx context.Context, raw json.RawMessage) (any, *rpcError) {
	var params listMediaParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}

	limit, rpcErr := normalizeLimit(params.Limit, 0)
	if rpcErr != nil {
		return nil, rpcErr
	}

	var beforeMsgID int64
	if params.Cursor != nil {
		parsed, err := strconv.ParseInt(*params.Cursor, 10, 64)
		if err != nil {
			return nil, invalidParams("cursor must be a valid integer string")
		}
		beforeMsgID = parsed
	}

	filter := database.MediaFilter{ChatID: params.ChatID}
	if params.MediaType != nil {
		filter.MediaType = *params.MediaType
	}

	page, err := d.store.ListMedia(ctx, filter, limit, beforeMsgID)
	if err != nil {
		return nil, d.internalError(ctx, "listMedia", err)
	}

	return listMediaResult{
		Media:      serializeMedia(page.Media),
		NextCursor: mediaCursorString(page.NextCursor),
		HasMore:    page.HasMore,
	}, nil
}

type searchParams struct {
	Query    *string `json:"query"`
	DateFrom *string `json:"date_from"`
	DateTo   *string `json:"date_to"`
	Limit    *int    `json:"limit"`
}

type searchResult struct {
	Results []messageRecord `json:"results"`
	HasMore bool            `json:"has_more"`
}

func (d *Dispatcher) handleSearch(ctx context.Context, raw json.RawMessage) (any, *rpcError) {
	var params searchParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}

	if params.Query == nil || *params.Query == "" {
		return nil, invalidParams("query parameter is required")
	}

	limit, rpcErr := normalizeLimit(params.Limit, 0)
	if rpcErr != nil {
		return nil, rpcErr
	}

	dateFrom, dateTo := "", ""
	if params.DateFrom != nil {
		dateFrom = *params.DateFrom
	}
	if params.DateTo != nil {
		dateTo = *params.DateTo
	}

	result, err := d.store.SearchMessages(ctx, *params.Query, dateFrom, dateTo, limit)
	if err != nil {
		return nil, d.internalError(ctx, "search", err)
	}

	return searchResult{
		Results: serializeMessages(result.Messages),
		HasMore: result.HasMore,
	}, nil
}
