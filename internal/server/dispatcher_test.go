package server_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teleconvo/internal/database"
	"teleconvo/internal/server"
)

func newTestDispatcher(t *testing.T) (*server.Dispatcher, database.Store) {
	t.Helper()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.CloseDB(db) })

	store := database.NewStore(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return server.NewDispatcher(store, nil), store
}

// rpcReply is the decoded response envelope used by assertions.
type rpcReply struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	ID json.RawMessage `json:"id"`
}

func dispatch(t *testing.T, d *server.Dispatcher, frame string) rpcReply {
	t.Helper()

	out := d.HandleData(context.Background(), []byte(frame))
	var reply rpcReply
	require.NoError(t, json.Unmarshal(out, &reply), "response must be valid JSON: %s", out)
	assert.Equal(t, "2.0", reply.JSONRPC)
	return reply
}

func seedMessages(t *testing.T, store database.Store, n int) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, store.UpsertChat(ctx, &database.Chat{ID: 1, Title: "Chat"}))
	require.NoError(t, store.UpsertUser(ctx, &database.User{ID: 100, FirstName: "Alice"}))

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	msgs := make([]database.Message, 0, n)
	for i := 1; i <= n; i++ {
		msgs = append(msgs, database.Message{
			ID:       int64(i),
			ChatID:   1,
			SenderID: 100,
			Date:     base.Add(time.Duration(i-1) * time.Second),
			Text:     fmt.Sprintf("message %d", i),
		})
	}
	require.NoError(t, store.InsertMessagesBatch(ctx, msgs))
}

func TestDispatchParseError(t *testing.T) {
	t.Parallel()

	d, _ := newTestDispatcher(t)
	reply := dispatch(t, d, `{not json`)
	require.NotNil(t, reply.Error)
	assert.Equal(t, -32700, reply.Error.Code)
}

func TestDispatchInvalidVersion(t *testing.T) {
	t.Parallel()

	d, _ := newTestDispatcher(t)
	reply := dispatch(t, d, `{"jsonrpc":"1.0","method":"listChats","id":1}`)
	require.NotNil(t, reply.Error)
	assert.Equal(t, -32600, reply.Error.Code)
	assert.Equal(t, "1", string(reply.ID), "id must be echoed even on errors")
}

func TestDispatchMethodNotFound(t *testing.T) {
	t.Parallel()

	d, _ := newTestDispatcher(t)
	reply := dispatch(t, d, `{"jsonrpc":"2.0","method":"dropTables","id":2}`)
	require.NotNil(t, reply.Error)
	assert.Equal(t, -32601, reply.Error.Code)
	assert.Contains(t, reply.Error.Message, "dropTables")
}

func TestDispatchParamsMustBeObject(t *testing.T) {
	t.Parallel()

	d, _ := newTestDispatcher(t)

	for _, params := range []string{`[1,2,3]`, `"str"`, `42`} {
		reply := dispatch(t, d, `{"jsonrpc":"2.0","method":"listMessages","params":`+params+`,"id":3}`)
		require.NotNil(t, reply.Error, "params %s must be rejected", params)
		assert.Equal(t, -32602, reply.Error.Code)
	}

	// null and absent params are both fine.
	for _, frame := range []string{
		`{"jsonrpc":"2.0","method":"listMessages","params":null,"id":4}`,
		`{"jsonrpc":"2.0","method":"listMessages","id":5}`,
	} {
		reply := dispatch(t, d, frame)
		assert.Nil(t, reply.Error, "frame %s must succeed", frame)
	}
}

func TestDispatchInvalidParamTypes(t *testing.T) {
	t.Parallel()

	d, _ := newTestDispatcher(t)

	reply := dispatch(t, d, `{"jsonrpc":"2.0","method":"listMessages","params":{"chat_id":"not-a-number"},"id":6}`)
	require.NotNil(t, reply.Error)
	assert.Equal(t, -32602, reply.Error.Code)

	reply = dispatch(t, d, `{"jsonrpc":"2.0","method":"listMessages","params":{"limit":0},"id":7}`)
	require.NotNil(t, reply.Error)
	assert.Equal(t, -32602, reply.Error.Code)
}

func TestListMessagesResultShape(t *testing.T) {
	t.Parallel()

	d, store := newTestDispatcher(t)
	seedMessages(t, store, 3)

	reply := dispatch(t, d, `{"jsonrpc":"2.0","method":"listMessages","params":{"chat_id":1},"id":10}`)
	require.Nil(t, reply.Error)

	var result struct {
		Messages []map[string]json.RawMessage `json:"messages"`
		// Pointers distinguish null from absent serialization.
		NextCursor *string `json:"next_cursor"`
		HasMore    bool    `json:"has_more"`
		TotalCount int64   `json:"total_count"`
	}
	require.NoError(t, json.Unmarshal(reply.Result, &result))

	require.Len(t, result.Messages, 3)
	assert.Nil(t, result.NextCursor)
	assert.False(t, result.HasMore)
	assert.Equal(t, int64(3), result.TotalCount)

	for _, key := range []string{"id", "chat_id", "sender_id", "date", "text", "reply_to_msg_id", "is_forwarded"} {
		assert.Contains(t, result.Messages[0], key)
	}
	assert.Equal(t, `3`, string(result.Messages[0]["id"]), "newest message first")
	assert.Equal(t, `"2024-01-01T00:00:02"`, string(result.Messages[0]["date"]))
}

// TestListMessagesPaginationViaDispatcher drives the five-message, two-per-
// page scenario through the full request pipeline.
func TestListMessagesPaginationViaDispatcher(t *testing.T) {
	t.Parallel()

	d, store := newTestDispatcher(t)
	seedMessages(t, store, 5)

	type pageResult struct {
		Messages []struct {
			ID int64 `json:"id"`
		} `json:"messages"`
		NextCursor *string `json:"next_cursor"`
		HasMore    bool    `json:"has_more"`
		TotalCount int64   `json:"total_count"`
	}

	getPage := func(cursor *string) pageResult {
		params := map[string]any{"limit": 2}
		if cursor != nil {
			params["cursor"] = *cursor
		}
		frame, err := json.Marshal(map[string]any{
			"jsonrpc": "2.0", "method": "listMessages", "params": params, "id": 1,
		})
		require.NoError(t, err)

		reply := dispatch(t, d, string(frame))
		require.Nil(t, reply.Error)
		var result pageResult
		require.NoError(t, json.Unmarshal(reply.Result, &result))
		return result
	}

	ids := func(p pageResult) []int64 {
		out := make([]int64, len(p.Messages))
		for i, m := range p.Messages {
			out[i] = m.ID
		}
		return out
	}

	page1 := getPage(nil)
	assert.Equal(t, []int64{5, 4}, ids(page1))
	assert.True(t, page1.HasMore)
	assert.Equal(t, int64(5), page1.TotalCount)
	require.NotNil(t, page1.NextCursor)

	page2 := getPage(page1.NextCursor)
	assert.Equal(t, []int64{3, 2}, ids(page2))
	assert.True(t, page2.HasMore)
	require.NotNil(t, page2.NextCursor)

	page3 := getPage(page2.NextCursor)
	assert.Equal(t, []int64{1}, ids(page3))
	assert.False(t, page3.HasMore)
	assert.Nil(t, page3.NextCursor)
}

func TestListMessagesLimitClamped(t *testing.T) {
	t.Parallel()

	d, store := newTestDispatcher(t)
	seedMessages(t, store, 1)

	// A limit over the maximum is clamped, not rejected.
	reply := dispatch(t, d, `{"jsonrpc":"2.0","method":"listMessages","params":{"limit":5000},"id":1}`)
	assert.Nil(t, reply.Error)
}

func TestListChats(t *testing.T) {
	t.Parallel()

	d, store := newTestDispatcher(t)
	ctx := context.Background()
	require.NoError(t, store.UpsertChat(ctx, &database.Chat{ID: 1, Title: "Beta"}))
	require.NoError(t, store.UpsertChat(ctx, &database.Chat{ID: 2, Title: "Alpha", Username: "alpha_chat"}))

	reply := dispatch(t, d, `{"jsonrpc":"2.0","method":"listChats","id":1}`)
	require.Nil(t, reply.Error)

	var result struct {
		Chats []struct {
			ID       int64   `json:"id"`
			Title    string  `json:"title"`
			Username *string `json:"username"`
		} `json:"chats"`
	}
	require.NoError(t, json.Unmarshal(reply.Result, &result))
	require.Len(t, result.Chats, 2)
	assert.Equal(t, "Alpha", result.Chats[0].Title, "chats ordered by title")
	require.NotNil(t, result.Chats[0].Username)
	assert.Equal(t, "alpha_chat", *result.Chats[0].Username)
	assert.Nil(t, result.Chats[1].Username, "absent username serializes as null")
}

func TestListUsersNotPaginated(t *testing.T) {
	t.Parallel()

	d, store := newTestDispatcher(t)
	ctx := context.Background()
	require.NoError(t, store.UpsertUser(ctx, &database.User{ID: 1, Username: "alice", FirstName: "Alice"}))
	require.NoError(t, store.UpsertUser(ctx, &database.User{ID: 2, Username: "bob", FirstName: "Bob"}))

	reply := dispatch(t, d, `{"jsonrpc":"2.0","method":"listUsers","params":{"keyword":"ali","cursor":"ignored"},"id":1}`)
	require.Nil(t, reply.Error)

	var result struct {
		Users      []json.RawMessage `json:"users"`
		NextCursor *string           `json:"next_cursor"`
	}
	require.NoError(t, json.Unmarshal(reply.Result, &result))
	assert.Len(t, result.Users, 1)
	assert.Nil(t, result.NextCursor, "users are never cursor-paginated")
}

func TestListMediaCursorValidation(t *testing.T) {
	t.Parallel()

	d, store := newTestDispatcher(t)
	ctx := context.Background()
	require.NoError(t, store.UpsertChat(ctx, &database.Chat{ID: 1, Title: "Chat"}))
	seedMessages(t, store, 3)
	for i := int64(1); i <= 3; i++ {
		require.NoError(t, store.InsertMedia(ctx, &database.Media{
			MsgID: i, ChatID: 1, MediaType: "photo", MediaID: fmt.Sprintf("f%d", i),
		}))
	}

	// Media cursors are integer strings, checked strictly.
	reply := dispatch(t, d, `{"jsonrpc":"2.0","method":"listMedia","params":{"cursor":"abc"},"id":1}`)
	require.NotNil(t, reply.Error)
	assert.Equal(t, -32602, reply.Error.Code)

	reply = dispatch(t, d, `{"jsonrpc":"2.0","method":"listMedia","params":{"limit":2},"id":2}`)
	require.Nil(t, reply.Error)

	var result struct {
		Media []struct {
			MsgID int64 `json:"msg_id"`
		} `json:"media"`
		NextCursor *string `json:"next_cursor"`
		HasMore    bool    `json:"has_more"`
	}
	require.NoError(t, json.Unmarshal(reply.Result, &result))
	require.Len(t, result.Media, 2)
	assert.True(t, result.HasMore)
	require.NotNil(t, result.NextCursor)
	assert.Equal(t, "2", *result.NextCursor)

	reply = dispatch(t, d, `{"jsonrpc":"2.0","method":"listMedia","params":{"cursor":"2"},"id":3}`)
	require.Nil(t, reply.Error)
	require.NoError(t, json.Unmarshal(reply.Result, &result))
	require.Len(t, result.Media, 1)
	assert.Equal(t, int64(1), result.Media[0].MsgID)
}

func TestSearchRequiresQuery(t *testing.T) {
	t.Parallel()

	d, _ := newTestDispatcher(t)

	for _, params := range []string{`{}`, `{"query":""}`} {
		reply := dispatch(t, d, `{"jsonrpc":"2.0","method":"search","params":`+params+`,"id":1}`)
		require.NotNil(t, reply.Error)
		assert.Equal(t, -32602, reply.Error.Code)
	}
}

func TestSearchViaDispatcher(t *testing.T) {
	t.Parallel()

	d, store := newTestDispatcher(t)
	ctx := context.Background()
	require.NoError(t, store.UpsertChat(ctx, &database.Chat{ID: 1, Title: "Chat"}))
	require.NoError(t, store.UpsertUser(ctx, &database.User{ID: 100, FirstName: "Alice"}))
	require.NoError(t, store.InsertMessage(ctx, &database.Message{
		ID: 1, ChatID: 1, SenderID: 100,
		Date: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Text: "the quick brown fox",
	}))

	reply := dispatch(t, d, `{"jsonrpc":"2.0","method":"search","params":{"query":"fox"},"id":1}`)
	require.Nil(t, reply.Error)

	var result struct {
		Results []struct {
			ID   int64   `json:"id"`
			Text *string `json:"text"`
		} `json:"results"`
		HasMore bool `json:"has_more"`
	}
	require.NoError(t, json.Unmarshal(reply.Result, &result))
	require.Len(t, result.Results, 1)
	assert.Equal(t, int64(1), result.Results[0].ID)
	require.NotNil(t, result.Results[0].Text)
	assert.Equal(t, "the quick brown fox", *result.Results[0].Text)
	assert.False(t, result.HasMore)
}

func TestBatchRequests(t *testing.T) {
	t.Parallel()

	d, store := newTestDispatcher(t)
	seedMessages(t, store, 2)

	// Mixed batch: valid requests answered in order, non-object entries
	// silently dropped.
	out := d.HandleData(context.Background(),
		[]byte(`[{"jsonrpc":"2.0","method":"listChats","id":1},"junk",{"jsonrpc":"2.0","method":"nope","id":2}]`))
	var replies []rpcReply
	require.NoError(t, json.Unmarshal(out, &replies))
	require.Len(t, replies, 2)
	assert.Nil(t, replies[0].Error)
	assert.Equal(t, "1", string(replies[0].ID))
	require.NotNil(t, replies[1].Error)
	assert.Equal(t, -32601, replies[1].Error.Code)
	assert.Equal(t, "2", string(replies[1].ID))

	// All-invalid batch collapses to a single invalid-request error.
	reply := dispatch(t, d, `[1,2,"three"]`)
	require.NotNil(t, reply.Error)
	assert.Equal(t, -32600, reply.Error.Code)

	// Malformed batch JSON is a parse error.
	reply = dispatch(t, d, `[{"jsonrpc":`)
	require.NotNil(t, reply.Error)
	assert.Equal(t, -32700, reply.Error.Code)
}
