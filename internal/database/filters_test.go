package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func int64Ptr(v int64) *int64 { return &v }

func TestWhereBuilderEmptyClause(t *testing.T) {
	t.Parallel()

	var wb whereBuilder
	assert.Equal(t, "1=1", wb.clause())
	assert.Empty(t, wb.args)
}

func TestMessageFilterApply(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		filter     MessageFilter
		wantClause string
		wantArgs   []any
	}{
		{
			name:       "empty filter restricts nothing",
			filter:     MessageFilter{},
			wantClause: "1=1",
			wantArgs:   nil,
		},
		{
			name:       "chat only",
			filter:     MessageFilter{ChatID: int64Ptr(10)},
			wantClause: "m.chat_id = ?",
			wantArgs:   []any{int64(10)},
		},
		{
			name: "all predicates join with AND",
			filter: MessageFilter{
				ChatID:   int64Ptr(10),
				SenderID: int64Ptr(20),
				Keyword:  "hello",
				DateFrom: "2024-01-01T00:00:00",
				DateTo:   "2024-12-31T23:59:59",
			},
			wantClause: "m.chat_id = ? AND m.sender_id = ? AND m.text LIKE ? AND m.date >= ? AND m.date <= ?",
			wantArgs: []any{
				int64(10), int64(20), "%hello%",
				"2024-01-01T00:00:00", "2024-12-31T23:59:59",
			},
		},
		{
			name:       "zero chat id is still a predicate",
			filter:     MessageFilter{ChatID: int64Ptr(0)},
			wantClause: "m.chat_id = ?",
			wantArgs:   []any{int64(0)},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var wb whereBuilder
			tc.filter.apply(&wb)
			assert.Equal(t, tc.wantClause, wb.clause())
			assert.Equal(t, tc.wantArgs, wb.args)
		})
	}
}

func TestMediaFilterApply(t *testing.T) {
	t.Parallel()

	var wb whereBuilder
	MediaFilter{ChatID: int64Ptr(5), MediaType: "photo"}.apply(&wb)
	assert.Equal(t, "chat_id = ? AND media_type = ?", wb.clause())
	assert.Equal(t, []any{int64(5), "photo"}, wb.args)
}
