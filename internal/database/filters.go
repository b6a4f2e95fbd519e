package database

import "strings"

// whereBuilder collects parameterized predicates that are rendered as a
// single AND-joined WHERE clause. Values travel exclusively through
// placeholder args; no value is ever concatenated into SQL text.
type whereBuilder struct {
	conds []string
	args  []any
}

func (w *whereBuilder) add(expr string, args ...any) {
	w.conds = append(w.conds, expr)
	w.args = append(w.args, args...)
}

// clause renders the collected predicates. With no predicates it renders a
// tautology so callers can always interpolate it after WHERE.
func (w *whereBuilder) clause() string {
	if len(w.conds) == 0 {
		return "1=1"
	}
	return strings.Join(w.conds, " AND ")
}

// MessageFilter holds the optional predicates for message listing and
// counting. Absent fields do not restrict results on that dimension.
type MessageFilter struct {
	ChatID   *int64
	SenderID *int64
	Keyword  string // substring match on text, not the full-text index
	DateFrom string // inclusive lower bound, TimeLayout format
	DateTo   string // inclusive upper bound, TimeLayout format
}

func (f MessageFilter) apply(w *whereBuilder) {
	if f.ChatID != nil {
		w.add("m.chat_id = ?", *f.ChatID)
	}
	if f.SenderID != nil {
		w.add("m.sender_id = ?", *f.SenderID)
	}
	if f.Keyword != "" {
		w.add("m.text LIKE ?", "%"+f.Keyword+"%")
	}
	if f.DateFrom != "" {
		w.add("m.date >= ?", f.DateFrom)
	}
	if f.DateTo != "" {
		w.add("m.date <= ?", f.DateTo)
	}
}

// MediaFilter holds the optional predicates for media listing.
type MediaFilter struct {
	ChatID    *int64
	MediaType string
}

func (f MediaFilter) apply(w *whereBuilder) {
	if f.ChatID != nil {
		w.add("chat_id = ?", *f.ChatID)
	}
	if f.MediaType != "" {
		w.add("media_type = ?", f.MediaType)
	}
}
