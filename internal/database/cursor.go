package database

import (
	"encoding/base64"
	"encoding/json"
)

// Cursor is an opaque pagination token encoding the sort key of the last
// row returned on the previous page. It is never persisted; clients echo
// it back verbatim to resume a listing.
type Cursor struct {
	LastID   int64  `json:"last_id"`
	LastDate string `json:"last_date"`
}

// EncodeCursor encodes a cursor as base64-wrapped JSON for transmission.
func EncodeCursor(c Cursor) string {
	data, _ := json.Marshal(c)
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeCursor decodes a pagination token. Malformed, truncated, or
// incomplete tokens return ok=false; callers treat that the same as no
// cursor at all, so garbage tokens reset to the first page rather than
// failing the query.
func DecodeCursor(token string) (Cursor, bool) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, false
	}

	var payload struct {
		LastID   *int64  `json:"last_id"`
		LastDate *string `json:"last_date"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Cursor{}, false
	}
	if payload.LastID == nil || payload.LastDate == nil {
		return Cursor{}, false
	}

	return Cursor{LastID: *payload.LastID, LastDate: *payload.LastDate}, true
}
