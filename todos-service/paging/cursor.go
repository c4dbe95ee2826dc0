// Package paging implements the opaque continuation cursor used by the todo
// listing. A cursor is the store's last evaluated key serialized as JSON and
// then query-escaped, so clients can pass it back verbatim in ?nextKey=.
package paging

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var ErrInvalidCursor = errors.New("invalid pagination cursor")

// MaxLimit is the largest page size a listing may request.
const MaxLimit = 100

// Key is the position a keyed query resumes from.
type Key struct {
	UserID string `json:"userId"`
	TodoID string `json:"todoId"`
}

// EncodeKey returns nil when there is no further page.
func EncodeKey(key *Key) *string {
	if key == nil {
		return nil
	}
	raw, err := json.Marshal(key)
	if err != nil {
		// Key holds only strings.
		panic(fmt.Sprintf("paging: marshal key: %v", err))
	}
	encoded := url.QueryEscape(string(raw))
	return &encoded
}

// DecodeKey is the inverse of EncodeKey. An empty cursor means "start from
// the beginning" and yields a nil key. A cursor that was already unescaped
// once by the query string parser (it starts with '{') is accepted as is.
func DecodeKey(cursor string) (*Key, error) {
	if cursor == "" {
		return nil, nil
	}
	raw := cursor
	if !strings.HasPrefix(cursor, "{") {
		var err error
		if raw, err = url.QueryUnescape(cursor); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
		}
	}
	var key Key
	if err := json.Unmarshal([]byte(raw), &key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if key.UserID == "" || key.TodoID == "" {
		return nil, fmt.Errorf("%w: missing key attributes", ErrInvalidCursor)
	}
	return &key, nil
}
