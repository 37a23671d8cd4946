package domain

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Cursor points at the last message of a history page.
type Cursor struct {
	Seq int64 `json:"seq"`
}

func EncodeCursor(c Cursor) string {
	data, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeCursor returns the zero cursor for "".
func DecodeCursor(s string) (Cursor, error) {
	if s == "" {
		return Cursor{}, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: invalid cursor: %v", ErrValidation, err)
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return Cursor{}, fmt.Errorf("%w: invalid cursor: %v", ErrValidation, err)
	}
	if c.Seq < 0 {
		return Cursor{}, fmt.Errorf("%w: invalid cursor", ErrValidation)
	}
	return c, nil
}
