package firestore

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// pageToken encodes the cursor position for createdAt-ordered listings.
type pageToken struct {
	CreatedAt time.Time `json:"createdAt"`
	ID        string    `json:"id"`
}

func encodePageToken(token pageToken) (string, error) {
	data, err := json.Marshal(token)
	if err != nil {
		return "", fmt.Errorf("encode page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func decodePageToken(encoded string) (*pageToken, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode page token: %w", err)
	}
	var token pageToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("decode page token json: %w", err)
	}
	return &token, nil
}

func clampPageSize(size, fallback, max int) int {
	if size <= 0 {
		return fallback
	}
	if size > max {
		return max
	}
	return size
}
