package session

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultPrefix marks session strings produced by this service.
const DefaultPrefix = "RED-X~"

// Encode turns the raw creds.json bytes into a shareable session string.
func Encode(prefix string, raw []byte) string {
	return prefix + base64.StdEncoding.EncodeToString(raw)
}

// Decode parses a session string produced by Encode.
func Decode(prefix, s string) (*Creds, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, prefix) {
		return nil, fmt.Errorf("session string does not start with %q", prefix)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(s, prefix))
	if err != nil {
		return nil, fmt.Errorf("invalid base64 payload: %w", err)
	}
	var creds Creds
	if err := json.Unmarshal(raw, &creds); err != nil {
		return nil, fmt.Errorf("invalid credentials payload: %w", err)
	}
	return &creds, nil
}
