package share

import (
	"encoding/base64"
	"errors"
	"net/url"
	"strings"
)

var (
	ErrEmptySelection = errors.New("select at least one product to publish")
	ErrInvalidToken   = errors.New("invalid share token")
)

// EncodeToken packs an ordered id list into a URL-safe path segment. Each id
// is query-escaped first so ids containing commas survive the round trip.
func EncodeToken(ids []string) (string, error) {
	if len(ids) == 0 {
		return "", ErrEmptySelection
	}
	escaped := make([]string, len(ids))
	for i, id := range ids {
		if id == "" {
			return "", ErrEmptySelection
		}
		escaped[i] = url.QueryEscape(id)
	}
	return base64.RawURLEncoding.EncodeToString([]byte(strings.Join(escaped, ","))), nil
}

func DecodeToken(token string) ([]string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(token))
	if err != nil || len(raw) == 0 {
		return nil, ErrInvalidToken
	}
	parts := strings.Split(string(raw), ",")
	ids := make([]string, len(parts))
	for i, part := range parts {
		id, err := url.QueryUnescape(part)
		if err != nil || id == "" {
			return nil, ErrInvalidToken
		}
		ids[i] = id
	}
	return ids, nil
}
