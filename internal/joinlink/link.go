// Package joinlink builds and consumes shareable links that carry a room code
// and, optionally, the backend endpoint and credential.
package joinlink

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/mcoot/pvg/internal/config"
	"github.com/mcoot/pvg/internal/model"
)

// Query parameters
const (
	ParamRoom     = "room"
	ParamEndpoint = "u"
	ParamKey      = "k"
)

// Link is the decoded content of a join link
type Link struct {
	Room model.RoomCode

	// Backend is nil unless the link carried both endpoint and credential
	Backend *config.Backend
}

// Build returns base with the room code and base64 encoded backend settings
// appended as query parameters
func Build(base string, code model.RoomCode, backend config.Backend) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrInvalidJoinURL, err)
	}

	params := url.Values{}
	if code != "" {
		params.Set(ParamRoom, string(code))
	}
	if backend.URL != "" {
		params.Set(ParamEndpoint, base64.StdEncoding.EncodeToString([]byte(backend.URL)))
	}
	if backend.Key != "" {
		params.Set(ParamKey, base64.StdEncoding.EncodeToString([]byte(backend.Key)))
	}
	u.RawQuery = params.Encode()
	return u.String(), nil
}

// Parse decodes a join link. Backend settings are only taken when both the
// endpoint and credential are present. Bad encoding yields a validation error.
func Parse(raw string) (Link, error) {
	const op = "parse join link"

	u, err := url.Parse(raw)
	if err != nil {
		return Link{}, model.ValidationError(op, fmt.Errorf("%w: %v", model.ErrInvalidJoinURL, err))
	}
	q := u.Query()

	link := Link{Room: model.RoomCode(strings.ToUpper(strings.TrimSpace(q.Get(ParamRoom))))}

	endpoint, key := q.Get(ParamEndpoint), q.Get(ParamKey)
	if endpoint != "" && key != "" {
		decodedURL, err := base64.StdEncoding.DecodeString(endpoint)
		if err != nil {
			return Link{}, model.ValidationError(op, fmt.Errorf("%w: endpoint: %v", model.ErrInvalidJoinURL, err))
		}
		decodedKey, err := base64.StdEncoding.DecodeString(key)
		if err != nil {
			return Link{}, model.ValidationError(op, fmt.Errorf("%w: credential: %v", model.ErrInvalidJoinURL, err))
		}
		link.Backend = &config.Backend{URL: string(decodedURL), Key: string(decodedKey)}
	}

	if link.Room == "" && link.Backend == nil {
		return Link{}, model.ValidationError(op, fmt.Errorf("%w: nothing to join", model.ErrInvalidJoinURL))
	}
	return link, nil
}

// Strip removes the backend settings from a link, keeping only the room code
func Strip(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	room := u.Query().Get(ParamRoom)
	u.RawQuery = ""
	if room != "" {
		u.RawQuery = url.Values{ParamRoom: {room}}.Encode()
	}
	return u.String()
}
