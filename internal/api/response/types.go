package response

import (
	"github.com/mcoot/pvg/internal/config"
	"github.com/mcoot/pvg/internal/session"
)

// Health is the response of the health check
type Health struct {
	Status     string         `json:"status"`
	Session    session.Status `json:"session"`
	Configured bool           `json:"configured"`
}

// Session is the session as shown to this device, along with whether the
// action that produced it has been observed yet
type Session struct {
	session.View
	Observed bool `json:"observed"`
}

// Backend represents the configured backend with the credential redacted
type Backend struct {
	URL    string `json:"url"`
	Key    string `json:"key,omitempty"`
	Scheme string `json:"scheme,omitempty"`
}

// BackendFromConfig converts config.Backend, redacting the credential
func BackendFromConfig(b config.Backend) Backend {
	r := b.Redacted()
	return Backend{
		URL:    r.URL,
		Key:    r.Key,
		Scheme: b.Scheme(),
	}
}

// JoinLink is the response for a join link carrying only a room code
type JoinLink struct {
	Room string `json:"room,omitempty"`
}
