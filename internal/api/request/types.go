package request

// CreateSessionRequest is the request body for creating a session
type CreateSessionRequest struct {
	Name string `json:"name"`
}

// JoinSessionRequest is the request body for joining a session
type JoinSessionRequest struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// EndSessionRequest is the request body for ending a session
type EndSessionRequest struct {
	Winner string `json:"winner"`
}

// ResetSessionRequest is the request body for resetting a session.
// The roster is kept unless keep_roster is explicitly false.
type ResetSessionRequest struct {
	KeepRoster *bool `json:"keep_roster,omitempty"`
}

// ConfigRequest is the request body for configuring the backend
type ConfigRequest struct {
	URL string `json:"url"`
	Key string `json:"key"`
}
