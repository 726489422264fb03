package joinlink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcoot/pvg/internal/config"
	"github.com/mcoot/pvg/internal/model"
)

func TestBuildParseRoundTrip(t *testing.T) {
	backend := config.Backend{URL: "rediss://cache.example.com:6380/0", Key: "s3cr3t+/=&?"}

	link, err := Build("https://pvg.example.com/play", "ABCD", backend)
	require.NoError(t, err)
	assert.NotContains(t, link, "s3cr3t")

	parsed, err := Parse(link)
	require.NoError(t, err)
	assert.Equal(t, model.RoomCode("ABCD"), parsed.Room)
	require.NotNil(t, parsed.Backend)
	assert.Equal(t, backend, *parsed.Backend)
}

func TestParse(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		wantRoom    model.RoomCode
		wantBackend bool
		wantErr     bool
	}{
		{"room only", "https://x/?room=abcd", "ABCD", false, false},
		{"endpoint without key ignored", "https://x/?room=ABCD&u=cmVkaXM6Ly94", "ABCD", false, false},
		{"full link", "https://x/?room=ABCD&u=cmVkaXM6Ly94&k=a2V5", "ABCD", true, false},
		{"config without room", "https://x/?u=cmVkaXM6Ly94&k=a2V5", "", true, false},
		{"bad endpoint encoding", "https://x/?room=ABCD&u=@@@@&k=a2V5", "", false, true},
		{"bad key encoding", "https://x/?room=ABCD&u=cmVkaXM6Ly94&k=!!!", "", false, true},
		{"empty link", "https://x/", "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			link, err := Parse(tt.raw)
			if tt.wantErr {
				assert.True(t, model.IsKind(err, model.KindValidation), "got %v", err)
				assert.ErrorIs(t, err, model.ErrInvalidJoinURL)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantRoom, link.Room)
			assert.Equal(t, tt.wantBackend, link.Backend != nil)
		})
	}
}

func TestStrip(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"https://x/play?room=ABCD&u=cmVkaXM6Ly94&k=a2V5", "https://x/play?room=ABCD"},
		{"https://x/play?u=cmVkaXM6Ly94&k=a2V5", "https://x/play"},
		{"/join?room=ABCD&k=a2V5", "/join?room=ABCD"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, Strip(tt.raw))
		})
	}
}
