package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/mcoot/pvg/internal/model"
	"github.com/mcoot/pvg/internal/session"
)

// Output handles formatting output based on the configured format
type Output struct {
	format string
	w      io.Writer
}

// NewOutput creates a new Output formatter writing to w
func NewOutput(format string, w io.Writer) *Output {
	return &Output{format: format, w: w}
}

// Print outputs data in the configured format
func (o *Output) Print(data any) {
	if o.format == "json" {
		o.printJSON(data)
	} else {
		o.printText(data)
	}
}

// PrintLine outputs data as one line, for streams
func (o *Output) PrintLine(data any) {
	if o.format != "json" {
		o.printText(data)
		fmt.Fprintln(o.w)
		return
	}
	b, _ := json.Marshal(data)
	fmt.Fprintln(o.w, string(b))
}

// PrintMessage outputs a simple message
func (o *Output) PrintMessage(msg string) {
	if o.format == "json" {
		data, _ := json.Marshal(map[string]string{"message": msg})
		fmt.Fprintln(o.w, string(data))
	} else {
		fmt.Fprintln(o.w, msg)
	}
}

func (o *Output) printJSON(data any) {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(data)
}

func (o *Output) printText(data any) {
	switch v := data.(type) {
	case session.View:
		o.printView(v)
	case Identity:
		fmt.Fprintf(o.w, "Player ID: %s\n", v.ID)
	case BackendInfo:
		o.printBackend(v)
	case LinkInfo:
		o.printLink(v)
	case HealthResult:
		o.printHealthResult(v)
	default:
		// Fallback to JSON for unknown types
		o.printJSON(data)
	}
}

// Identity is this device's player id
type Identity struct {
	ID model.PlayerID `json:"id"`
}

// BackendInfo is the configured backend, credential redacted unless asked for
type BackendInfo struct {
	URL    string `json:"url"`
	Key    string `json:"key,omitempty"`
	Scheme string `json:"scheme,omitempty"`
}

// LinkInfo describes a join link that was built or opened
type LinkInfo struct {
	URL        string         `json:"url,omitempty"`
	Room       model.RoomCode `json:"room,omitempty"`
	Configured bool           `json:"configured"`
}

// HealthResult response type (matches the companion view)
type HealthResult struct {
	Status     string `json:"status"`
	Session    string `json:"session"`
	Configured bool   `json:"configured"`
}

func (o *Output) printView(v session.View) {
	if v.Code == "" {
		fmt.Fprintf(o.w, "No session (%s)\n", v.Status)
		if v.Error != "" {
			fmt.Fprintf(o.w, "Error: %s\n", v.Error)
		}
		return
	}

	fmt.Fprintf(o.w, "Room: %s\n", v.Code)
	fmt.Fprintf(o.w, "Phase: %s\n", v.Phase)
	if v.Room != nil && (v.Phase == model.PhaseGame || v.Phase == model.PhaseEnded) {
		fmt.Fprintf(o.w, "Round: %d (%s)\n", v.Room.RoundCount, v.Room.GamePhase)
	}
	if v.Room != nil && v.Room.Winner != model.WinnerNone {
		fmt.Fprintf(o.w, "Winner: %s\n", v.Room.Winner)
	}
	if v.Status != session.StatusConnected {
		fmt.Fprintf(o.w, "Status: %s\n", v.Status)
	}
	if v.Error != "" {
		fmt.Fprintf(o.w, "Error: %s\n", v.Error)
	}
	if v.Predators+v.Guardians > 0 {
		fmt.Fprintf(o.w, "Roles: %d predators, %d guardians\n", v.Predators, v.Guardians)
	}

	fmt.Fprintf(o.w, "Players (%d):\n", len(v.Players))
	for _, p := range v.Players {
		var tags []string
		if p.IsHost {
			tags = append(tags, "host")
		}
		if p.ID == v.Self {
			tags = append(tags, "you")
		}
		if !p.IsAlive {
			tags = append(tags, "dead")
		}
		line := fmt.Sprintf("  - %s (%s)", p.Name, p.ID)
		if p.Role != model.RoleUnknown {
			line += " " + string(p.Role)
		}
		if len(tags) > 0 {
			line += " [" + strings.Join(tags, "] [") + "]"
		}
		fmt.Fprintln(o.w, line)
	}
}

func (o *Output) printBackend(b BackendInfo) {
	if b.URL == "" {
		fmt.Fprintln(o.w, "Backend: not configured")
		return
	}
	fmt.Fprintf(o.w, "Backend: %s\n", b.URL)
	if b.Key != "" {
		fmt.Fprintf(o.w, "Key: %s\n", b.Key)
	}
}

func (o *Output) printLink(l LinkInfo) {
	if l.URL != "" {
		fmt.Fprintln(o.w, l.URL)
		return
	}
	if l.Configured {
		fmt.Fprintln(o.w, "Backend configured from link")
	}
	if l.Room != "" {
		fmt.Fprintf(o.w, "Room: %s\n", l.Room)
	}
}

func (o *Output) printHealthResult(h HealthResult) {
	fmt.Fprintf(o.w, "Status: %s\n", h.Status)
	fmt.Fprintf(o.w, "Session: %s\n", h.Session)
	fmt.Fprintf(o.w, "Configured: %t\n", h.Configured)
}
