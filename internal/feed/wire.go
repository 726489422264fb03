package feed

import (
	"encoding/json"
	"fmt"

	"github.com/mcoot/pvg/internal/model"
)

// Encode serializes a change for transports that carry bytes
func Encode(c Change) ([]byte, error) {
	return json.Marshal(c)
}

// Decode parses a serialized change and checks that the row matches the table
func Decode(data []byte) (Change, error) {
	var c Change
	if err := json.Unmarshal(data, &c); err != nil {
		return Change{}, fmt.Errorf("decode change: %w", err)
	}
	switch c.Table {
	case model.TableRooms:
		if c.Room == nil {
			return Change{}, fmt.Errorf("decode change: rooms event without row")
		}
	case model.TablePlayers:
		if c.Player == nil {
			return Change{}, fmt.Errorf("decode change: players event without row")
		}
	default:
		return Change{}, fmt.Errorf("decode change: unknown table %q", c.Table)
	}
	return c, nil
}
