package redis

import (
	"fmt"

	"github.com/mcoot/pvg/internal/feed"
	"github.com/mcoot/pvg/internal/model"
)

// Key prefix for all session data
const keyPrefix = "pvg"

// roomKey returns the Redis key holding a room row as JSON
func roomKey(code model.RoomCode) string {
	return fmt.Sprintf("%s:room:%s", keyPrefix, code)
}

// playersKey returns the Redis key of the HASH of player rows for a room
func playersKey(code model.RoomCode) string {
	return fmt.Sprintf("%s:players:%s", keyPrefix, code)
}

// changesChannel returns the pub/sub channel carrying changes matching a filter
func changesChannel(f feed.Filter) string {
	return fmt.Sprintf("%s:changes:%s", keyPrefix, f)
}

// channelFor returns the channel a committed change is published on
func channelFor(c feed.Change) string {
	if c.Room != nil {
		return changesChannel(feed.RoomFilter(c.Room.Code))
	}
	return changesChannel(feed.PlayerFilter(c.Player.RoomCode))
}
