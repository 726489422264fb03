package model

// Table names of the backing store, as consumed by the change feed
const (
	TableRooms   = "rooms"
	TablePlayers = "players"
)

// Filter keys the two tables can be subscribed by
const (
	FilterKeyCode     = "code"
	FilterKeyRoomCode = "room_code"
)
