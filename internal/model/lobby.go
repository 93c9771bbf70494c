package model

// UserStatus is the lobby-visible location of a player
type UserStatus string

const (
	StatusLobby     UserStatus = "lobby"
	StatusPlaying   UserStatus = "playing"
	StatusObserving UserStatus = "observing"
)
