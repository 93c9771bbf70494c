package model

// GameID uniquely identifies a game. Zero means no game.
type GameID int

// GameState is the phase of a game session
type GameState string

const (
	GameStateUninitialized    GameState = "uninitialized"
	GameStateLevelInit        GameState = "level_init"
	GameStateStarted          GameState = "started"
	GameStateBetweenScenarios GameState = "between_scenarios"
	GameStateEnded            GameState = "ended"
)

// ControllerKind is who plays a side
type ControllerKind string

const (
	ControllerNone     ControllerKind = "null"
	ControllerHuman    ControllerKind = "human"
	ControllerAI       ControllerKind = "ai"
	ControllerReserved ControllerKind = "reserved"
)

// ParseController normalizes the controller attribute of a side.
// Missing and unknown values are treated as human.
func ParseController(s string) ControllerKind {
	switch s {
	case "null", "none":
		return ControllerNone
	case "ai", "network_ai":
		return ControllerAI
	case "reserved":
		return ControllerReserved
	}
	return ControllerHuman
}

// Side is one playable slot. Owner is 0 when nobody holds it.
type Side struct {
	Number     int
	Controller ControllerKind
	Owner      ConnID
	SaveID     string
	Reserved   string
}

// Free reports whether a human can claim the side
func (s *Side) Free() bool {
	return s.Owner == 0 && s.Controller == ControllerHuman
}

// NoSide marks the absence of an active side
const NoSide = -1
