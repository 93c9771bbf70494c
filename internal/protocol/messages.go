package protocol

import (
	"github.com/mcoot/mpserver/internal/model"
	"github.com/mcoot/mpserver/internal/wml"
)

// Message kinds exchanged with clients
const (
	KindVersion             = "version"
	KindRedirect            = "redirect"
	KindReject              = "reject"
	KindMustLogin           = "mustlogin"
	KindLogin               = "login"
	KindJoinLobby           = "join_lobby"
	KindError               = "error"
	KindCreateGame          = "create_game"
	KindJoin                = "join"
	KindJoinGame            = "join_game"
	KindLeaveGame           = "leave_game"
	KindStartGame           = "start_game"
	KindScenario            = "scenario"
	KindScenarioDiff        = "scenario_diff"
	KindTurn                = "turn"
	KindCommand             = "command"
	KindRequestChoice       = "request_choice"
	KindChangeController    = "change_controller"
	KindChangeControllerWML = "change_controller_wml"
	KindStoreNextScenario   = "store_next_scenario"
	KindNotifyNextScenario  = "notify_next_scenario"
	KindLoadNextScenario    = "load_next_scenario"
	KindNextScenario        = "next_scenario"
	KindWhisper             = "whisper"
	KindMessage             = "message"
	KindMute                = "mute"
	KindUnmute              = "unmute"
	KindKick                = "kick"
	KindBan                 = "ban"
	KindUnban               = "unban"
	KindQuery               = "query"
	KindPing                = "ping"
	KindInfo                = "info"
	KindGamelist            = "gamelist"
	KindGamelistDiff        = "gamelist_diff"
	KindGame                = "game"
	KindUser                = "user"
	KindHostTransfer        = "host_transfer"
	KindObserver            = "observer"
	KindObserverQuit        = "observer_quit"
	KindSide                = "side"
)

// ServerSender is the sender name used for server-originated chat
const ServerSender = "server"

// Kind returns the name of the first child of a received document
func Kind(doc *wml.Node) string {
	if c := doc.FirstChild(); c != nil {
		return c.Name
	}
	return ""
}

func message(name string) (*wml.Node, *wml.Node) {
	doc := wml.NewDocument()
	return doc, doc.AddChild(name)
}

// VersionQuery asks a new client for its version
func VersionQuery() *wml.Node {
	doc, _ := message(KindVersion)
	return doc
}

// Reject tells a client its version is not accepted
func Reject(accepted string) *wml.Node {
	doc, body := message(KindReject)
	body.Set("accepted_versions", accepted)
	return doc
}

// Redirect points a client at another server
func Redirect(host string, port int) *wml.Node {
	doc, body := message(KindRedirect)
	body.Set("host", host).SetInt("port", port)
	return doc
}

// MustLogin asks the client for login credentials
func MustLogin() *wml.Node {
	doc, _ := message(KindMustLogin)
	return doc
}

// JoinLobby confirms a successful login
func JoinLobby(moderator bool, name string) *wml.Node {
	doc, body := message(KindJoinLobby)
	body.SetBool("is_moderator", moderator).Set("name", name)
	return doc
}

// LoginError rejects a login attempt with a typed code
func LoginError(code model.LoginErrorCode, text string) *wml.Node {
	doc, body := message(KindError)
	body.SetInt("error_code", int(code)).Set("message", text)
	if code == model.LoginPasswordRequest {
		body.SetBool("password_request", true)
	}
	return doc
}

// Error reports a non-login failure
func Error(text string) *wml.Node {
	doc, body := message(KindError)
	body.Set("message", text)
	return doc
}

// ServerMessage is chat text from the server itself
func ServerMessage(text string) *wml.Node {
	return Chat(ServerSender, text)
}

// Chat is a public chat line
func Chat(sender, text string) *wml.Node {
	doc, body := message(KindMessage)
	body.Set("sender", sender).Set("message", text)
	return doc
}

// Whisper is a private chat line
func Whisper(sender, receiver, text string) *wml.Node {
	doc, body := message(KindWhisper)
	body.Set("sender", sender).Set("receiver", receiver).Set("message", text)
	return doc
}

// GamelistDiff wraps lobby document operations
func GamelistDiff(ops ...*wml.Node) *wml.Node {
	doc, body := message(KindGamelistDiff)
	for _, op := range ops {
		body.AppendChild(op)
	}
	return doc
}

// CreateGameReply tells the host the id of its new game
func CreateGameReply(id model.GameID) *wml.Node {
	doc, body := message(KindCreateGame)
	body.SetInt("id", int(id))
	return doc
}

// JoinGameReply confirms a join
func JoinGameReply(id model.GameID, observer bool) *wml.Node {
	doc, body := message(KindJoinGame)
	body.SetInt("id", int(id)).SetBool("observer", observer)
	return doc
}

// LeaveGame tells a member it is no longer in the game
func LeaveGame() *wml.Node {
	doc, _ := message(KindLeaveGame)
	return doc
}

// HostTransfer tells a member it now owns the game
func HostTransfer(name string) *wml.Node {
	doc, body := message(KindHostTransfer)
	body.Set("name", name).Set("value", "1")
	return doc
}

// ObserverJoined announces a new observer
func ObserverJoined(name string) *wml.Node {
	doc, body := message(KindObserver)
	body.Set("name", name)
	return doc
}

// ObserverQuit announces an observer leaving
func ObserverQuit(name string) *wml.Node {
	doc, body := message(KindObserverQuit)
	body.Set("name", name)
	return doc
}

// StartGame announces the game has started
func StartGame() *wml.Node {
	doc, _ := message(KindStartGame)
	return doc
}

// NotifyNextScenario announces the host has stored the next scenario
func NotifyNextScenario() *wml.Node {
	doc, _ := message(KindNotifyNextScenario)
	return doc
}

// NextScenario delivers the stored scenario to a member
func NextScenario(level *wml.Node) *wml.Node {
	doc, body := message(KindNextScenario)
	for _, c := range level.AllChildren() {
		body.AppendChild(c.Clone())
	}
	return doc
}

// Turn wraps commands into a turn document
func Turn(commands ...*wml.Node) *wml.Node {
	doc, body := message(KindTurn)
	for _, c := range commands {
		body.AppendChild(c)
	}
	return doc
}

// ChangeController notifies a member of a side changing hands
func ChangeController(side int, player string, controller model.ControllerKind, local bool) *wml.Node {
	doc, body := message(KindChangeController)
	body.SetInt("side", side).
		Set("player", player).
		Set("controller", string(controller)).
		SetBool("is_local", local)
	return doc
}
