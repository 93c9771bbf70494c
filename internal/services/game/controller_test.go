package game

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/mpserver/internal/dependencies/mocks"
	"github.com/mcoot/mpserver/internal/model"
	"github.com/mcoot/mpserver/internal/protocol"
	"github.com/mcoot/mpserver/internal/services/lobby"
	"github.com/mcoot/mpserver/internal/services/registry"
	"github.com/mcoot/mpserver/internal/testutil"
	"github.com/mcoot/mpserver/internal/wml"
)

type fakeReplays struct {
	saved []Replay
}

func (f *fakeReplays) Save(r Replay) string {
	f.saved = append(f.saved, r)
	return fmt.Sprintf("%s_Turn_%d.wml.lz4", r.Scenario, r.Turn)
}

type ControllerSuite struct {
	suite.Suite
	registry    *registry.Registry
	broadcaster *lobby.Broadcaster
	replays     *fakeReplays
	clock       *mocks.MockClock
	random      *mocks.MockRandom
	cfg         Config
	controller  *Controller
	sinks       map[model.ConnID]*testutil.Sink
}

func TestControllerSuite(t *testing.T) {
	suite.Run(t, new(ControllerSuite))
}

func (s *ControllerSuite) SetupTest() {
	s.registry = registry.New(testutil.NopLogger())
	s.broadcaster = lobby.NewBroadcaster(s.registry, testutil.NopLogger())
	s.replays = &fakeReplays{}
	s.clock = mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	s.random = mocks.NewMockRandom()
	s.cfg = DefaultConfig()
	s.cfg.SpoofLimit = 2
	s.sinks = make(map[model.ConnID]*testutil.Sink)
	s.rebuild()
}

func (s *ControllerSuite) rebuild() {
	s.controller = NewController(s.registry, s.broadcaster, s.replays, s.clock, s.random, s.cfg, testutil.NopLogger())
}

func (s *ControllerSuite) connect(id model.ConnID, name string) model.Player {
	return s.connectAs(model.Player{ConnID: id, Name: name, IP: fmt.Sprintf("10.0.0.%d", id)})
}

func (s *ControllerSuite) connectAs(p model.Player) model.Player {
	sink := &testutil.Sink{}
	s.sinks[p.ConnID] = sink
	s.Require().NoError(s.registry.Add(p, sink))
	got, _ := s.registry.Get(p.ConnID)
	return got
}

func scenario(controllers ...string) *wml.Node {
	doc := wml.NewDocument()
	sc := doc.AddChild(protocol.KindScenario).
		Set("id", "test_map").
		Set("name", "Test Map").
		SetInt("turns", 20)
	for i, c := range controllers {
		sc.AddChild(protocol.KindSide).SetInt("side", i+1).Set("controller", c)
	}
	return doc
}

// hosted creates a game for alice (1) with the given sides
func (s *ControllerSuite) hosted(controllers ...string) *Game {
	host := s.connect(1, "alice")
	g, err := s.controller.CreateGame(host, "Test Game", "", true)
	s.Require().NoError(err)
	s.Require().NoError(g.SetLevel(1, scenario(controllers...)))
	return g
}

// started is a running two-player game: alice on side 1, bob on side 2
func (s *ControllerSuite) started() *Game {
	g := s.hosted("human", "human")
	bob := s.connect(2, "bob")
	observer, err := g.AddPlayer(bob, false, "")
	s.Require().NoError(err)
	s.Require().False(observer)
	s.Require().NoError(g.StartGame(1))
	s.resetSinks()
	return g
}

func (s *ControllerSuite) resetSinks() {
	for _, sink := range s.sinks {
		sink.Reset()
	}
}

func command(name string) *wml.Node {
	cmd := wml.NewNode(protocol.KindCommand)
	cmd.AddChild(name)
	return cmd
}

func turn(cmds ...*wml.Node) *wml.Node {
	return protocol.Turn(cmds...).Child(protocol.KindTurn)
}

// Creation and level setup

func (s *ControllerSuite) TestCreateGameIsUnlistedUntilLevel() {
	host := s.connect(1, "alice")
	g, err := s.controller.CreateGame(host, "Test Game", "", true)
	s.Require().NoError(err)

	s.Equal(model.GameID(1), g.ID())
	s.Equal(model.GameStateUninitialized, g.State())
	s.False(g.Listed())
	s.Empty(s.broadcaster.Games())
	s.Equal(1, s.sinks[1].Last(protocol.KindCreateGame).IntAttr("id", 0))

	p, _ := s.registry.Get(1)
	s.Equal(model.GameID(1), p.Game)
}

func (s *ControllerSuite) TestCreateGameRejectsPlayerInGame() {
	g := s.hosted("human")
	p, _ := s.registry.Get(1)
	_, err := s.controller.CreateGame(p, "Second", "", true)
	s.ErrorIs(err, model.ErrAlreadyInGame)
	s.Equal(1, s.controller.Len())
	s.Equal(model.GameID(1), g.ID())
}

func (s *ControllerSuite) TestSetLevelListsGameAndSeatsHost() {
	g := s.hosted("human", "human", "ai")

	s.True(g.Listed())
	s.Equal(model.GameStateLevelInit, g.State())
	sides := g.Sides()
	s.Require().Len(sides, 3)
	s.Equal(model.ConnID(1), sides[0].Owner)
	s.Equal(model.ConnID(0), sides[1].Owner)
	s.Equal(model.ConnID(1), sides[2].Owner)

	desc, ok := s.broadcaster.Game(1)
	s.Require().True(ok)
	s.Equal("Test Map", desc.Attr("scenario"))
	s.Equal(2, desc.IntAttr("human_sides", 0))
	s.Equal(1, desc.IntAttr("vacant_slots", 0))
	s.Equal("alice", desc.Attr("host"))
	s.Equal("0/20", desc.Attr("turn"))

	level := g.Level().Child(protocol.KindScenario)
	s.Equal("alice", level.ChildAt(protocol.KindSide, 0).Attr("current_player"))
}

func (s *ControllerSuite) TestSetLevelRequiresHost() {
	g := s.hosted("human")
	s.connect(2, "bob")
	err := g.SetLevel(2, scenario("human"))
	s.ErrorIs(err, model.ErrNotHost)
}

func (s *ControllerSuite) TestSetLevelRequiresScenario() {
	host := s.connect(1, "alice")
	g, err := s.controller.CreateGame(host, "Test Game", "", true)
	s.Require().NoError(err)
	err = g.SetLevel(1, wml.NewDocument())
	s.ErrorIs(err, model.ErrMalformedCommand)
	s.False(g.Listed())
}

func (s *ControllerSuite) TestScenarioDiffAppliesAndRelays() {
	g := s.hosted("human", "human")
	bob := s.connect(2, "bob")
	_, err := g.AddPlayer(bob, false, "")
	s.Require().NoError(err)
	s.resetSinks()

	before := g.Level()
	after := before.Clone()
	after.Child(protocol.KindScenario).Set("name", "Renamed")
	diff := wml.Diff(before, after)
	diff.Name = protocol.KindScenarioDiff

	s.Require().NoError(g.ApplyScenarioDiff(1, diff))
	s.Equal("Renamed", g.Level().Child(protocol.KindScenario).Attr("name"))
	s.NotNil(s.sinks[2].Last(protocol.KindScenarioDiff))
	s.Nil(s.sinks[1].Last(protocol.KindScenarioDiff))

	desc, _ := s.broadcaster.Game(1)
	s.Equal("Renamed", desc.Attr("scenario"))
}

func (s *ControllerSuite) TestBadScenarioDiffLeavesLevelUnchanged() {
	g := s.hosted("human")
	before := g.Level()

	bad := wml.NewNode(protocol.KindScenarioDiff)
	bad.AppendChild(wml.DeleteChild(5, protocol.KindScenario))
	s.Error(g.ApplyScenarioDiff(1, bad))
	s.True(before.Equal(g.Level()))
}

// Joining

func (s *ControllerSuite) TestJoinClaimsFreeSide() {
	g := s.hosted("human", "human")
	s.resetSinks()
	bob := s.connect(2, "bob")

	observer, err := g.AddPlayer(bob, false, "")
	s.Require().NoError(err)
	s.False(observer)
	s.Equal(model.ConnID(2), g.Sides()[1].Owner)

	kinds := s.sinks[2].Kinds()
	s.Require().NotEmpty(kinds)
	s.Equal(protocol.KindJoinGame, kinds[0])
	s.Equal(protocol.KindScenario, kinds[1])
	local := s.sinks[2].Last(protocol.KindChangeController)
	s.Require().NotNil(local)
	s.True(local.BoolAttr("is_local", false))

	announce := s.sinks[1].Last(protocol.KindChangeController)
	s.Require().NotNil(announce)
	s.Equal(2, announce.IntAttr("side", 0))
	s.False(announce.BoolAttr("is_local", true))
	s.Contains(s.sinks[1].Messages(), "bob has joined the game.")

	p, _ := s.registry.Get(2)
	s.Equal(model.GameID(1), p.Game)
	desc, _ := s.broadcaster.Game(1)
	s.Equal(0, desc.IntAttr("vacant_slots", -1))
}

func (s *ControllerSuite) TestJoinReservedSide() {
	host := s.connect(1, "alice")
	g, err := s.controller.CreateGame(host, "Test Game", "", true)
	s.Require().NoError(err)
	level := scenario("human", "human")
	level.Child(protocol.KindScenario).ChildAt(protocol.KindSide, 1).
		Set("controller", "reserved").Set("current_player", "carol")
	s.Require().NoError(g.SetLevel(1, level))

	bob := s.connect(2, "bob")
	observer, err := g.AddPlayer(bob, false, "")
	s.Require().NoError(err)
	s.True(observer)

	carol := s.connect(3, "Carol")
	observer, err = g.AddPlayer(carol, false, "")
	s.Require().NoError(err)
	s.False(observer)
	s.Equal(model.ConnID(3), g.Sides()[1].Owner)
	s.Equal(model.ControllerHuman, g.Sides()[1].Controller)
}

func (s *ControllerSuite) TestJoinFullGameBecomesObserver() {
	g := s.hosted("human")
	s.resetSinks()
	bob := s.connect(2, "bob")

	observer, err := g.AddPlayer(bob, false, "")
	s.Require().NoError(err)
	s.True(observer)
	s.True(g.IsObserver(2))
	s.Equal("bob", s.sinks[1].Last(protocol.KindObserver).Attr("name"))
	s.True(s.sinks[2].Last(protocol.KindJoinGame).BoolAttr("observer", false))
}

func (s *ControllerSuite) TestObserversForbidden() {
	host := s.connect(1, "alice")
	g, err := s.controller.CreateGame(host, "Test Game", "", false)
	s.Require().NoError(err)
	s.Require().NoError(g.SetLevel(1, scenario("human")))

	bob := s.connect(2, "bob")
	_, err = g.AddPlayer(bob, true, "")
	s.ErrorIs(err, model.ErrObserversForbidden)
	s.False(g.IsMember(2))
	p, _ := s.registry.Get(2)
	s.True(p.InLobby())

	mod := s.connectAs(model.Player{ConnID: 3, Name: "mod", Moderator: true})
	observer, err := g.AddPlayer(mod, true, "")
	s.Require().NoError(err)
	s.True(observer)
}

func (s *ControllerSuite) TestGlobalObserverPolicyWins() {
	s.cfg.AllowObservers = false
	s.rebuild()
	g := s.hosted("human")
	s.False(g.Description().BoolAttr("observer", true))

	bob := s.connect(2, "bob")
	_, err := g.AddPlayer(bob, true, "")
	s.ErrorIs(err, model.ErrObserversForbidden)
}

func (s *ControllerSuite) TestJoinPassword() {
	host := s.connect(1, "alice")
	g, err := s.controller.CreateGame(host, "Secret", "hunter2", true)
	s.Require().NoError(err)
	s.Require().NoError(g.SetLevel(1, scenario("human", "human")))

	bob := s.connect(2, "bob")
	_, err = g.AddPlayer(bob, false, "wrong")
	s.ErrorIs(err, model.ErrIncorrectPassword)

	_, err = g.AddPlayer(bob, false, "hunter2")
	s.NoError(err)
}

func (s *ControllerSuite) TestJoinUninitializedGame() {
	host := s.connect(1, "alice")
	g, err := s.controller.CreateGame(host, "Test Game", "", true)
	s.Require().NoError(err)

	bob := s.connect(2, "bob")
	_, err = g.AddPlayer(bob, false, "")
	s.ErrorIs(err, model.ErrLevelNotLoaded)
}

func (s *ControllerSuite) TestLateJoinerReceivesHistory() {
	g := s.started()
	s.Require().NoError(g.ProcessTurn(1, turn(command("move"), command("end_turn"))))

	carol := s.connect(3, "carol")
	observer, err := g.AddPlayer(carol, false, "")
	s.Require().NoError(err)
	s.True(observer)

	kinds := s.sinks[3].Kinds()
	s.Equal([]string{
		protocol.KindJoinGame,
		protocol.KindScenario,
		protocol.KindStartGame,
		protocol.KindTurn,
	}, kinds)
	replayed := s.sinks[3].Last(protocol.KindTurn)
	s.Equal(2, replayed.ChildCount(protocol.KindCommand))
}

// Turns

func (s *ControllerSuite) TestStartGameSetsFirstSide() {
	g := s.started()
	s.Equal(model.GameStateStarted, g.State())
	s.Equal(1, g.Turn())
	s.Equal(1, g.CurrentSide())
	s.Equal(1, g.NextSide())
	s.Equal(1, s.controller.Stats().Started)
}

func (s *ControllerSuite) TestStartGameRequiresHost() {
	g := s.hosted("human", "human")
	bob := s.connect(2, "bob")
	_, err := g.AddPlayer(bob, false, "")
	s.Require().NoError(err)

	s.ErrorIs(g.StartGame(2), model.ErrNotHost)
	s.Require().NoError(g.StartGame(1))
	s.ErrorIs(g.StartGame(1), model.ErrGameStarted)
}

func (s *ControllerSuite) TestTurnSequencing() {
	g := s.started()

	s.Require().NoError(g.ProcessTurn(1, turn(command("end_turn"))))
	s.Equal(2, g.NextSide())
	s.Equal(1, g.CurrentSide())
	s.Equal(1, g.Turn())

	s.Require().NoError(g.ProcessTurn(2, turn(command("init_side"))))
	s.Equal(2, g.CurrentSide())
	s.Equal(1, g.Turn())

	s.Require().NoError(g.ProcessTurn(2, turn(command("move"), command("end_turn"))))
	s.Equal(1, g.NextSide())

	s.Require().NoError(g.ProcessTurn(1, turn(command("init_side"))))
	s.Equal(1, g.CurrentSide())
	s.Equal(2, g.Turn())

	desc, _ := s.broadcaster.Game(1)
	s.Equal("2/20", desc.Attr("turn"))
}

func (s *ControllerSuite) TestNullSidesAreSkipped() {
	g := s.hosted("human", "null", "ai")
	s.Require().NoError(g.StartGame(1))
	s.Equal(1, g.CurrentSide())

	s.Require().NoError(g.ProcessTurn(1, turn(command("end_turn"))))
	s.Equal(3, g.NextSide())
}

func (s *ControllerSuite) TestAllNullSidesHaveNoCurrentSide() {
	g := s.hosted("null", "null")
	s.Require().NoError(g.StartGame(1))
	s.Equal(model.NoSide, g.CurrentSide())
	s.Equal(model.NoSide, g.NextSide())
}

func (s *ControllerSuite) TestIllegalCommandIsStripped() {
	g := s.started()

	s.Require().NoError(g.ProcessTurn(2, turn(command("move"))))

	s.Nil(s.sinks[1].Last(protocol.KindTurn))
	s.Equal(0, g.HistoryLen())
	want := "Removing illegal command 'move' from: bob. Current player is: alice"
	s.Contains(s.sinks[1].Messages(), want)
	s.Contains(s.sinks[2].Messages(), want)
}

func (s *ControllerSuite) TestLegalCommandsRelayedAndRecorded() {
	g := s.started()

	s.Require().NoError(g.ProcessTurn(1, turn(command("move"), command("attack"))))

	relayed := s.sinks[2].Last(protocol.KindTurn)
	s.Require().NotNil(relayed)
	s.Equal(2, relayed.ChildCount(protocol.KindCommand))
	s.Nil(s.sinks[1].Last(protocol.KindTurn))
	s.Equal(1, g.HistoryLen())
}

func (s *ControllerSuite) TestNonCommandChildrenDropped() {
	g := s.started()
	t := turn(command("move"))
	t.AddChild("junk")

	s.Require().NoError(g.ProcessTurn(1, t))
	relayed := s.sinks[2].Last(protocol.KindTurn)
	s.Require().NotNil(relayed)
	s.Equal(1, relayed.Len())
}

func (s *ControllerSuite) TestAnytimeCommands() {
	g := s.started()
	s.Require().NoError(g.ProcessTurn(2, turn(command("label"), command("surrender"))))
	s.Equal(2, s.sinks[1].Last(protocol.KindTurn).ChildCount(protocol.KindCommand))
}

func (s *ControllerSuite) TestTurnBeforeStartRejected() {
	g := s.hosted("human")
	err := g.ProcessTurn(1, turn(command("move")))
	s.ErrorIs(err, model.ErrGameNotStarted)
}

func (s *ControllerSuite) TestDependentCommandOwnership() {
	g := s.started()
	own := command("checkup").Set("dependent", "yes").Set("from_side", "2")
	s.Require().NoError(g.ProcessTurn(2, turn(own)))
	s.NotNil(s.sinks[1].Last(protocol.KindTurn))

	s.resetSinks()
	spoof := command("checkup").Set("dependent", "yes").Set("from_side", "1")
	s.Require().NoError(g.ProcessTurn(2, turn(spoof)))
	s.Nil(s.sinks[1].Last(protocol.KindTurn))
	s.Equal(model.EndReasonNone, g.EndReason())

	s.Require().NoError(g.ProcessTurn(2, turn(spoof.Clone())))
	s.Equal(model.EndReasonOutOfSync, g.EndReason())
}

// Chat

func (s *ControllerSuite) TestSpeakIsRelayedWithSenderName() {
	g := s.started()
	speak := command("speak")
	speak.Child("speak").Set("message", "hello").Set("id", "spoofed")

	s.Require().NoError(g.ProcessTurn(2, turn(speak)))

	got := s.sinks[1].Last(protocol.KindTurn)
	s.Require().NotNil(got)
	s.Equal("bob", got.Child(protocol.KindCommand).Child("speak").Attr("id"))
	s.Equal(0, g.HistoryLen())
}

func (s *ControllerSuite) TestSpeakToSides() {
	g := s.started()
	carol := s.connect(3, "carol")
	_, err := g.AddPlayer(carol, true, "")
	s.Require().NoError(err)
	s.resetSinks()

	speak := command("speak")
	speak.Child("speak").Set("message", "psst").Set("to_sides", "2")
	s.Require().NoError(g.ProcessTurn(1, turn(speak)))

	s.NotNil(s.sinks[2].Last(protocol.KindTurn))
	s.Nil(s.sinks[3].Last(protocol.KindTurn))
}

func (s *ControllerSuite) TestMutedObserver() {
	g := s.started()
	carol := s.connect(3, "carol")
	_, err := g.AddPlayer(carol, true, "")
	s.Require().NoError(err)

	s.Require().NoError(g.MuteObserver(1, "carol"))
	s.True(g.IsMuted(3))
	s.resetSinks()

	speak := command("speak")
	speak.Child("speak").Set("message", "spam")
	s.Require().NoError(g.ProcessTurn(3, turn(speak)))

	s.Nil(s.sinks[1].Last(protocol.KindTurn))
	s.Contains(s.sinks[3].Messages(), "You have been muted, others can't see your message!")

	s.ErrorIs(g.Chat(3, "hi"), model.ErrPermissionDenied)

	s.Require().NoError(g.UnmuteObserver(1, "carol"))
	s.Require().NoError(g.Chat(3, "hi"))
	s.Contains(s.sinks[1].Messages(), "hi")
}

func (s *ControllerSuite) TestMuteAllToggles() {
	g := s.started()
	carol := s.connect(3, "carol")
	_, err := g.AddPlayer(carol, true, "")
	s.Require().NoError(err)

	s.Require().NoError(g.MuteObserver(1, ""))
	s.True(g.IsMuted(3))
	s.False(g.IsMuted(2))
	s.Require().NoError(g.MuteObserver(1, ""))
	s.False(g.IsMuted(3))
}

func (s *ControllerSuite) TestMuteRequiresObserver() {
	g := s.started()
	s.ErrorIs(g.MuteObserver(1, "bob"), model.ErrNotObserver)
	s.ErrorIs(g.MuteObserver(2, "alice"), model.ErrNotHost)
}

// Choices

func (s *ControllerSuite) TestRandomSeedChoice() {
	g := s.started()
	s.random.QueueUint32(0xdeadbeef)

	req := wml.NewNode(protocol.KindRequestChoice).SetInt("request_id", 1)
	req.AddChild("random_seed")
	s.Require().NoError(g.HandleChoice(1, req))

	for _, id := range []model.ConnID{1, 2} {
		t := s.sinks[id].Last(protocol.KindTurn)
		s.Require().NotNil(t)
		cmd := t.Child(protocol.KindCommand)
		s.Equal("server", cmd.Attr("from_side"))
		s.True(cmd.BoolAttr("dependent", false))
		s.Equal("deadbeef", cmd.Child("random_seed").Attr("new_seed"))
		s.Equal(1, cmd.Child("random_seed").IntAttr("request_id", 0))
	}
	s.Equal(1, g.HistoryLen())

	// a repeated request is served once
	s.Require().NoError(g.HandleChoice(1, req.Clone()))
	s.Equal(1, g.HistoryLen())
}

func (s *ControllerSuite) TestChoiceRequiresCurrentSide() {
	g := s.started()
	req := wml.NewNode(protocol.KindRequestChoice).SetInt("request_id", 1)
	req.AddChild("random_seed")
	s.ErrorIs(g.HandleChoice(2, req), model.ErrNotSideOwner)
}

func (s *ControllerSuite) TestChoiceWithoutRequestID() {
	g := s.started()
	req := wml.NewNode(protocol.KindRequestChoice)
	req.AddChild("random_seed")
	s.ErrorIs(g.HandleChoice(1, req), model.ErrMalformedCommand)
}

func (s *ControllerSuite) TestAddSideChoice() {
	g := s.started()
	req := wml.NewNode(protocol.KindRequestChoice).SetInt("request_id", 3)
	req.AddChild("add_side_wml").Set("team_name", "extra")
	s.Require().NoError(g.HandleChoice(1, req))

	s.Len(g.Sides(), 3)
	s.Equal(model.ControllerNone, g.Sides()[2].Controller)
	cmd := s.sinks[2].Last(protocol.KindTurn).Child(protocol.KindCommand)
	s.Equal(3, cmd.Child("add_side_wml").IntAttr("side", 0))
}

// Side control

func (s *ControllerSuite) TestTransferSideControl() {
	g := s.started()
	history := g.HistoryLen()

	s.Require().NoError(g.TransferSideControl(1, 1, "bob", model.ControllerHuman))

	s.Equal(model.ConnID(2), g.Sides()[0].Owner)
	s.True(s.sinks[2].Last(protocol.KindChangeController).BoolAttr("is_local", false))
	s.False(s.sinks[1].Last(protocol.KindChangeController).BoolAttr("is_local", true))
	s.Equal(history+1, g.HistoryLen())
	s.Equal("bob", g.Level().Child(protocol.KindScenario).ChildAt(protocol.KindSide, 0).Attr("current_player"))
}

func (s *ControllerSuite) TestTransferSideControlErrors() {
	g := s.started()
	s.ErrorIs(g.TransferSideControl(2, 1, "bob", model.ControllerHuman), model.ErrNotSideOwner)
	s.ErrorIs(g.TransferSideControl(1, 9, "bob", model.ControllerHuman), model.ErrSideOutOfRange)
	s.ErrorIs(g.TransferSideControl(1, 1, "nobody", model.ControllerHuman), model.ErrPlayerNotFound)
}

func (s *ControllerSuite) TestChangeControllerMessage() {
	g := s.started()
	body := wml.NewNode(protocol.KindChangeController).SetInt("side", 2).Set("player", "bob").Set("controller", "ai")
	s.Require().NoError(g.ChangeController(2, body))
	s.Equal(model.ControllerAI, g.Sides()[1].Controller)

	body.Set("controller", "null")
	s.ErrorIs(g.ChangeController(2, body), model.ErrMalformedCommand)
}

func (s *ControllerSuite) TestChangeControllerWMLIsHostOnly() {
	g := s.started()
	body := wml.NewNode(protocol.KindChangeControllerWML).SetInt("side", 2).Set("controller", "null")
	s.ErrorIs(g.ChangeControllerWML(2, body), model.ErrNotHost)

	s.Require().NoError(g.ChangeControllerWML(1, body))
	s.Equal(model.ControllerNone, g.Sides()[1].Controller)
	s.Equal(model.ConnID(0), g.Sides()[1].Owner)
}

// Leaving

func (s *ControllerSuite) TestHostLeavesBeforeStart() {
	g := s.hosted("human", "human")
	bob := s.connect(2, "bob")
	_, err := g.AddPlayer(bob, false, "")
	s.Require().NoError(err)

	s.True(g.RemovePlayer(1))
	s.Equal(model.EndReasonHostLeft, g.EndReason())
	s.Contains(s.sinks[2].Messages(), "The host has left the game.")

	members, rec, err := s.controller.CloseGame(g.ID(), model.EndReasonNone)
	s.Require().NoError(err)
	s.Equal([]model.ConnID{2}, members)
	s.Equal(model.EndReasonHostLeft, rec.Reason)
	s.NotNil(s.sinks[2].Last(protocol.KindLeaveGame))
	s.Empty(s.broadcaster.Games())
	p, _ := s.registry.Get(2)
	s.True(p.InLobby())
}

func (s *ControllerSuite) TestHostLeavesAfterStart() {
	g := s.started()

	s.False(g.RemovePlayer(1))

	s.Equal(model.ConnID(2), g.Owner())
	s.Equal("bob", s.sinks[2].Last(protocol.KindHostTransfer).Attr("name"))
	s.Equal(model.ConnID(2), g.Sides()[0].Owner)
	desc, _ := s.broadcaster.Game(1)
	s.Equal("bob", desc.Attr("host"))
}

func (s *ControllerSuite) TestPlayerLeavesBeforeStartFreesSide() {
	g := s.hosted("human", "human")
	bob := s.connect(2, "bob")
	_, err := g.AddPlayer(bob, false, "")
	s.Require().NoError(err)

	s.False(g.RemovePlayer(2))
	s.True(g.Sides()[1].Free())
	s.Contains(s.sinks[1].Messages(), "bob has left the game.")
}

func (s *ControllerSuite) TestObserverLeaves() {
	g := s.started()
	carol := s.connect(3, "carol")
	_, err := g.AddPlayer(carol, true, "")
	s.Require().NoError(err)

	s.False(g.RemovePlayer(3))
	s.Equal("carol", s.sinks[1].Last(protocol.KindObserverQuit).Attr("name"))
}

func (s *ControllerSuite) TestLastMemberLeavingEndsGame() {
	g := s.hosted("human")
	s.True(g.RemovePlayer(1))
	s.Equal(model.EndReasonEmpty, g.EndReason())
}

func (s *ControllerSuite) TestMembershipSequencesKeepSideOwnership() {
	for seed := uint64(1); seed <= 25; seed++ {
		s.SetupTest()
		s.runMembershipSequence(seed, 60)
	}
}

// runMembershipSequence applies random joins, leaves, kicks, starts and
// side transfers, checking side ownership after every step. A game that
// closes is replaced by a new one.
func (s *ControllerSuite) runMembershipSequence(seed uint64, steps int) {
	rng := rand.New(rand.NewPCG(seed, seed))
	ids := []model.ConnID{1, 2, 3, 4, 5, 6}
	for _, id := range ids {
		s.connect(id, fmt.Sprintf("p%d", id))
	}

	newGame := func() *Game {
		host, _ := s.registry.Get(ids[rng.IntN(len(ids))])
		g, err := s.controller.CreateGame(host, "Sequence", "", true)
		s.Require().NoError(err)
		s.Require().NoError(g.SetLevel(host.ConnID, scenario("human", "human", "ai", "human")))
		return g
	}
	pick := func(from []model.ConnID) model.ConnID {
		return from[rng.IntN(len(from))]
	}
	outsiders := func(g *Game) []model.ConnID {
		var out []model.ConnID
		for _, id := range ids {
			if !g.IsMember(id) {
				out = append(out, id)
			}
		}
		return out
	}

	g := newGame()
	for step := 0; step < steps; step++ {
		var op string
		closing := false
		switch rng.IntN(6) {
		case 0, 1:
			op = "join"
			if out := outsiders(g); len(out) > 0 {
				p, _ := s.registry.Get(pick(out))
				_, _ = g.AddPlayer(p, rng.IntN(4) == 0, "")
			}
		case 2:
			op = "leave"
			closing = g.RemovePlayer(pick(g.Members()))
		case 3:
			op = "kick"
			target, _ := s.registry.Get(pick(g.Members()))
			_, _ = g.KickMember(g.Owner(), target.Name)
		case 4:
			op = "transfer"
			number := rng.IntN(len(g.Sides())) + 1
			sender := g.Sides()[number-1].Owner
			if sender == 0 {
				sender = g.Owner()
			}
			to, _ := s.registry.Get(pick(g.Members()))
			_ = g.TransferSideControl(sender, number, to.Name, model.ControllerHuman)
		case 5:
			op = "start"
			_ = g.StartGame(g.Owner())
		}

		if closing {
			_, _, err := s.controller.CloseGame(g.ID(), model.EndReasonNone)
			s.Require().NoError(err)
			for _, id := range ids {
				p, _ := s.registry.Get(id)
				s.True(p.InLobby(), "seed %d step %d: %s still in a closed game", seed, step, p.Name)
			}
			g = newGame()
		}
		s.checkSideOwnership(g, fmt.Sprintf("seed %d step %d after %s", seed, step, op))
	}
}

// checkSideOwnership asserts every side has at most one owner, that owner is
// a member named in the level, and members owning nothing are observers
func (s *ControllerSuite) checkSideOwnership(g *Game, where string) {
	owned := make(map[model.ConnID]int)
	sides := g.Level().Child(protocol.KindScenario).Children(protocol.KindSide)
	s.Require().Len(sides, len(g.Sides()), where)

	for i, side := range g.Sides() {
		s.Equal(i+1, side.Number, where)
		if side.Owner == 0 {
			s.False(sides[i].Has("current_player"), "%s: side %d", where, side.Number)
			continue
		}
		s.True(g.IsMember(side.Owner), "%s: side %d owned by non-member %d", where, side.Number, side.Owner)
		p, ok := s.registry.Get(side.Owner)
		s.Require().True(ok, where)
		s.Equal(p.Name, sides[i].Attr("current_player"), "%s: side %d", where, side.Number)
		owned[side.Owner]++
	}

	for _, m := range g.Members() {
		s.Equal(owned[m] == 0, g.IsObserver(m), "%s: member %d owns %d sides", where, m, owned[m])
		p, _ := s.registry.Get(m)
		s.Equal(g.ID(), p.Game, where)
	}
	for id := range owned {
		s.True(g.IsMember(id), where)
	}

	if g.Listed() {
		desc, ok := s.broadcaster.Game(g.ID())
		s.Require().True(ok, where)
		s.True(g.Description().Equal(desc), "%s: lobby listing is stale", where)
	}
}

// Moderation

func (s *ControllerSuite) TestKickMember() {
	g := s.started()
	target, err := g.KickMember(1, "Bob")
	s.Require().NoError(err)
	s.Equal(model.ConnID(2), target)
	s.False(g.IsMember(2))
	s.NotNil(s.sinks[2].Last(protocol.KindLeaveGame))
	s.Contains(s.sinks[1].Messages(), "bob has been kicked.")
}

func (s *ControllerSuite) TestKickRules() {
	g := s.started()
	mod := s.connectAs(model.Player{ConnID: 3, Name: "mod", Moderator: true})
	_, err := g.AddPlayer(mod, true, "")
	s.Require().NoError(err)

	_, err = g.KickMember(2, "alice")
	s.ErrorIs(err, model.ErrNotHost)
	_, err = g.KickMember(1, "alice")
	s.ErrorIs(err, model.ErrCannotTargetSelf)
	_, err = g.KickMember(1, "mod")
	s.ErrorIs(err, model.ErrTargetModerator)
	_, err = g.KickMember(1, "nobody")
	s.ErrorIs(err, model.ErrPlayerNotFound)
}

func (s *ControllerSuite) TestBanKeepsPlayerOut() {
	g := s.started()
	target, err := g.BanUser(1, "bob")
	s.Require().NoError(err)
	s.Equal(model.ConnID(2), target)

	bob, _ := s.registry.Get(2)
	_, err = g.AddPlayer(bob, true, "")
	s.ErrorIs(err, model.ErrBannedFromGame)

	s.Require().NoError(g.UnbanUser(1, "bob"))
	_, err = g.AddPlayer(bob, true, "")
	s.NoError(err)
}

func (s *ControllerSuite) TestBanAbsentName() {
	g := s.started()
	target, err := g.BanUser(1, "dave")
	s.Require().NoError(err)
	s.Equal(model.ConnID(0), target)
	s.Contains(g.BannedNames(), "dave")
	s.ErrorIs(g.UnbanUser(1, "erin"), model.ErrBanNotFound)
}

// Campaigns

func (s *ControllerSuite) TestStoreAndLoadNextScenario() {
	g := s.started()
	s.Require().NoError(g.ProcessTurn(1, turn(command("move"))))

	next := scenario("human", "human")
	next.Child(protocol.KindScenario).Set("id", "second_map")
	body := wml.NewNode(protocol.KindStoreNextScenario)
	body.AppendChild(next.Child(protocol.KindScenario).Clone())

	s.Require().NoError(g.StoreNextScenario(1, body))
	s.Equal(model.GameStateBetweenScenarios, g.State())
	s.Equal(0, g.HistoryLen())
	s.Require().Len(s.replays.saved, 1)
	s.Equal("test_map", s.replays.saved[0].Scenario)
	s.Len(s.replays.saved[0].History, 1)
	s.NotNil(s.sinks[2].Last(protocol.KindNotifyNextScenario))
	s.Equal(model.ConnID(2), g.Sides()[1].Owner)

	s.Require().NoError(g.LoadNextScenario(2))
	got := s.sinks[2].Last(protocol.KindNextScenario)
	s.Require().NotNil(got)
	s.Equal("second_map", got.Child(protocol.KindScenario).Attr("id"))

	s.Require().NoError(g.StartGame(1))
	s.Equal(1, g.Turn())
	s.Equal(1, s.controller.Stats().Started)
}

func (s *ControllerSuite) TestStoreNextScenarioRequiresStart() {
	g := s.hosted("human")
	body := wml.NewNode(protocol.KindStoreNextScenario)
	body.AddChild(protocol.KindScenario)
	s.ErrorIs(g.StoreNextScenario(1, body), model.ErrGameNotStarted)
}

// Closing

func (s *ControllerSuite) TestCloseStartedGameSavesReplay() {
	g := s.started()
	info := wml.NewNode(protocol.KindInfo).Set("type", "termination").Set("condition", "victory")
	g.HandleInfo(1, info)

	members, rec, err := s.controller.CloseGame(g.ID(), model.EndReasonShutdown)
	s.Require().NoError(err)
	s.ElementsMatch([]model.ConnID{1, 2}, members)
	s.Equal(model.EndReasonVictory, rec.Reason)
	s.Equal([]string{"alice", "bob"}, rec.Players)
	s.Equal("test_map_Turn_1.wml.lz4", rec.Replay)
	s.Len(s.replays.saved, 1)
	s.Equal(0, s.controller.Len())
	s.Equal(1, s.controller.Stats().Closed)

	_, _, err = s.controller.CloseGame(g.ID(), model.EndReasonNone)
	s.ErrorIs(err, model.ErrGameNotFound)
}

func (s *ControllerSuite) TestCloseUnstartedGameSkipsReplay() {
	g := s.hosted("human")
	_, _, err := s.controller.CloseGame(g.ID(), model.EndReasonShutdown)
	s.Require().NoError(err)
	s.Empty(s.replays.saved)
}
