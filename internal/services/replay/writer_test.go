package replay

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/mpserver/internal/dependencies/mocks"
	"github.com/mcoot/mpserver/internal/protocol"
	"github.com/mcoot/mpserver/internal/services/game"
	"github.com/mcoot/mpserver/internal/testutil"
	"github.com/mcoot/mpserver/internal/wml"
)

type WriterSuite struct {
	suite.Suite
	dir   string
	clock *mocks.MockClock
}

func TestWriterSuite(t *testing.T) {
	suite.Run(t, new(WriterSuite))
}

func (s *WriterSuite) SetupTest() {
	s.dir = s.T().TempDir()
	s.clock = mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
}

func sample() game.Replay {
	level := wml.NewDocument()
	level.AddChild(protocol.KindScenario).Set("id", "2p_Map")

	move := wml.NewNode(protocol.KindCommand)
	move.AddChild("move").Set("x", "1,2")
	return game.Replay{
		Game:     4,
		Name:     "Test Game",
		Scenario: "2p_Map",
		Turn:     3,
		Level:    level,
		History:  []*wml.Node{protocol.Turn(move)},
	}
}

func (s *WriterSuite) TestSyncWriteAndRead() {
	w := New(Config{Dir: s.dir, Session: "abc"}, s.clock, testutil.NopLogger())

	name := w.Save(sample())
	s.Equal("2p_Map_Turn_3_4_abc.wml.lz4", name)
	s.Equal(1, w.Written())

	doc, err := Read(filepath.Join(s.dir, name))
	s.Require().NoError(err)
	info := doc.Child("replay_info")
	s.Require().NotNil(info)
	s.Equal("Test Game", info.Attr("name"))
	s.Equal(3, info.IntAttr("turn", 0))
	s.Equal("2p_Map", doc.Child(protocol.KindScenario).Attr("id"))
	turns := doc.Child("replay").Children(protocol.KindTurn)
	s.Require().Len(turns, 1)
	s.Equal("1,2", turns[0].Child(protocol.KindCommand).Child("move").Attr("x"))
}

func (s *WriterSuite) TestAsyncWritesBeforeClose() {
	w := New(Config{Dir: s.dir}, s.clock, testutil.NopLogger())
	w.Start()

	r := sample()
	for turn := 1; turn <= 3; turn++ {
		r.Turn = turn
		w.Save(r)
	}
	w.Close()

	s.Equal(3, w.Written())
	entries, err := os.ReadDir(s.dir)
	s.Require().NoError(err)
	s.Len(entries, 3)
}

func (s *WriterSuite) TestDisabledWithoutDir() {
	w := New(Config{}, s.clock, testutil.NopLogger())
	s.Equal("", w.Save(sample()))
	s.Equal(0, w.Written())
}

func (s *WriterSuite) TestFileNameSanitized() {
	r := sample()
	r.Scenario = "../evil name"
	s.Equal("___evil_name_Turn_3_4.wml.lz4", FileName(r, ""))
}
