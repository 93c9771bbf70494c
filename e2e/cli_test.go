package e2e_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcoot/mpserver/internal/admin"
	"github.com/mcoot/mpserver/internal/api"
	"github.com/mcoot/mpserver/internal/config"
	"github.com/mcoot/mpserver/internal/factory"
	"github.com/mcoot/mpserver/internal/protocol"
	"github.com/mcoot/mpserver/internal/testutil"
)

const (
	testVersion = "1.18.0"
	testToken   = "e2e-admin-token"

	twoSideScenario = `[scenario]
id="duel"
name="Duel"
turns=30
[side]
side=1
controller="human"
[/side]
[side]
side=2
controller="human"
[/side]
[/scenario]
`
)

// cliRunner manages CLI binary execution
type cliRunner struct {
	binaryPath string
	serverURL  string
	tokenFile  string
}

func newCLIRunner(t *testing.T, serverURL string) *cliRunner {
	t.Helper()

	// Find project root (where go.mod is)
	projectRoot := findProjectRoot(t)

	// Build the CLI binary
	binaryPath := filepath.Join(t.TempDir(), "mpctl")
	cmd := exec.Command("go", "build", "-o", binaryPath, "./cmd/mpctl")
	cmd.Dir = projectRoot
	output, err := cmd.CombinedOutput()
	require.NoError(t, err, "failed to build CLI: %s", string(output))

	// Token file holding the admin token
	tokenFile := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(tokenFile, []byte(testToken+"\n"), 0o600))

	return &cliRunner{
		binaryPath: binaryPath,
		serverURL:  serverURL,
		tokenFile:  tokenFile,
	}
}

func (r *cliRunner) run(args ...string) (string, error) {
	fullArgs := append([]string{
		"--server", r.serverURL,
		"--token-file", r.tokenFile,
		"--output", "json",
	}, args...)

	cmd := exec.Command(r.binaryPath, fullArgs...)
	cmd.Env = append(os.Environ(), "MPCTL_TOKEN=", "MPCTL_FIFO=")
	output, err := cmd.CombinedOutput()
	return string(output), err
}

func (r *cliRunner) runWithToken(token string, args ...string) (string, error) {
	fullArgs := append([]string{
		"--server", r.serverURL,
		"--token", token,
		"--token-file", filepath.Join(filepath.Dir(r.tokenFile), "missing"),
		"--output", "json",
	}, args...)

	cmd := exec.Command(r.binaryPath, fullArgs...)
	output, err := cmd.CombinedOutput()
	return string(output), err
}

func findProjectRoot(t *testing.T) string {
	t.Helper()

	dir, err := os.Getwd()
	require.NoError(t, err)

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find project root (go.mod)")
		}
		dir = parent
	}
}

// testServer runs the game server and its status API on loopback ports
type testServer struct {
	app      *factory.TestApp
	gameAddr string
	apiURL   string
	fifo     string
}

func startTestServer(t *testing.T) *testServer {
	t.Helper()

	app, err := factory.NewTestApp(func(cfg *config.Config) {
		cfg.Server.Versions = []string{"1.18*"}
		cfg.Server.MOTD = "End to end."
		cfg.HTTP.Token = testToken
	})
	require.NoError(t, err)
	require.NoError(t, app.Start(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Server.Run(ctx) }()

	gameListener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Server.Serve(gameListener) }()

	apiListener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	apiServer := api.NewServer(api.NewRouter(api.RouterConfig{
		Logger:         testutil.NopLogger(),
		Backend:        app.Server,
		Token:          testToken,
		MaxMessageSize: int64(app.Config.Server.MaxFrameSize),
	}), api.DefaultServerConfig(), testutil.NopLogger())
	go func() { _ = apiServer.Serve(apiListener) }()

	ts := &testServer{
		app:      app,
		gameAddr: gameListener.Addr().String(),
		apiURL:   "http://" + apiListener.Addr().String(),
	}

	fifoDone := make(chan error, 1)
	if runtimeHasFifo() {
		ts.fifo = filepath.Join(t.TempDir(), "socket")
		go func() { fifoDone <- admin.NewFifo(ts.fifo, app.Server, testutil.NopLogger()).Run(ctx) }()
	} else {
		fifoDone <- nil
	}

	waitForServer(t, ts.apiURL+"/healthz")

	t.Cleanup(func() {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = apiServer.Shutdown(shutdownCtx)
		cancel()
		select {
		case <-done:
		case <-shutdownCtx.Done():
		}
		<-fifoDone
		_ = app.Close(context.Background())
	})
	return ts
}

func runtimeHasFifo() bool {
	return runtime.GOOS != "windows"
}

func waitForServer(t *testing.T, url string) {
	t.Helper()

	client := &http.Client{Timeout: 100 * time.Millisecond}
	deadline := time.Now().Add(5 * time.Second)

	for time.Now().Before(deadline) {
		resp, err := client.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}

	t.Fatal("server did not become ready in time")
}

func (ts *testServer) login(t *testing.T, name string) *testutil.Client {
	t.Helper()

	c, err := testutil.Dial(ts.gameAddr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	_, err = c.Login(testVersion, name)
	require.NoError(t, err)
	return c
}

// Response types for JSON parsing
type healthResponse struct {
	Status  string `json:"status"`
	Session string `json:"session"`
}

type statusResponse struct {
	Players      int `json:"players"`
	Games        int `json:"games"`
	GamesStarted int `json:"games_started"`
	Bans         int `json:"bans"`
}

type gamesResponse struct {
	Open []struct {
		ID       int      `json:"id"`
		Name     string   `json:"name"`
		State    string   `json:"state"`
		Host     string   `json:"host"`
		Scenario string   `json:"scenario"`
		Players  []string `json:"players"`
	} `json:"open"`
}

type usersResponse []struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Game   int    `json:"game"`
}

type bansResponse struct {
	Bans []struct {
		Target string `json:"target"`
		Reason string `json:"reason"`
	} `json:"bans"`
}

type adminResponse struct {
	Command string `json:"command"`
	Output  string `json:"output"`
}

func decode[T any](t *testing.T, output string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(output), &v), "output: %s", output)
	return v
}

func TestCLIHealthAndStatus(t *testing.T) {
	ts := startTestServer(t)
	cli := newCLIRunner(t, ts.apiURL)

	out, err := cli.run("health")
	require.NoError(t, err, out)
	health := decode[healthResponse](t, out)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "test-session", health.Session)

	ts.login(t, "alice")

	out, err = cli.run("status")
	require.NoError(t, err, out)
	status := decode[statusResponse](t, out)
	assert.Equal(t, 1, status.Players)
	assert.Equal(t, 0, status.Games)

	out, err = cli.run("users")
	require.NoError(t, err, out)
	users := decode[usersResponse](t, out)
	require.Len(t, users, 1)
	assert.Equal(t, "alice", users[0].Name)
	assert.Equal(t, "lobby", users[0].Status)
}

func TestCLIAdminRequiresToken(t *testing.T) {
	ts := startTestServer(t)
	cli := newCLIRunner(t, ts.apiURL)

	out, err := cli.runWithToken("wrong-token", "admin", "status")
	require.Error(t, err)
	assert.Contains(t, out, "UNAUTHORIZED")

	out, err = cli.run("admin", "status")
	require.NoError(t, err, out)
	result := decode[adminResponse](t, out)
	assert.Equal(t, "status", result.Command)
	assert.Contains(t, result.Output, "Number of games = 0")
}

func TestCLIBanLifecycle(t *testing.T) {
	ts := startTestServer(t)
	cli := newCLIRunner(t, ts.apiURL)

	out, err := cli.run("admin", "ban", "203.0.113.0/24", "1d", "abuse")
	require.NoError(t, err, out)

	out, err = cli.run("bans")
	require.NoError(t, err, out)
	bans := decode[bansResponse](t, out)
	require.Len(t, bans.Bans, 1)
	assert.Equal(t, "203.0.113.0/24", bans.Bans[0].Target)
	assert.Equal(t, "abuse", bans.Bans[0].Reason)

	out, err = cli.run("admin", "unban", "203.0.113.0/24")
	require.NoError(t, err, out)

	out, err = cli.run("bans")
	require.NoError(t, err, out)
	assert.Empty(t, decode[bansResponse](t, out).Bans)

	out, err = cli.run("bans", "--deleted")
	require.NoError(t, err, out)
	assert.Len(t, decode[bansResponse](t, out).Bans, 1)
}

func TestCLIAdminThroughFifo(t *testing.T) {
	ts := startTestServer(t)
	if ts.fifo == "" {
		t.Skip("named pipes are not available")
	}
	cli := newCLIRunner(t, ts.apiURL)
	alice := ts.login(t, "alice")

	require.Eventually(t, func() bool {
		_, err := os.Stat(ts.fifo)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	out, err := cli.run("--fifo", ts.fifo, "admin", "msg", "Maintenance at noon")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Command sent to")

	_, err = alice.ExpectMessage("Maintenance at noon")
	require.NoError(t, err)
}

func TestFullGameFlow(t *testing.T) {
	ts := startTestServer(t)
	cli := newCLIRunner(t, ts.apiURL)

	// alice hosts a two-side game
	alice := ts.login(t, "alice")
	require.NoError(t, alice.SendWML("[create_game]\nname=\"E2E Duel\"\n[/create_game]\n"))
	doc, err := alice.Expect(protocol.KindCreateGame)
	require.NoError(t, err)
	gameID := doc.Child(protocol.KindCreateGame).IntAttr("id", 0)
	require.Positive(t, gameID)
	require.NoError(t, alice.SendWML(twoSideScenario))

	// the game is listed once the scenario is in
	var games gamesResponse
	require.Eventually(t, func() bool {
		out, err := cli.run("games")
		if err != nil {
			return false
		}
		games = decode[gamesResponse](t, out)
		return len(games.Open) == 1 && len(games.Open[0].Players) == 1
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, "E2E Duel", games.Open[0].Name)
	assert.Equal(t, "Duel", games.Open[0].Scenario)
	assert.Equal(t, "alice", games.Open[0].Host)

	// bob joins and is given the second side
	bob := ts.login(t, "bob")
	require.NoError(t, bob.SendWML(fmt.Sprintf("[join]\nid=%d\n[/join]\n", gameID)))
	doc, err = bob.Expect(protocol.KindJoinGame)
	require.NoError(t, err)
	assert.False(t, doc.Child(protocol.KindJoinGame).BoolAttr("observer", true))
	_, err = bob.Expect(protocol.KindScenario)
	require.NoError(t, err)
	doc, err = bob.Expect(protocol.KindChangeController)
	require.NoError(t, err)
	assert.Equal(t, 2, doc.Child(protocol.KindChangeController).IntAttr("side", 0))
	_, err = alice.ExpectMessage("bob has joined the game.")
	require.NoError(t, err)

	// alice starts and plays her turn
	require.NoError(t, alice.SendWML("[start_game]\n[/start_game]\n"))
	_, err = bob.Expect(protocol.KindStartGame)
	require.NoError(t, err)

	require.NoError(t, alice.SendWML("[turn]\n[command]\n[move]\nx=\"1,2\"\n[/move]\n[/command]\n[command]\n[end_turn]\n[/end_turn]\n[/command]\n[/turn]\n"))
	doc, err = bob.Expect(protocol.KindTurn)
	require.NoError(t, err)
	commands := doc.Child(protocol.KindTurn).AllChildren()
	require.Len(t, commands, 2)
	assert.Equal(t, "move", commands[0].FirstChild().Name)
	assert.Equal(t, "end_turn", commands[1].FirstChild().Name)

	// bob cannot move before taking his side
	require.NoError(t, bob.SendWML("[turn]\n[command]\n[move]\n[/move]\n[/command]\n[/turn]\n"))
	_, err = alice.ExpectMessage("Removing illegal command 'move' from: bob. Current player is: alice")
	require.NoError(t, err)

	require.NoError(t, bob.SendWML("[turn]\n[command]\n[init_side]\nside_number=2\n[/init_side]\n[/command]\n[/turn]\n"))
	doc, err = alice.Expect(protocol.KindTurn)
	require.NoError(t, err)
	assert.Equal(t, "init_side", doc.Child(protocol.KindTurn).FirstChild().FirstChild().Name)

	require.Eventually(t, func() bool {
		out, err := cli.run("games")
		if err != nil {
			return false
		}
		games = decode[gamesResponse](t, out)
		return len(games.Open) == 1 && strings.Contains(games.Open[0].State, "started")
	}, 5*time.Second, 50*time.Millisecond)

	// the host drops and bob takes over
	require.NoError(t, alice.Close())
	_, err = bob.Expect(protocol.KindHostTransfer)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		out, err := cli.run("games")
		if err != nil {
			return false
		}
		games = decode[gamesResponse](t, out)
		return len(games.Open) == 1 && games.Open[0].Host == "bob"
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, []string{"bob"}, games.Open[0].Players)
}
