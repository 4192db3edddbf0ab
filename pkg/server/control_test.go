package server

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"
)

const testTimeout = 3 * time.Second

func startTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.MetricsAddr = "" // no metrics endpoint in tests
	srv := New(cfg)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	return srv
}

// testClient wraps a raw protocol connection for line-level assertions.
type testClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dial(t *testing.T, srv *Server) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &testClient{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *testClient) send(line string) {
	c.t.Helper()
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		c.t.Fatalf("send %q: %v", line, err)
	}
}

func (c *testClient) recv() string {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(testTimeout))
	line, err := c.r.ReadString('\n')
	if err != nil {
		c.t.Fatalf("recv: %v", err)
	}
	return strings.TrimRight(line, "\n")
}

// reply returns the next OK/ERR line, skipping any asynchronous events
// that happen to arrive first.
func (c *testClient) reply() string {
	c.t.Helper()
	for {
		line := c.recv()
		if !strings.HasPrefix(line, "EVENT ") {
			return line
		}
	}
}

func (c *testClient) expectReply(want string) {
	c.t.Helper()
	if got := c.reply(); got != want {
		c.t.Fatalf("reply = %q, want %q", got, want)
	}
}

func (c *testClient) expectReplyPrefix(prefix string) string {
	c.t.Helper()
	got := c.reply()
	if !strings.HasPrefix(got, prefix) {
		c.t.Fatalf("reply = %q, want prefix %q", got, prefix)
	}
	return got
}

// awaitLine reads until a line with the given prefix arrives, skipping
// everything else. Fails on read timeout.
func (c *testClient) awaitLine(prefix string) string {
	c.t.Helper()
	for {
		line := c.recv()
		if strings.HasPrefix(line, prefix) {
			return line
		}
	}
}

// login dials, completes the USER handshake, and consumes the greeting,
// lobby preview, and roster so tests start from a quiet stream.
func login(t *testing.T, srv *Server, username string) *testClient {
	t.Helper()
	c := dial(t, srv)
	c.expectReply("OK WELCOME Use: USER <username>")
	c.send("USER " + username)
	c.expectReply("OK USER_ACCEPTED " + username)
	c.awaitLine("OK LOBBY_USERS")
	return c
}

func TestGreetingAndLoginGate(t *testing.T) {
	srv := startTestServer(t)
	c := dial(t, srv)

	c.expectReply("OK WELCOME Use: USER <username>")

	// Anything but USER is rejected until authenticated, and the
	// connection stays usable.
	c.send("PING")
	c.expectReply("ERR FIRST_COMMAND_MUST_BE_USER")
	c.send("GROUPS")
	c.expectReply("ERR FIRST_COMMAND_MUST_BE_USER")

	c.send("USER")
	c.expectReply("ERR USERNAME_REQUIRED")
	c.send("USER bad.name")
	c.expectReplyPrefix("ERR BAD_ARGS")

	c.send("USER alice")
	c.expectReply("OK USER_ACCEPTED alice")
	c.expectReply("OK LOBBY_USERS alice")

	c.send("PING")
	c.expectReply("OK PONG")
}

func TestUsernameInUseAndRelease(t *testing.T) {
	srv := startTestServer(t)
	alice := login(t, srv, "alice")

	second := dial(t, srv)
	second.expectReplyPrefix("OK WELCOME")
	second.send("USER alice")
	second.expectReply("ERR USERNAME_IN_USE")

	// Rejection leaves the connection open for another attempt.
	second.send("USER alice2")
	second.expectReply("OK USER_ACCEPTED alice2")
	second.awaitLine("OK LOBBY_USERS")

	// Usernames are case-sensitive, so "Alice" is free.
	third := dial(t, srv)
	third.expectReplyPrefix("OK WELCOME")
	third.send("USER Alice")
	third.expectReply("OK USER_ACCEPTED Alice")
	third.awaitLine("OK LOBBY_USERS")

	// QUIT releases the name for reuse.
	alice.send("QUIT")
	alice.expectReply("OK BYE")

	fourth := dial(t, srv)
	fourth.expectReplyPrefix("OK WELCOME")
	deadline := time.Now().Add(testTimeout)
	for {
		fourth.send("USER alice")
		reply := fourth.reply()
		if reply == "OK USER_ACCEPTED alice" {
			break
		}
		if reply != "ERR USERNAME_IN_USE" {
			t.Fatalf("unexpected reply %q", reply)
		}
		if time.Now().After(deadline) {
			t.Fatal("username never released after QUIT")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestGroupCatalog(t *testing.T) {
	srv := startTestServer(t)
	c := login(t, srv, "alice")

	c.send("GROUPS")
	c.expectReply("OK GROUP_LIST lobby,games,cs,random,music")

	// Stable order on repeat.
	c.send("GROUPS")
	c.expectReply("OK GROUP_LIST lobby,games,cs,random,music")
}

func TestJoinWhoLeave(t *testing.T) {
	srv := startTestServer(t)
	alice := login(t, srv, "alice")
	bob := login(t, srv, "bob")

	alice.send("JOIN games")
	alice.expectReply("OK JOINED games")

	// Joining again succeeds without a second event.
	alice.send("JOIN games")
	alice.expectReply("OK JOINED games")

	bob.send("JOIN games")
	bob.expectReply("OK JOINED games")
	alice.awaitLine("EVENT JOINED games bob")

	// WHO works for non-members too.
	whoer := login(t, srv, "carol")
	whoer.send("WHO games")
	whoer.expectReply("OK GAMES_USERS alice,bob")

	bob.send("LEAVE games")
	bob.expectReply("OK LEFT games")
	alice.awaitLine("EVENT LEFT games bob")

	bob.send("LEAVE games")
	bob.expectReply("ERR NOT_IN_GROUP games")

	alice.send("JOIN nope")
	alice.expectReply("ERR UNKNOWN_GROUP nope")
	alice.send("WHO nope")
	alice.expectReply("ERR UNKNOWN_GROUP nope")
	alice.send("JOIN")
	alice.expectReplyPrefix("ERR BAD_ARGS")
}

func TestPostGetHistory(t *testing.T) {
	srv := startTestServer(t)
	alice := login(t, srv, "alice")
	bob := login(t, srv, "bob")

	for _, c := range []*testClient{alice, bob} {
		c.send("JOIN cs")
		c.expectReply("OK JOINED cs")
	}

	alice.send("POST cs lecture notes|see chapter 4")
	alice.expectReply("OK POSTED cs 1")

	// Members get the full message pushed.
	event := bob.awaitLine("EVENT MESSAGE cs 1|alice|")
	if !strings.HasSuffix(event, "|lecture notes|see chapter 4") {
		t.Fatalf("event = %q, want subject/body suffix", event)
	}

	// Reads do not require membership.
	carol := login(t, srv, "carol")
	carol.send("GET cs 1")
	got := carol.expectReplyPrefix("OK MESSAGE cs 1|alice|")
	if !strings.HasSuffix(got, "|lecture notes|see chapter 4") {
		t.Fatalf("GET = %q, want subject/body suffix", got)
	}

	bob.send("POST cs second|")
	bob.expectReply("OK POSTED cs 2")

	carol.send("HISTORY cs 10")
	carol.expectReplyPrefix("OK MESSAGE_SUMMARY cs 1|alice|")
	carol.expectReplyPrefix("OK MESSAGE_SUMMARY cs 2|bob|")
	carol.expectReply("OK HISTORY_END cs")

	// Zero and negative counts yield an empty listing.
	carol.send("HISTORY cs 0")
	carol.expectReply("OK HISTORY_END cs")

	carol.send("GET cs 3")
	carol.expectReply("ERR BAD_MESSAGE_ID cs:3")
	carol.send("GET cs abc")
	carol.expectReplyPrefix("ERR BAD_ARGS")
	carol.send("GET cs")
	carol.expectReplyPrefix("ERR BAD_ARGS")
	carol.send("HISTORY cs x")
	carol.expectReplyPrefix("ERR BAD_ARGS")

	carol.send("POST cs drive-by|nope")
	carol.expectReply("ERR NOT_IN_GROUP cs")
	carol.send("POST cs no-separator")
	carol.expectReplyPrefix("ERR BAD_ARGS")
	carol.send("POST cs |empty subject")
	carol.expectReplyPrefix("ERR BAD_ARGS")
}

func TestLobbyAutoJoinAndPreview(t *testing.T) {
	srv := startTestServer(t)
	alice := login(t, srv, "alice")

	alice.send("POST lobby welcome|newcomers start here")
	alice.expectReply("OK POSTED lobby 1")
	alice.send("POST lobby rules|be kind")
	alice.expectReply("OK POSTED lobby 2")

	// A fresh login replays the recent lobby messages and the roster.
	bob := dial(t, srv)
	bob.expectReplyPrefix("OK WELCOME")
	bob.send("USER bob")
	bob.expectReply("OK USER_ACCEPTED bob")
	bob.expectReplyPrefix("OK MESSAGE_SUMMARY lobby 1|alice|")
	bob.expectReplyPrefix("OK MESSAGE_SUMMARY lobby 2|alice|")
	bob.expectReply("OK LOBBY_USERS alice,bob")

	// Existing lobby members hear about the arrival.
	alice.awaitLine("EVENT JOINED lobby bob")
}

func TestQuitAndDeparture(t *testing.T) {
	srv := startTestServer(t)
	alice := login(t, srv, "alice")
	bob := login(t, srv, "bob")
	alice.awaitLine("EVENT JOINED lobby bob")

	bob.send("QUIT")
	bob.expectReply("OK BYE")
	alice.awaitLine("EVENT LEFT lobby bob")

	alice.send("WHO lobby")
	alice.expectReply("OK LOBBY_USERS alice")
}

func TestUnknownCommand(t *testing.T) {
	srv := startTestServer(t)
	c := login(t, srv, "alice")

	c.send("FROBNICATE")
	c.expectReply("ERR UNKNOWN_COMMAND FROBNICATE")
	if got := srv.Metrics().UnknownCommands.Load(); got != 1 {
		t.Fatalf("UnknownCommands = %d, want 1", got)
	}

	// The connection survives the unknown command.
	c.send("PING")
	c.expectReply("OK PONG")
}

func TestOversizeLineDropsConnection(t *testing.T) {
	srv := startTestServer(t)
	c := login(t, srv, "alice")

	c.send("POST lobby big|" + strings.Repeat("x", 8192))
	c.expectReply("ERR UNKNOWN_COMMAND line too long")

	// The server tears the connection down after the error reply.
	_ = c.conn.SetReadDeadline(time.Now().Add(testTimeout))
	for {
		if _, err := c.r.ReadString('\n'); err != nil {
			return
		}
	}
}

func TestCommandKeywordCaseInsensitive(t *testing.T) {
	srv := startTestServer(t)
	c := login(t, srv, "alice")

	c.send("ping")
	c.expectReply("OK PONG")
	c.send("Join games")
	c.expectReply("OK JOINED games")
	c.send("who games")
	c.expectReply("OK GAMES_USERS alice")
}
