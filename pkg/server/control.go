package server

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/jhaugen/bboard/pkg/board"
	"github.com/jhaugen/bboard/pkg/model"
	"github.com/jhaugen/bboard/pkg/protocol"
)

// drainTimeout bounds how long a closing connection waits for its writer
// goroutine to flush queued lines (the QUIT reply, departure events).
const drainTimeout = 5 * time.Second

// Start binds the TCP listener and launches the accept loop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	s.ln = ln
	slog.Info("bulletin board listening", "addr", ln.Addr())

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
					slog.Error("accept error", "err", err)
					continue
				}
			}
			go s.handleConn(conn)
		}
	}()

	return nil
}

// handleConn owns one client connection for its whole lifetime: greeting,
// USER handshake, command loop, and cleanup. The reader goroutine (this
// one) never writes to the socket directly; every outgoing line goes
// through the session outbox drained by writeLoop, so replies and events
// cannot interleave mid-line.
func (s *Server) handleConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	remoteAddr := conn.RemoteAddr().String()
	sess := board.NewSession(uuid.NewString())
	s.metrics.TotalConnections.Add(1)
	s.metrics.ActiveConnections.Add(1)
	slog.Debug("new connection", "remote", remoteAddr, "conn", sess.ID)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(conn, sess)
	}()

	defer func() {
		s.cleanup(sess)
		s.metrics.ActiveConnections.Add(-1)
		s.metrics.TotalDisconnects.Add(1)
		// Let the writer flush the tail of the outbox (BYE, departure
		// events queued by cleanup for other sessions do not pass here).
		select {
		case <-writerDone:
		case <-time.After(drainTimeout):
		}
		slog.Debug("connection closed", "remote", remoteAddr, "conn", sess.ID)
	}()

	sess.Send(protocol.Welcome())

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 512), protocol.MaxLineBytes)

	authed := false
	for scanner.Scan() {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		req := protocol.Parse(line)
		s.metrics.CommandsProcessed.Add(1)

		// QUIT is valid in any state; before USER there is nothing to
		// clean up beyond the transport.
		if req.Cmd == protocol.CmdQuit {
			sess.Send(protocol.Ok("BYE", ""))
			return
		}
		if !authed {
			authed = s.handleLogin(sess, req, remoteAddr)
			continue
		}
		s.dispatch(sess, req)
	}

	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			sess.Send(protocol.Err(protocol.CodeUnknownCommand, "line too long"))
		}
		slog.Debug("read error", "remote", remoteAddr, "err", err)
	}
}

// writeLoop is the sole writer for a connection. It drains the session
// outbox, appending the newline and flushing per line, and exits when the
// outbox is closed or the transport fails.
func (s *Server) writeLoop(conn net.Conn, sess *board.Session) {
	w := bufio.NewWriter(conn)
	for line := range sess.Outbox() {
		if _, err := w.WriteString(line + "\n"); err != nil {
			return
		}
		if err := w.Flush(); err != nil {
			return
		}
	}
}

// cleanup tears down a session after QUIT or transport loss: username
// released, membership dropped everywhere, remaining members notified.
// Safe to call for never-authenticated sessions and safe to call twice.
func (s *Server) cleanup(sess *board.Session) {
	if sess.Username != "" {
		s.sessions.Unregister(sess)
		left, fo := s.groups.RemoveSession(sess)
		s.recordFanout(fo)
		if len(left) > 0 {
			slog.Info("user disconnected", "user", sess.Username, "groups", len(left))
		}
	}
	sess.Close()
}

// handleLogin runs the Unauthenticated state: only USER is accepted, and
// every failure leaves the connection open in the same state. On success
// the session is registered, auto-joined to the lobby, and sent the
// recent-lobby preview plus the current lobby roster.
func (s *Server) handleLogin(sess *board.Session, req protocol.Request, remoteAddr string) bool {
	if req.Cmd != protocol.CmdUser {
		sess.Send(protocol.Err(protocol.CodeFirstCommandMustBeUser, ""))
		return false
	}

	username := strings.TrimSpace(req.Rest)
	if username == "" {
		s.metrics.FailedLogins.Add(1)
		sess.Send(protocol.Err(protocol.CodeUsernameRequired, ""))
		return false
	}
	if err := model.ValidateUsername(username); err != nil {
		s.metrics.FailedLogins.Add(1)
		sess.Send(protocol.Err(protocol.CodeBadArgs, err.Error()))
		return false
	}

	if err := s.sessions.Register(sess, username); err != nil {
		s.metrics.FailedLogins.Add(1)
		sess.Send(protocol.Err(protocol.CodeUsernameInUse, ""))
		return false
	}

	// Auto-join the lobby. The JOINED event to other lobby members is
	// emitted by the registry.
	_, fo, err := s.groups.Join(sess, board.LobbyGroup)
	if err != nil {
		// The lobby always exists; treat anything else as a bug.
		slog.Error("lobby join failed", "user", username, "err", err)
	}
	s.recordFanout(fo)
	s.metrics.SuccessfulLogins.Add(1)
	slog.Info("user logged in", "user", username, "remote", remoteAddr, "conn", sess.ID)

	sess.Send(protocol.Ok("USER_ACCEPTED", username))

	// Catch the newcomer up: a short preview of recent lobby traffic and
	// who is around right now.
	preview, _ := s.groups.History(board.LobbyGroup, s.cfg.LobbyPreview)
	for _, m := range preview {
		sess.Send(protocol.Ok("MESSAGE_SUMMARY", protocol.FormatSummary(m)))
	}
	lobbyUsers, _ := s.groups.Members(board.LobbyGroup)
	sess.Send(protocol.Ok("LOBBY_USERS", strings.Join(lobbyUsers, ",")))

	return true
}

// dispatch routes one authenticated command to its handler.
func (s *Server) dispatch(sess *board.Session, req protocol.Request) {
	switch req.Cmd {
	case protocol.CmdPing:
		sess.Send(protocol.Ok("PONG", ""))

	case protocol.CmdGroups:
		sess.Send(protocol.Ok("GROUP_LIST", strings.Join(s.groups.Names(), ",")))

	case protocol.CmdJoin:
		s.handleJoin(sess, req.Rest)

	case protocol.CmdLeave:
		s.handleLeave(sess, req.Rest)

	case protocol.CmdWho:
		s.handleWho(sess, req.Rest)

	case protocol.CmdPost:
		s.handlePost(sess, req.Rest)

	case protocol.CmdGet:
		s.handleGet(sess, req.Rest)

	case protocol.CmdHistory:
		s.handleHistory(sess, req.Rest)

	default:
		s.metrics.UnknownCommands.Add(1)
		sess.Send(protocol.Err(protocol.CodeUnknownCommand, req.Cmd))
	}
}

func (s *Server) handleJoin(sess *board.Session, rest string) {
	groupName := firstField(rest)
	if groupName == "" {
		sess.Send(protocol.Err(protocol.CodeBadArgs, "JOIN requires a group name"))
		return
	}
	_, fo, err := s.groups.Join(sess, groupName)
	if err != nil {
		sess.Send(protocol.Err(protocol.CodeUnknownGroup, groupName))
		return
	}
	s.recordFanout(fo)
	s.metrics.GroupJoins.Add(1)
	sess.Send(protocol.Ok("JOINED", groupName))
}

func (s *Server) handleLeave(sess *board.Session, rest string) {
	groupName := firstField(rest)
	if groupName == "" {
		sess.Send(protocol.Err(protocol.CodeBadArgs, "LEAVE requires a group name"))
		return
	}
	fo, err := s.groups.Leave(sess, groupName)
	switch {
	case errors.Is(err, board.ErrUnknownGroup):
		sess.Send(protocol.Err(protocol.CodeUnknownGroup, groupName))
		return
	case errors.Is(err, board.ErrNotInGroup):
		sess.Send(protocol.Err(protocol.CodeNotInGroup, groupName))
		return
	}
	s.recordFanout(fo)
	s.metrics.GroupLeaves.Add(1)
	sess.Send(protocol.Ok("LEFT", groupName))
}

func (s *Server) handleWho(sess *board.Session, rest string) {
	groupName := firstField(rest)
	if groupName == "" {
		sess.Send(protocol.Err(protocol.CodeBadArgs, "WHO requires a group name"))
		return
	}
	members, err := s.groups.Members(groupName)
	if err != nil {
		sess.Send(protocol.Err(protocol.CodeUnknownGroup, groupName))
		return
	}
	sess.Send(protocol.Ok(strings.ToUpper(groupName)+"_USERS", strings.Join(members, ",")))
}

func (s *Server) handlePost(sess *board.Session, rest string) {
	groupName, payload, _ := strings.Cut(rest, " ")
	if groupName == "" || payload == "" {
		sess.Send(protocol.Err(protocol.CodeBadArgs, "POST <group> <subject>|<body>"))
		return
	}
	subject, body, found := strings.Cut(payload, "|")
	if !found {
		sess.Send(protocol.Err(protocol.CodeBadArgs, "POST payload must be 'subject|body'"))
		return
	}
	subject = sanitizeText(strings.TrimSpace(subject))
	body = sanitizeText(strings.TrimSpace(body))

	msg := model.Message{Subject: subject, Body: body}
	if err := msg.Validate(); err != nil {
		sess.Send(protocol.Err(protocol.CodeBadArgs, err.Error()))
		return
	}

	stored, fo, err := s.groups.Post(sess, groupName, subject, body)
	switch {
	case errors.Is(err, board.ErrUnknownGroup):
		sess.Send(protocol.Err(protocol.CodeUnknownGroup, groupName))
		return
	case errors.Is(err, board.ErrNotInGroup):
		sess.Send(protocol.Err(protocol.CodeNotInGroup, groupName))
		return
	}
	s.recordFanout(fo)
	s.metrics.MessagesPosted.Add(1)
	sess.Send(protocol.Ok("POSTED", groupName+" "+strconv.FormatInt(stored.ID, 10)))
}

func (s *Server) handleGet(sess *board.Session, rest string) {
	args := strings.Fields(rest)
	if len(args) != 2 {
		sess.Send(protocol.Err(protocol.CodeBadArgs, "GET <group> <id>"))
		return
	}
	id, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		sess.Send(protocol.Err(protocol.CodeBadArgs, "message id must be a number"))
		return
	}
	msg, err := s.groups.Get(args[0], id)
	switch {
	case errors.Is(err, board.ErrUnknownGroup):
		sess.Send(protocol.Err(protocol.CodeUnknownGroup, args[0]))
		return
	case errors.Is(err, board.ErrBadMessageID):
		sess.Send(protocol.Err(protocol.CodeBadMessageID, args[0]+":"+args[1]))
		return
	}
	sess.Send(protocol.Ok("MESSAGE", protocol.FormatMessage(msg)))
}

func (s *Server) handleHistory(sess *board.Session, rest string) {
	args := strings.Fields(rest)
	if len(args) != 2 {
		sess.Send(protocol.Err(protocol.CodeBadArgs, "HISTORY <group> <n>"))
		return
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		sess.Send(protocol.Err(protocol.CodeBadArgs, "history count must be a number"))
		return
	}
	// n <= 0 is not an error: it simply yields an empty listing.
	msgs, err := s.groups.History(args[0], n)
	if err != nil {
		sess.Send(protocol.Err(protocol.CodeUnknownGroup, args[0]))
		return
	}
	for _, m := range msgs {
		sess.Send(protocol.Ok("MESSAGE_SUMMARY", protocol.FormatSummary(m)))
	}
	sess.Send(protocol.Ok("HISTORY_END", args[0]))
}

func (s *Server) recordFanout(fo board.Fanout) {
	if fo.Delivered > 0 {
		s.metrics.EventsDelivered.Add(int64(fo.Delivered))
	}
	if fo.Dropped > 0 {
		s.metrics.EventsDropped.Add(int64(fo.Dropped))
	}
}

// firstField returns the first whitespace-delimited token of rest.
func firstField(rest string) string {
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// sanitizeText strips control characters from user-supplied text to
// prevent terminal escape injection and protocol line splitting.
func sanitizeText(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return ' ' // collapse newlines to spaces
		}
		if unicode.IsControl(r) {
			return -1 // strip all other control chars (null, bell, ANSI escapes, etc.)
		}
		return r
	}, s)
}
