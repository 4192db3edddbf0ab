// Package protocol defines the bulletin-board line grammar: command
// parsing, reply/event formatting, and the error code vocabulary.
//
// Every exchange is one UTF-8 line. Requests start with a command keyword;
// replies start with "OK <CODE>" or "ERR <CODE>", unsolicited pushes with
// "EVENT". The keyword is matched case-insensitively, everything after it
// is command-specific and case-sensitive.
package protocol

import (
	"strconv"
	"strings"
	"time"

	"github.com/jhaugen/bboard/pkg/model"
)

// Command keywords.
const (
	CmdUser    = "USER"
	CmdPing    = "PING"
	CmdGroups  = "GROUPS"
	CmdJoin    = "JOIN"
	CmdLeave   = "LEAVE"
	CmdWho     = "WHO"
	CmdPost    = "POST"
	CmdGet     = "GET"
	CmdHistory = "HISTORY"
	CmdQuit    = "QUIT"
)

// Error codes, sent verbatim after "ERR ".
const (
	CodeFirstCommandMustBeUser = "FIRST_COMMAND_MUST_BE_USER"
	CodeUsernameRequired       = "USERNAME_REQUIRED"
	CodeUsernameInUse          = "USERNAME_IN_USE"
	CodeUnknownGroup           = "UNKNOWN_GROUP"
	CodeNotInGroup             = "NOT_IN_GROUP"
	CodeBadArgs                = "BAD_ARGS"
	CodeBadMessageID           = "BAD_MESSAGE_ID"
	CodeUnknownCommand         = "UNKNOWN_COMMAND"
)

// MaxLineBytes caps a single request line. Anything longer is treated as a
// protocol violation and the connection is dropped after an error reply.
const MaxLineBytes = 4096

// TimeLayout is the wire format for message timestamps (ISO 8601 / RFC 3339).
const TimeLayout = time.RFC3339

// Request is one parsed command line: the uppercased keyword and the raw
// remainder (leading/trailing whitespace stripped, interior preserved so
// POST bodies keep their spacing).
type Request struct {
	Cmd  string
	Rest string
}

// Parse splits a trimmed input line into keyword and remainder.
// Parse never fails; unknown keywords are the dispatcher's problem.
func Parse(line string) Request {
	cmd, rest, _ := strings.Cut(line, " ")
	return Request{
		Cmd:  strings.ToUpper(cmd),
		Rest: strings.TrimSpace(rest),
	}
}

// Ok formats a success reply: "OK CODE" or "OK CODE detail".
func Ok(code, detail string) string {
	if detail == "" {
		return "OK " + code
	}
	return "OK " + code + " " + detail
}

// Err formats a failure reply: "ERR CODE" or "ERR CODE detail".
func Err(code, detail string) string {
	if detail == "" {
		return "ERR " + code
	}
	return "ERR " + code + " " + detail
}

// Event formats an asynchronous push line: "EVENT payload".
func Event(payload string) string {
	return "EVENT " + payload
}

// Welcome is the greeting pushed to every new connection before any command.
func Welcome() string {
	return Ok("WELCOME", "Use: USER <username>")
}

// FormatTime renders a message timestamp for the wire.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// FormatMessage renders a full message payload:
//
//	<group> <id>|<author>|<time>|<subject>|<body>
func FormatMessage(m model.Message) string {
	var b strings.Builder
	b.WriteString(m.Group)
	b.WriteByte(' ')
	writeMessageFields(&b, m)
	b.WriteByte('|')
	b.WriteString(m.Body)
	return b.String()
}

// FormatSummary renders a message without its body (HISTORY entries and
// the lobby preview at login):
//
//	<group> <id>|<author>|<time>|<subject>
func FormatSummary(m model.Message) string {
	var b strings.Builder
	b.WriteString(m.Group)
	b.WriteByte(' ')
	writeMessageFields(&b, m)
	return b.String()
}

func writeMessageFields(b *strings.Builder, m model.Message) {
	b.WriteString(strconv.FormatInt(m.ID, 10))
	b.WriteByte('|')
	b.WriteString(m.Author)
	b.WriteByte('|')
	b.WriteString(FormatTime(m.CreatedAt))
	b.WriteByte('|')
	b.WriteString(m.Subject)
}
