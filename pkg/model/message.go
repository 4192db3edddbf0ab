// Package model defines the core domain types for bboard.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	MaxSubjectLength = 128
	MaxBodyLength    = 2000
)

var ErrSubjectEmpty = errors.New("message subject cannot be empty")
var ErrSubjectTooLong = fmt.Errorf("message subject exceeds %d characters", MaxSubjectLength)
var ErrBodyTooLong = fmt.Errorf("message body exceeds %d characters", MaxBodyLength)
var ErrEmbeddedNewline = errors.New("subject and body must not contain newlines")

// Message is one post on a group's board. Immutable once stored: the
// sequence ID is assigned by the group registry and never reused.
type Message struct {
	ID        int64     `json:"id"` // per-group sequence id, 1,2,3,... dense
	Group     string    `json:"group"`
	Author    string    `json:"author"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"` // UTC
}

// Validate checks subject/body shape before a message is stored.
// The body may be empty; the subject may not.
func (m *Message) Validate() error {
	if strings.TrimSpace(m.Subject) == "" {
		return ErrSubjectEmpty
	}
	if strings.ContainsAny(m.Subject, "\r\n") || strings.ContainsAny(m.Body, "\r\n") {
		return ErrEmbeddedNewline
	}
	if utf8.RuneCountInString(m.Subject) > MaxSubjectLength {
		return ErrSubjectTooLong
	}
	if utf8.RuneCountInString(m.Body) > MaxBodyLength {
		return ErrBodyTooLong
	}
	return nil
}
