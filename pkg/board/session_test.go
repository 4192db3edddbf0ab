package board

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterUniqueness(t *testing.T) {
	reg := NewSessionRegistry()
	a := NewSession("conn-a")
	b := NewSession("conn-b")

	require.NoError(t, reg.Register(a, "alice"))
	assert.ErrorIs(t, reg.Register(b, "alice"), ErrUsernameInUse)
	assert.Equal(t, 1, reg.Count())

	// Names are case-sensitive: "Alice" is a different user.
	require.NoError(t, reg.Register(b, "Alice"))
	assert.Equal(t, 2, reg.Count())
}

func TestUnregisterReleasesName(t *testing.T) {
	reg := NewSessionRegistry()
	a := NewSession("conn-a")
	require.NoError(t, reg.Register(a, "alice"))

	reg.Unregister(a)
	_, ok := reg.Lookup("alice")
	assert.False(t, ok)

	// The name is immediately reusable by a new session.
	b := NewSession("conn-b")
	require.NoError(t, reg.Register(b, "alice"))

	// A stale Unregister from the old session must not evict the new one.
	reg.Unregister(a)
	got, ok := reg.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, b, got)
}

func TestRegisterConcurrentExactlyOneWinner(t *testing.T) {
	reg := NewSessionRegistry()

	const racers = 32
	var wg sync.WaitGroup
	wins := make(chan *Session, racers)
	for i := 0; i < racers; i++ {
		sess := NewSession(fmt.Sprintf("conn-%d", i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if reg.Register(sess, "highlander") == nil {
				wins <- sess
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners []*Session
	for s := range wins {
		winners = append(winners, s)
	}
	require.Len(t, winners, 1)
	got, ok := reg.Lookup("highlander")
	require.True(t, ok)
	assert.Same(t, winners[0], got)
}

func TestSendAfterCloseAndFullOutbox(t *testing.T) {
	sess := NewSession("conn")
	for i := 0; i < OutboxSize; i++ {
		require.True(t, sess.Send("line"))
	}
	// Outbox full: the next send is dropped, not blocked.
	assert.False(t, sess.Send("overflow"))

	sess2 := NewSession("conn2")
	sess2.Close()
	sess2.Close() // idempotent
	assert.False(t, sess2.Send("after close"))
}

func TestOutboxDrainsAfterClose(t *testing.T) {
	sess := NewSession("conn")
	sess.Send("one")
	sess.Send("two")
	sess.Close()

	var got []string
	for line := range sess.Outbox() {
		got = append(got, line)
	}
	assert.Equal(t, []string{"one", "two"}, got)
}
