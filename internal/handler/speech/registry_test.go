package speech

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/NicolasHurtado/Voice-gpt-agent/internal/apperror"
)

func TestRegistryAddAndRemove(t *testing.T) {
	r := NewConnectionRegistry()
	require.NoError(t, r.Add("a", nil))
	assert.ErrorIs(t, r.Add("a", nil), errConnectionExists)
	assert.True(t, r.Contains("a"))

	require.NoError(t, r.Bind("a", "s1"))
	r.Remove("a")
	r.Remove("a")

	assert.False(t, r.Contains("a"))
	_, ok := r.ConnectionForSession("s1")
	assert.False(t, ok)
	assert.Equal(t, ConnectionStats{}, r.Stats())
}

func TestRegistryBind(t *testing.T) {
	r := NewConnectionRegistry()
	require.NoError(t, r.Add("a", nil))
	require.NoError(t, r.Add("b", nil))

	require.NoError(t, r.Bind("a", "s1"))
	require.NoError(t, r.Bind("a", "s1"), "rebinding the same session is a no-op")

	err := r.Bind("b", "s1")
	assert.True(t, apperror.Is(err, apperror.KindSessionInUse))

	require.NoError(t, r.Bind("a", "s2"))
	_, ok := r.ConnectionForSession("s1")
	assert.False(t, ok, "previous session is released")

	require.NoError(t, r.Bind("b", "s1"))
	owner, ok := r.ConnectionForSession("s1")
	require.True(t, ok)
	assert.Equal(t, "b", owner)
	assert.Equal(t, ConnectionStats{ActiveConnections: 2, ActiveSessions: 2}, r.Stats())

	assert.True(t, apperror.Is(r.Bind("ghost", "s3"), apperror.KindInvalidRequest))
}

func TestRegistryCloseAllCallsClosers(t *testing.T) {
	r := NewConnectionRegistry()
	closed := map[string]bool{}
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, r.Add(id, func() { closed[id] = true }))
	}
	r.CloseAll()
	assert.Equal(t, map[string]bool{"a": true, "b": true, "c": true}, closed)
}

// 任意操作序列之后，会话与连接的绑定保持一一对应。
func TestRegistryBindingStaysOneToOne(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := NewConnectionRegistry()
		conns := []string{"c0", "c1", "c2"}
		sessions := []string{"s0", "s1", "s2", "s3"}

		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			conn := rapid.SampledFrom(conns).Draw(t, fmt.Sprintf("conn%d", i))
			switch rapid.IntRange(0, 2).Draw(t, fmt.Sprintf("op%d", i)) {
			case 0:
				_ = r.Add(conn, nil)
			case 1:
				_ = r.Bind(conn, rapid.SampledFrom(sessions).Draw(t, fmt.Sprintf("session%d", i)))
			case 2:
				r.Remove(conn)
			}
		}

		r.mu.RLock()
		defer r.mu.RUnlock()
		if len(r.sessions) != len(r.bound) {
			t.Fatalf("sessions %v and bound %v differ in size", r.sessions, r.bound)
		}
		for sessionID, connID := range r.sessions {
			if r.bound[connID] != sessionID {
				t.Fatalf("session %s maps to %s but %s is bound to %q", sessionID, connID, connID, r.bound[connID])
			}
			if _, ok := r.connections[connID]; !ok {
				t.Fatalf("session %s bound to unregistered connection %s", sessionID, connID)
			}
		}
	})
}
