package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	closed bool
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func TestPut_FirstInsertDoesNotEvict(t *testing.T) {
	r := New()
	c := &fakeConn{}
	evicted := r.Put("device-1", c)
	assert.False(t, evicted)
	assert.Equal(t, 1, r.Len())
}

func TestPut_ReplacingClosesPriorConnection(t *testing.T) {
	r := New()
	first := &fakeConn{}
	second := &fakeConn{}

	r.Put("device-1", first)
	evicted := r.Put("device-1", second)

	assert.True(t, evicted)
	assert.True(t, first.closed)
	assert.False(t, second.closed)
	assert.Equal(t, 1, r.Len())

	got, ok := r.Get("device-1")
	require.True(t, ok)
	assert.Same(t, second, got)
}

func TestRemove_OnlyRemovesIfStillCurrent(t *testing.T) {
	r := New()
	first := &fakeConn{}
	second := &fakeConn{}

	r.Put("device-1", first)
	r.Put("device-1", second)

	// A stale readPump for the evicted first connection must not
	// clobber the newer entry.
	r.Remove("device-1", first)
	_, ok := r.Get("device-1")
	assert.True(t, ok)

	r.Remove("device-1", second)
	_, ok = r.Get("device-1")
	assert.False(t, ok)
}

func TestOnline(t *testing.T) {
	r := New()
	assert.False(t, r.Online("device-1"))
	r.Put("device-1", &fakeConn{})
	assert.True(t, r.Online("device-1"))
}

func TestSnapshot_ReturnsAllLiveConnections(t *testing.T) {
	r := New()
	r.Put("device-1", &fakeConn{})
	r.Put("device-2", &fakeConn{})

	snap := r.Snapshot()
	assert.Len(t, snap, 2)
}
