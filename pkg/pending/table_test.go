package pending

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikekulinski/zoocore/pkg/wire"
)

func TestPutAndTake(t *testing.T) {
	tbl := New()
	rv := NewRendezvous()
	tbl.Put(5, Entry{Opcode: wire.OpGetData, Path: "/a", Completion: Completion{Blocking: rv}})

	assert.Equal(t, 1, tbl.Len())
	entry, ok := tbl.Take(5)
	require.True(t, ok)
	assert.Equal(t, wire.OpGetData, entry.Opcode)
	assert.Equal(t, 0, tbl.Len())

	_, ok = tbl.Take(5)
	assert.False(t, ok)
}

func TestAuthSlotIsDistinctFromOrdinaryEntries(t *testing.T) {
	tbl := New()
	assert.False(t, tbl.AuthPending())

	rv := NewRendezvous()
	tbl.PutAuth(Entry{Opcode: wire.OpAuth, Completion: Completion{Blocking: rv}})
	assert.True(t, tbl.AuthPending())
	assert.Equal(t, 0, tbl.Len())

	entry, ok := tbl.TakeAuth()
	require.True(t, ok)
	assert.Equal(t, wire.OpAuth, entry.Opcode)
	assert.False(t, tbl.AuthPending())
}

func TestDrainBrokeDeliversToBlockingAndNonBlocking(t *testing.T) {
	tbl := New()

	rv := NewRendezvous()
	tbl.Put(1, Entry{Opcode: wire.OpGetData, Path: "/a", Completion: Completion{Blocking: rv}})

	receiver := make(chan TaggedResult, 1)
	tbl.Put(2, Entry{Opcode: wire.OpGetChildren, Path: "/b", Completion: Completion{NonBlocking: &NonBlockingTarget{Receiver: receiver, Tag: "t"}}})

	authRv := NewRendezvous()
	tbl.PutAuth(Entry{Opcode: wire.OpAuth, Completion: Completion{Blocking: authRv}})

	done := make(chan struct{})
	var blockingResult, authResult Result
	go func() {
		blockingResult = <-rv.Done
		authResult = <-authRv.Done
		close(done)
	}()

	tbl.DrainBroke()

	<-done
	assert.Error(t, blockingResult.Err)
	assert.Error(t, authResult.Err)

	tagged := <-receiver
	assert.Equal(t, "t", tagged.Tag)
	assert.Error(t, tagged.Result.Err)

	assert.Equal(t, 0, tbl.Len())
	assert.False(t, tbl.AuthPending())
}
