package membership

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/concord-raft/raft/raft"
)

type stubPeer struct {
	id      uint64
	started bool
}

func (p *stubPeer) ID() uint64 { return p.id }
func (p *stubPeer) Start()     { p.started = true }
func (p *stubPeer) Shutdown()  {}
func (p *stubPeer) Invoke(raft.Message) {}
func (p *stubPeer) Send(_ raft.Command, listener raft.CommandResultListener) {
	if listener != nil {
		listener.CommandApplied()
	}
}

func TestChangeCommand_MarshalRoundTrip(t *testing.T) {
	cmd := AddCommand(42)
	payload, err := cmd.MarshalBinary()
	require.NoError(t, err)

	decoded, err := DecodeChangeCommand(Identifier, payload)
	require.NoError(t, err)
	require.Equal(t, cmd, decoded)
}

func TestHandle_AddPromotesPendingTransport(t *testing.T) {
	h := New()
	peer := &stubPeer{id: 5}
	h.RegisterTransport(peer)

	require.Equal(t, 0, h.Count())
	require.Same(t, peer, h.Find(5))

	h.Apply(AddCommand(5))

	require.Equal(t, 1, h.Count())
	require.True(t, peer.started)
	require.Same(t, peer, h.Find(5))
}

func TestHandle_AddWithoutTransportInstallsSentinel(t *testing.T) {
	h := New()
	h.Apply(AddCommand(9))

	require.Equal(t, 1, h.Count())
	peer := h.Find(9)
	require.NotNil(t, peer)

	listener := &recordingListener{}
	peer.Send(nil, listener)
	require.True(t, listener.failed)
}

func TestHandle_RemoveDropsFromCommitted(t *testing.T) {
	h := New()
	h.Apply(AddCommand(1))
	require.Equal(t, 1, h.Count())

	h.Apply(RemoveCommand(1))
	require.Equal(t, 0, h.Count())
	require.Nil(t, h.Find(1))
}

func TestHandle_DeregisterTransportDemotesCommittedPeer(t *testing.T) {
	h := New()
	peer := &stubPeer{id: 7}
	h.RegisterTransport(peer)
	h.Apply(AddCommand(7))
	require.Same(t, peer, h.Find(7))

	h.DeregisterTransport(7)

	require.Equal(t, 1, h.Count())
	replaced := h.Find(7)
	require.NotNil(t, replaced)
	require.NotSame(t, peer, replaced)

	listener := &recordingListener{}
	replaced.Send(nil, listener)
	require.True(t, listener.failed)
	require.ErrorIs(t, listener.err, ErrPeerUnavailable)
}

func TestHandle_DeregisterTransportDropsPendingOnly(t *testing.T) {
	h := New()
	peer := &stubPeer{id: 8}
	h.RegisterTransport(peer)

	h.DeregisterTransport(8)

	require.Nil(t, h.Find(8))
}

func TestHandle_InvokeAllSkipsSender(t *testing.T) {
	h := New()
	p2 := &stubPeer{id: 2}
	p3 := &stubPeer{id: 3}
	h.RegisterTransport(p2)
	h.RegisterTransport(p3)
	h.Apply(AddCommand(2))
	h.Apply(AddCommand(3))

	h.InvokeAll(raft.Message{SenderID: 2})
	// neither stub records invocations, but this exercises the skip path
	// without panicking; Servers() should still report both members.
	require.Len(t, h.Servers(), 2)
}

type recordingListener struct {
	failed  bool
	applied bool
	err     error
}

func (l *recordingListener) CommandApplied()         { l.applied = true }
func (l *recordingListener) CommandFailed(err error) { l.failed = true; l.err = err }
