package proxy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/concord-raft/raft/raft"
)

type recordingPeer struct {
	id      uint64
	invoked chan raft.Message
	sent    chan raft.Command
}

func newRecordingPeer(id uint64) *recordingPeer {
	return &recordingPeer{id: id, invoked: make(chan raft.Message, 8), sent: make(chan raft.Command, 8)}
}

func (p *recordingPeer) ID() uint64 { return p.id }
func (p *recordingPeer) Start()     {}
func (p *recordingPeer) Shutdown()  {}
func (p *recordingPeer) Invoke(msg raft.Message) {
	p.invoked <- msg
}
func (p *recordingPeer) Send(cmd raft.Command, listener raft.CommandResultListener) {
	p.sent <- cmd
	if listener != nil {
		listener.CommandApplied()
	}
}

type stubCommand struct{}

func (stubCommand) Identifier() string { return "stub" }

func TestProxy_InvokeForwardsToInner(t *testing.T) {
	inner := newRecordingPeer(1)
	p := New(inner, 2)
	defer p.Shutdown()

	p.Invoke(raft.Message{SenderID: 7})

	select {
	case msg := <-inner.invoked:
		require.Equal(t, uint64(7), msg.SenderID)
	case <-time.After(time.Second):
		t.Fatal("message never reached inner peer")
	}
}

func TestProxy_DisconnectDropsTraffic(t *testing.T) {
	inner := newRecordingPeer(1)
	p := New(inner, 2)
	defer p.Shutdown()

	p.Disconnect()
	p.Invoke(raft.Message{SenderID: 1})

	select {
	case <-inner.invoked:
		t.Fatal("message delivered while disconnected")
	case <-time.After(50 * time.Millisecond):
	}

	p.Reconnect()
	p.Invoke(raft.Message{SenderID: 2})

	select {
	case msg := <-inner.invoked:
		require.Equal(t, uint64(2), msg.SenderID)
	case <-time.After(time.Second):
		t.Fatal("message never delivered after reconnect")
	}
}

func TestProxy_SendWhileDisconnectedFailsImmediately(t *testing.T) {
	inner := newRecordingPeer(1)
	p := New(inner, 2)
	defer p.Shutdown()

	p.Disconnect()
	listener := &recordingListener{}
	p.Send(stubCommand{}, listener)

	require.True(t, listener.failed)
}

type recordingListener struct {
	failed  bool
	applied bool
	err     error
}

func (l *recordingListener) CommandApplied()         { l.applied = true }
func (l *recordingListener) CommandFailed(err error) { l.failed = true; l.err = err }
