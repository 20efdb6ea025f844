package httpraft

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/concord-raft/raft/raft"
	"github.com/concord-raft/raft/statemachine/kv"
)

func decodeKV(identifier string, payload []byte) (raft.Command, error) {
	return kv.DecodeSetCommand(identifier, payload)
}

func TestEncodeDecodeMessage_AppendRequestRoundTrip(t *testing.T) {
	msg := raft.Message{
		SenderID:     1,
		Term:         4,
		Kind:         raft.KindAppendRequest,
		PrevLogIndex: 2,
		PrevLogTerm:  3,
		Entries:      []raft.Command{&kv.SetCommand{Key: "k", Value: "v"}},
		LeaderCommit: 2,
	}

	wire, err := encodeMessage(msg)
	require.NoError(t, err)

	decoded, err := decodeMessage(wire, decodeKV)
	require.NoError(t, err)

	require.Equal(t, msg.SenderID, decoded.SenderID)
	require.Equal(t, msg.Term, decoded.Term)
	require.Equal(t, msg.Kind, decoded.Kind)
	require.Len(t, decoded.Entries, 1)
	require.Equal(t, &kv.SetCommand{Key: "k", Value: "v"}, decoded.Entries[0])
}

func TestEncodeDecodeMessage_VoteRequestRoundTrip(t *testing.T) {
	msg := raft.Message{
		SenderID:     2,
		Term:         7,
		Kind:         raft.KindVoteRequest,
		LastLogIndex: 5,
		LastLogTerm:  6,
	}

	wire, err := encodeMessage(msg)
	require.NoError(t, err)

	decoded, err := decodeMessage(wire, decodeKV)
	require.NoError(t, err)
	require.Equal(t, msg, decoded)
}

func TestEncodeMessage_RejectsNonBinaryCommand(t *testing.T) {
	_, err := encodeMessage(raft.Message{
		Kind:    raft.KindCommandRequest,
		Command: notBinaryCommand{},
	})
	require.Error(t, err)
}

type notBinaryCommand struct{}

func (notBinaryCommand) Identifier() string { return "not-binary" }
