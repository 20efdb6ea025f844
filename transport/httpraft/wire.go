// Package httpraft is the JSON-over-HTTP transport seam: it turns
// raft.Peer and raft.Server into network endpoints, the same way
// the source's client.go/http_handler.go pair did for a narrower message
// set.
package httpraft

import (
	"fmt"

	"github.com/concord-raft/raft/raft"
)

// WireCommand carries a command across the wire as its identifier plus a
// marshaled payload, since raft.Command is an interface with no
// JSON-friendly concrete shape.
type WireCommand struct {
	Identifier string `json:"identifier"`
	Payload    []byte `json:"payload"`
}

func encodeCommand(cmd raft.Command) (WireCommand, error) {
	bc, ok := cmd.(raft.BinaryCommand)
	if !ok {
		return WireCommand{}, fmt.Errorf("httpraft: command %T does not implement BinaryCommand", cmd)
	}
	payload, err := bc.MarshalBinary()
	if err != nil {
		return WireCommand{}, err
	}
	return WireCommand{Identifier: bc.Identifier(), Payload: payload}, nil
}

// WireMessage is the JSON form of raft.Message. Entries and Command are
// transported as WireCommand and rebuilt with the decoder the Handler
// was constructed with.
type WireMessage struct {
	SenderID uint64    `json:"senderId"`
	Term     uint64    `json:"term"`
	Kind     raft.Kind `json:"kind"`

	LastLogIndex uint64 `json:"lastLogIndex,omitempty"`
	LastLogTerm  uint64 `json:"lastLogTerm,omitempty"`

	Granted bool `json:"granted,omitempty"`

	PrevLogIndex uint64        `json:"prevLogIndex,omitempty"`
	PrevLogTerm  uint64        `json:"prevLogTerm,omitempty"`
	Entries      []WireCommand `json:"entries,omitempty"`
	LeaderCommit uint64        `json:"leaderCommit,omitempty"`

	OK    bool   `json:"ok,omitempty"`
	Index uint64 `json:"index,omitempty"`

	Command   *WireCommand `json:"command,omitempty"`
	RequestID *uint64      `json:"requestId,omitempty"`

	EntryIndex int64 `json:"entryIndex,omitempty"`
}

func encodeMessage(msg raft.Message) (WireMessage, error) {
	w := WireMessage{
		SenderID:     msg.SenderID,
		Term:         msg.Term,
		Kind:         msg.Kind,
		LastLogIndex: msg.LastLogIndex,
		LastLogTerm:  msg.LastLogTerm,
		Granted:      msg.Granted,
		PrevLogIndex: msg.PrevLogIndex,
		PrevLogTerm:  msg.PrevLogTerm,
		LeaderCommit: msg.LeaderCommit,
		OK:           msg.OK,
		Index:        msg.Index,
		RequestID:    msg.RequestID,
		EntryIndex:   msg.EntryIndex,
	}
	for _, cmd := range msg.Entries {
		wc, err := encodeCommand(cmd)
		if err != nil {
			return WireMessage{}, err
		}
		w.Entries = append(w.Entries, wc)
	}
	if msg.Command != nil {
		wc, err := encodeCommand(msg.Command)
		if err != nil {
			return WireMessage{}, err
		}
		w.Command = &wc
	}
	return w, nil
}

func decodeMessage(w WireMessage, decode raft.CommandDecoder) (raft.Message, error) {
	msg := raft.Message{
		SenderID:     w.SenderID,
		Term:         w.Term,
		Kind:         w.Kind,
		LastLogIndex: w.LastLogIndex,
		LastLogTerm:  w.LastLogTerm,
		Granted:      w.Granted,
		PrevLogIndex: w.PrevLogIndex,
		PrevLogTerm:  w.PrevLogTerm,
		LeaderCommit: w.LeaderCommit,
		OK:           w.OK,
		Index:        w.Index,
		RequestID:    w.RequestID,
		EntryIndex:   w.EntryIndex,
	}
	for _, wc := range w.Entries {
		cmd, err := decode(wc.Identifier, wc.Payload)
		if err != nil {
			return raft.Message{}, err
		}
		msg.Entries = append(msg.Entries, cmd)
	}
	if w.Command != nil {
		cmd, err := decode(w.Command.Identifier, w.Command.Payload)
		if err != nil {
			return raft.Message{}, err
		}
		msg.Command = cmd
	}
	return msg, nil
}
