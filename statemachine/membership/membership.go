// Package membership implements a log-replicated MembershipHandle: cluster
// add/remove operations are themselves commands that flow through the
// same log as user commands, so every peer agrees on who's a member.
package membership

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/concord-raft/raft/raft"
)

// Identifier is the command tag membership changes are logged under.
const Identifier = "membership"

// ErrPeerUnavailable is surfaced when Send reaches a committed member
// whose transport has never registered or has since been deregistered.
var ErrPeerUnavailable = errors.New("membership: peer transport unavailable")

// Action distinguishes an add from a remove.
type Action uint8

const (
	ActionAdd Action = iota
	ActionRemove
)

// ChangeCommand adds or removes ServerID from the committed membership
// view once applied.
type ChangeCommand struct {
	Action   Action
	ServerID uint64
}

func (ChangeCommand) Identifier() string { return Identifier }

// MarshalBinary encodes the command as a one-byte action followed by the
// big-endian server id.
func (c ChangeCommand) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 9)
	buf[0] = byte(c.Action)
	binary.BigEndian.PutUint64(buf[1:], c.ServerID)
	return buf, nil
}

// DecodeChangeCommand rebuilds a ChangeCommand from bytes produced by
// MarshalBinary.
func DecodeChangeCommand(identifier string, payload []byte) (*ChangeCommand, error) {
	if identifier != Identifier {
		return nil, fmt.Errorf("membership: unexpected identifier %q", identifier)
	}
	if len(payload) != 9 {
		return nil, fmt.Errorf("membership: command wrong size: %d bytes", len(payload))
	}
	return &ChangeCommand{
		Action:   Action(payload[0]),
		ServerID: binary.BigEndian.Uint64(payload[1:]),
	}, nil
}

// AddCommand and RemoveCommand are the two factories callers submit
// through the role engine to change membership.
func AddCommand(id uint64) *ChangeCommand    { return &ChangeCommand{Action: ActionAdd, ServerID: id} }
func RemoveCommand(id uint64) *ChangeCommand { return &ChangeCommand{Action: ActionRemove, ServerID: id} }

// unavailablePeer is installed for a committed member whose transport
// endpoint hasn't registered yet, and left behind after a member is
// removed. Any attempt to use it fails immediately rather than blocking.
type unavailablePeer struct {
	id uint64
}

func (u *unavailablePeer) ID() uint64  { return u.id }
func (u *unavailablePeer) Start()      {}
func (u *unavailablePeer) Shutdown()   {}
func (u *unavailablePeer) Invoke(raft.Message) {}
func (u *unavailablePeer) Send(_ raft.Command, listener raft.CommandResultListener) {
	if listener != nil {
		listener.CommandFailed(ErrPeerUnavailable)
	}
}

// Handle is a raft.MembershipHandle whose committed view is driven by
// ChangeCommand entries applied through the log, and whose as-yet
// uncommitted transport endpoints live in a pending map until a matching
// add command commits.
type Handle struct {
	mu        sync.Mutex
	committed map[uint64]raft.Peer
	pending   map[uint64]raft.Peer
}

// New returns an empty Handle. Call RegisterTransport as each peer's
// transport endpoint comes up, and submit ChangeCommand entries through
// the role engine to commit membership changes.
func New() *Handle {
	return &Handle{
		committed: make(map[uint64]raft.Peer),
		pending:   make(map[uint64]raft.Peer),
	}
}

// RegisterTransport makes peer available to be promoted into committed
// membership once an AddCommand for its id commits. It does not itself
// change membership.
func (h *Handle) RegisterTransport(peer raft.Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pending[peer.ID()] = peer
}

// DeregisterTransport drops a peer's pending transport registration, or,
// if the peer is already committed, replaces its entry with the
// unavailablePeer sentinel so Send fails fast instead of reaching a dead
// endpoint.
func (h *Handle) DeregisterTransport(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.pending[id]; ok {
		delete(h.pending, id)
		return
	}
	if _, ok := h.committed[id]; ok {
		h.committed[id] = &unavailablePeer{id: id}
	}
}

func (h *Handle) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.committed)
}

// Find checks committed membership first, then pending registrations.
func (h *Handle) Find(id uint64) raft.Peer {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.committed[id]; ok {
		return p
	}
	if p, ok := h.pending[id]; ok {
		return p
	}
	return nil
}

func (h *Handle) InvokeAll(msg raft.Message) {
	h.mu.Lock()
	peers := make([]raft.Peer, 0, len(h.committed))
	for id, p := range h.committed {
		if id == msg.SenderID {
			continue
		}
		peers = append(peers, p)
	}
	h.mu.Unlock()

	for _, p := range peers {
		p.Invoke(msg)
	}
}

func (h *Handle) Servers() []raft.Peer {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]raft.Peer, 0, len(h.committed))
	for _, p := range h.committed {
		out = append(out, p)
	}
	return out
}

// Apply applies a committed ChangeCommand. On an add, the peer is
// promoted from pending (or left as an unavailablePeer sentinel if its
// transport never registered) and Start is called on it exactly once. On
// a remove, the peer is dropped from committed membership entirely.
func (h *Handle) Apply(cmd raft.Command) {
	change, ok := cmd.(*ChangeCommand)
	if !ok {
		panic(fmt.Sprintf("membership: unexpected command type %T", cmd))
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	switch change.Action {
	case ActionAdd:
		if _, already := h.committed[change.ServerID]; already {
			return
		}
		peer, ok := h.pending[change.ServerID]
		if ok {
			delete(h.pending, change.ServerID)
		} else {
			peer = &unavailablePeer{id: change.ServerID}
		}
		h.committed[change.ServerID] = peer
		peer.Start()
	case ActionRemove:
		delete(h.committed, change.ServerID)
	}
}
