package raft

// StaticMembership is a fixed peer set known at construction time. It
// never changes shape; adding dynamic add/remove semantics is the job of
// statemachine/membership, which implements MembershipHandle over a
// log-replicated view instead.
type StaticMembership struct {
	peers map[uint64]Peer
}

// NewStaticMembership builds a membership view over peers, keyed by
// Peer.ID().
func NewStaticMembership(peers []Peer) *StaticMembership {
	m := &StaticMembership{peers: make(map[uint64]Peer, len(peers))}
	for _, p := range peers {
		m.peers[p.ID()] = p
	}
	return m
}

func (m *StaticMembership) Count() int { return len(m.peers) }

func (m *StaticMembership) Find(id uint64) Peer {
	return m.peers[id]
}

func (m *StaticMembership) InvokeAll(msg Message) {
	for id, p := range m.peers {
		if id == msg.SenderID {
			continue
		}
		p.Invoke(msg)
	}
}

func (m *StaticMembership) Servers() []Peer {
	out := make([]Peer, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, p)
	}
	return out
}
