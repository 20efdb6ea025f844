package raft

// Peer is the abstract transport endpoint the role engine speaks to. The
// core never knows whether a Peer is a local in-process server, a proxy
// handing off to worker pools, or an HTTP client hitting a remote node.
type Peer interface {
	ID() uint64
	Start()
	Shutdown()

	// Invoke delivers a decoded Message. Implementations must not block
	// the caller for the lifetime of a network round-trip; wrap with a
	// proxy if the underlying transport is synchronous.
	Invoke(msg Message)

	// Send hands a client command to this peer's Server.Send, optionally
	// notifying listener of the outcome.
	Send(cmd Command, listener CommandResultListener)
}

// MembershipHandle exposes the current cluster membership to the role
// engine and the consensus tracker.
type MembershipHandle interface {
	// Count returns the member count used for majority calculations.
	Count() int

	// Find returns the Peer known by id, or nil if none is known.
	Find(id uint64) Peer

	// InvokeAll broadcasts msg to every member except msg.SenderID.
	InvokeAll(msg Message)

	// Servers returns the known membership.
	Servers() []Peer
}
