package raft

import "errors"

var (
	// ErrInitRequiresServerID is returned when opening durable state that
	// does not yet exist on disk without supplying a server id to create it.
	ErrInitRequiresServerID = errors.New("raft: no durable state on disk and no server id supplied")

	// ErrStateMismatch is returned when the server id supplied at startup
	// disagrees with the id recorded in existing durable state.
	ErrStateMismatch = errors.New("raft: supplied server id does not match durable state")

	// ErrOutOfRange is returned by Log.TermAt for an index with no entry.
	ErrOutOfRange = errors.New("raft: log index out of range")

	// ErrLogDivergedPastCommit indicates a follower was asked to validate
	// (and truncate) an entry at or below its own commit index. This is a
	// cluster safety violation and must never happen in a correct run.
	ErrLogDivergedPastCommit = errors.New("raft: refused to truncate log at or below commit index")

	// ErrDurabilityFailure wraps any fsync/write failure against durable
	// state or the durable log. It halts the role engine.
	ErrDurabilityFailure = errors.New("raft: durability failure")

	// ErrUnknownLeader is surfaced to a CommandResultListener (never
	// returned directly) when a command is submitted with no known leader.
	ErrUnknownLeader = errors.New("raft: no known leader")

	// ErrNotLeader is surfaced to a CommandResultListener when the peer a
	// command was forwarded to answers that it is not the leader.
	ErrNotLeader = errors.New("raft: not leader")

	// ErrServerInactive is surfaced to a CommandResultListener when a
	// command is submitted to a server that has halted or not yet started.
	ErrServerInactive = errors.New("raft: server is not active")
)
