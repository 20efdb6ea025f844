package raft

import (
	"encoding/binary"
	"fmt"
	"os"
)

// NoVote marks the absence of a recorded vote for the current term.
const NoVote uint64 = ^uint64(0)

const (
	stateVersion    = 1
	stateRecordSize = 5 * 8 // five big-endian u64s
)

// DurableState is the fixed-size, overwritten-in-place persistent record of
// a server's term, vote, commit index and identity. It mirrors the
// server.state file: version, server_id, current_term, commit_index,
// last_voted_id (NoVote standing in for the source's -1 sentinel).
type DurableState struct {
	f *os.File

	serverID    uint64
	currentTerm uint64
	commitIndex uint64
	votedFor    uint64
}

// OpenDurableState opens (or creates) the state file at path. If the file
// does not yet exist, serverID must be supplied to seed it; if it exists,
// a supplied serverID must agree with the one already on disk.
func OpenDurableState(path string, serverID *uint64) (*DurableState, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("raft: open durable state: %w", err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("raft: stat durable state: %w", err)
	}

	ds := &DurableState{f: f}

	if fi.Size() == 0 {
		if serverID == nil {
			f.Close()
			return nil, ErrInitRequiresServerID
		}
		ds.serverID = *serverID
		ds.votedFor = NoVote
		if err := ds.writeLocked(); err != nil {
			f.Close()
			return nil, err
		}
		return ds, nil
	}

	if err := ds.load(); err != nil {
		f.Close()
		return nil, err
	}
	if serverID != nil && *serverID != ds.serverID {
		f.Close()
		return nil, ErrStateMismatch
	}
	return ds, nil
}

func (ds *DurableState) load() error {
	buf := make([]byte, stateRecordSize)
	if _, err := ds.f.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("raft: read durable state: %w", err)
	}
	version := binary.BigEndian.Uint64(buf[0:8])
	if version != stateVersion {
		return fmt.Errorf("raft: unsupported durable state version %d", version)
	}
	ds.serverID = binary.BigEndian.Uint64(buf[8:16])
	ds.currentTerm = binary.BigEndian.Uint64(buf[16:24])
	ds.commitIndex = binary.BigEndian.Uint64(buf[24:32])
	ds.votedFor = binary.BigEndian.Uint64(buf[32:40])
	return nil
}

// writeLocked serializes the current in-memory fields and fsyncs. Callers
// hold the server lock; DurableState performs no locking of its own.
func (ds *DurableState) writeLocked() error {
	buf := make([]byte, stateRecordSize)
	binary.BigEndian.PutUint64(buf[0:8], stateVersion)
	binary.BigEndian.PutUint64(buf[8:16], ds.serverID)
	binary.BigEndian.PutUint64(buf[16:24], ds.currentTerm)
	binary.BigEndian.PutUint64(buf[24:32], ds.commitIndex)
	binary.BigEndian.PutUint64(buf[32:40], ds.votedFor)

	if _, err := ds.f.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("%w: write server.state: %v", ErrDurabilityFailure, err)
	}
	if err := ds.f.Sync(); err != nil {
		return fmt.Errorf("%w: fsync server.state: %v", ErrDurabilityFailure, err)
	}
	return nil
}

func (ds *DurableState) ServerID() uint64    { return ds.serverID }
func (ds *DurableState) CurrentTerm() uint64 { return ds.currentTerm }
func (ds *DurableState) CommitIndex() uint64 { return ds.commitIndex }
func (ds *DurableState) VotedFor() uint64    { return ds.votedFor }

// UpdateCurrentTerm is a no-op if t equals the stored term; otherwise it
// writes the new term and clears the recorded vote, fsyncing before return.
func (ds *DurableState) UpdateCurrentTerm(t uint64) error {
	if t == ds.currentTerm {
		return nil
	}
	ds.currentTerm = t
	ds.votedFor = NoVote
	return ds.writeLocked()
}

// UpdateVotedFor persists a vote for id in the current term. Idempotent.
func (ds *DurableState) UpdateVotedFor(id uint64) error {
	if ds.votedFor == id {
		return nil
	}
	ds.votedFor = id
	return ds.writeLocked()
}

// UpdateCommitIndex persists the commit index on a best-effort basis: a
// failed write is returned to the caller to log, but is not treated as a
// fatal durability failure, since the commit index can be recovered by log
// replay.
func (ds *DurableState) UpdateCommitIndex(i uint64) error {
	if i == ds.commitIndex {
		return nil
	}
	prev := ds.commitIndex
	ds.commitIndex = i
	if err := ds.writeLocked(); err != nil {
		ds.commitIndex = prev
		return err
	}
	return nil
}

func (ds *DurableState) Close() error {
	return ds.f.Close()
}
