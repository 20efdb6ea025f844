package raft

// Entry is one durable log record: a command accepted at index under term.
type Entry struct {
	Index   uint64
	Term    uint64
	Command Command
}

// Log is the replicated command log. Implementations must make append and
// validate_entry durable before returning, per the role engine's contract.
type Log interface {
	LastIndex() uint64
	LastTerm() uint64
	CommitIndex() uint64

	// HasEntry reports whether an entry exists at index with exactly
	// term.
	HasEntry(index, term uint64) bool

	// TermAt returns the term recorded at index, or ErrOutOfRange.
	TermAt(index uint64) (uint64, error)

	// Append durably appends command at LastIndex()+1 under term.
	// Rejects term < LastTerm().
	Append(command Command, term uint64) (uint64, error)

	// ValidateEntry truncates any entries from index onward if the entry
	// there (if any) does not carry term. No-op if index is past the
	// end or already matches. Refuses to truncate at or below
	// CommitIndex, returning ErrLogDivergedPastCommit.
	ValidateEntry(index, term uint64) error

	// Applied advances the commit pointer to min(upTo, LastIndex()),
	// applying newly committed entries to sm in ascending order exactly
	// once, before returning.
	Applied(upTo uint64, sm StateMachine) error

	// EntriesFrom returns every entry at or after start, for leader
	// catch-up.
	EntriesFrom(start uint64) []Entry

	Close() error
}
