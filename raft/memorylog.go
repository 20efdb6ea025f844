package raft

import "fmt"

// MemoryLog is a non-durable Log, acceptable for tests where fsync
// latency and on-disk format aren't under test.
type MemoryLog struct {
	entries []Entry
	commit  uint64
	applied uint64
}

// NewMemoryLog returns an empty in-memory log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (m *MemoryLog) LastIndex() uint64 {
	if len(m.entries) == 0 {
		return 0
	}
	return m.entries[len(m.entries)-1].Index
}

func (m *MemoryLog) LastTerm() uint64 {
	if len(m.entries) == 0 {
		return 0
	}
	return m.entries[len(m.entries)-1].Term
}

func (m *MemoryLog) CommitIndex() uint64 { return m.commit }

func (m *MemoryLog) indexOf(index uint64) int {
	for i, e := range m.entries {
		if e.Index == index {
			return i
		}
	}
	return -1
}

func (m *MemoryLog) HasEntry(index, term uint64) bool {
	if index == 0 {
		return term == 0
	}
	i := m.indexOf(index)
	return i >= 0 && m.entries[i].Term == term
}

func (m *MemoryLog) TermAt(index uint64) (uint64, error) {
	if index == 0 {
		return 0, nil
	}
	i := m.indexOf(index)
	if i < 0 {
		return 0, ErrOutOfRange
	}
	return m.entries[i].Term, nil
}

func (m *MemoryLog) Append(command Command, term uint64) (uint64, error) {
	if term < m.LastTerm() {
		return 0, fmt.Errorf("raft: append rejected, term %d < last term %d", term, m.LastTerm())
	}
	index := m.LastIndex() + 1
	m.entries = append(m.entries, Entry{Index: index, Term: term, Command: command})
	return index, nil
}

func (m *MemoryLog) ValidateEntry(index, term uint64) error {
	i := m.indexOf(index)
	if i < 0 {
		return nil
	}
	if m.entries[i].Term == term {
		return nil
	}
	if index <= m.commit {
		return ErrLogDivergedPastCommit
	}
	m.entries = m.entries[:i]
	return nil
}

func (m *MemoryLog) Applied(upTo uint64, sm StateMachine) error {
	last := m.LastIndex()
	target := upTo
	if target > last {
		target = last
	}
	if target <= m.applied {
		return nil
	}
	for idx := m.applied + 1; idx <= target; idx++ {
		i := m.indexOf(idx)
		if i < 0 {
			return fmt.Errorf("raft: applied: missing entry at index %d", idx)
		}
		sm.Apply(m.entries[i].Command)
	}
	m.applied = target
	m.commit = target
	return nil
}

func (m *MemoryLog) EntriesFrom(start uint64) []Entry {
	var out []Entry
	for _, e := range m.entries {
		if e.Index >= start {
			out = append(out, e)
		}
	}
	return out
}

func (m *MemoryLog) Close() error { return nil }
