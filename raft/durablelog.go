package raft

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

const logVersion = 1

type durableEntry struct {
	Entry
	pos int64 // byte offset this entry's record starts at
}

// DurableLog is the file-backed Log implementation. It keeps an in-memory
// index of entries (term, index, byte position) alongside the file, so
// ValidateEntry can seek straight to the truncation point instead of
// re-scanning the file.
type DurableLog struct {
	f       *os.File
	decode  CommandDecoder
	entries []durableEntry
	commit  uint64
	applied uint64
}

// OpenDurableLog opens (or creates) the commands file at path. decode is
// used to rebuild commands read back from disk; it is never consulted for
// entries appended within the lifetime of this process.
func OpenDurableLog(path string, decode CommandDecoder) (*DurableLog, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("raft: open durable log: %w", err)
	}

	dl := &DurableLog{f: f, decode: decode}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("raft: stat durable log: %w", err)
	}
	if fi.Size() == 0 {
		if err := dl.writeVersionHeader(); err != nil {
			f.Close()
			return nil, err
		}
		return dl, nil
	}
	if err := dl.load(); err != nil {
		f.Close()
		return nil, err
	}
	return dl, nil
}

func (dl *DurableLog) writeVersionHeader() error {
	var hdr [8]byte
	binary.BigEndian.PutUint64(hdr[:], logVersion)
	if _, err := dl.f.WriteAt(hdr[:], 0); err != nil {
		return fmt.Errorf("%w: write commands header: %v", ErrDurabilityFailure, err)
	}
	return dl.f.Sync()
}

func (dl *DurableLog) load() error {
	if _, err := dl.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("raft: seek durable log: %w", err)
	}
	var hdr [8]byte
	if _, err := io.ReadFull(dl.f, hdr[:]); err != nil {
		return fmt.Errorf("raft: read commands header: %w", err)
	}
	version := binary.BigEndian.Uint64(hdr[:])
	if version != logVersion {
		return fmt.Errorf("raft: unsupported durable log version %d", version)
	}

	pos := int64(8)
	for {
		var recHdr [18]byte // index u64, term u64, length i16
		if _, err := io.ReadFull(dl.f, recHdr[:]); err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("raft: read log record header: %w", err)
		}
		index := binary.BigEndian.Uint64(recHdr[0:8])
		term := binary.BigEndian.Uint64(recHdr[8:16])
		length := int16(binary.BigEndian.Uint16(recHdr[16:18]))

		payload := make([]byte, length)
		if _, err := io.ReadFull(dl.f, payload); err != nil {
			return fmt.Errorf("raft: read log record payload: %w", err)
		}

		identifier, blob := splitIdentifier(payload)
		cmd, err := dl.decode(identifier, blob)
		if err != nil {
			return fmt.Errorf("raft: decode log record at index %d: %w", index, err)
		}

		dl.entries = append(dl.entries, durableEntry{
			Entry: Entry{Index: index, Term: term, Command: cmd},
			pos:   pos,
		})
		pos += int64(len(recHdr)) + int64(length)
	}
	return nil
}

func (dl *DurableLog) LastIndex() uint64 {
	if len(dl.entries) == 0 {
		return 0
	}
	return dl.entries[len(dl.entries)-1].Index
}

func (dl *DurableLog) LastTerm() uint64 {
	if len(dl.entries) == 0 {
		return 0
	}
	return dl.entries[len(dl.entries)-1].Term
}

func (dl *DurableLog) CommitIndex() uint64 { return dl.commit }

func (dl *DurableLog) indexOf(index uint64) int {
	for i, e := range dl.entries {
		if e.Index == index {
			return i
		}
	}
	return -1
}

func (dl *DurableLog) HasEntry(index, term uint64) bool {
	if index == 0 {
		return term == 0
	}
	i := dl.indexOf(index)
	return i >= 0 && dl.entries[i].Term == term
}

func (dl *DurableLog) TermAt(index uint64) (uint64, error) {
	if index == 0 {
		return 0, nil
	}
	i := dl.indexOf(index)
	if i < 0 {
		return 0, ErrOutOfRange
	}
	return dl.entries[i].Term, nil
}

func (dl *DurableLog) Append(command Command, term uint64) (uint64, error) {
	if term < dl.LastTerm() {
		return 0, fmt.Errorf("raft: append rejected, term %d < last term %d", term, dl.LastTerm())
	}

	payload, err := encodeCommand(command)
	if err != nil {
		return 0, fmt.Errorf("raft: encode command: %w", err)
	}
	if len(payload) > 1<<15-1 {
		return 0, fmt.Errorf("raft: command payload too large: %d bytes", len(payload))
	}

	index := dl.LastIndex() + 1

	fi, err := dl.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("raft: stat durable log: %w", err)
	}
	pos := fi.Size()

	rec := make([]byte, 18+len(payload))
	binary.BigEndian.PutUint64(rec[0:8], index)
	binary.BigEndian.PutUint64(rec[8:16], term)
	binary.BigEndian.PutUint16(rec[16:18], uint16(int16(len(payload))))
	copy(rec[18:], payload)

	if _, err := dl.f.WriteAt(rec, pos); err != nil {
		return 0, fmt.Errorf("%w: write log entry: %v", ErrDurabilityFailure, err)
	}
	if err := dl.f.Sync(); err != nil {
		return 0, fmt.Errorf("%w: fsync log entry: %v", ErrDurabilityFailure, err)
	}

	dl.entries = append(dl.entries, durableEntry{
		Entry: Entry{Index: index, Term: term, Command: command},
		pos:   pos,
	})
	return index, nil
}

func (dl *DurableLog) ValidateEntry(index, term uint64) error {
	i := dl.indexOf(index)
	if i < 0 {
		return nil // past the end, nothing to validate
	}
	if dl.entries[i].Term == term {
		return nil // already matches
	}
	if index <= dl.commit {
		return ErrLogDivergedPastCommit
	}

	truncateAt := dl.entries[i].pos
	if _, err := dl.f.Seek(truncateAt, io.SeekStart); err != nil {
		return fmt.Errorf("%w: seek to truncate at %d: %v", ErrDurabilityFailure, truncateAt, err)
	}
	if err := dl.f.Truncate(truncateAt); err != nil {
		return fmt.Errorf("%w: truncate log: %v", ErrDurabilityFailure, err)
	}
	if err := dl.f.Sync(); err != nil {
		return fmt.Errorf("%w: fsync after truncate: %v", ErrDurabilityFailure, err)
	}

	dl.entries = dl.entries[:i]
	return nil
}

func (dl *DurableLog) Applied(upTo uint64, sm StateMachine) error {
	last := dl.LastIndex()
	target := upTo
	if target > last {
		target = last
	}
	if target <= dl.applied {
		return nil
	}

	for idx := dl.applied + 1; idx <= target; idx++ {
		i := dl.indexOf(idx)
		if i < 0 {
			return fmt.Errorf("raft: applied: missing entry at index %d", idx)
		}
		sm.Apply(dl.entries[i].Command)
	}
	dl.applied = target
	dl.commit = target
	return nil
}

func (dl *DurableLog) EntriesFrom(start uint64) []Entry {
	var out []Entry
	for _, e := range dl.entries {
		if e.Index >= start {
			out = append(out, e.Entry)
		}
	}
	return out
}

func (dl *DurableLog) Close() error {
	return dl.f.Close()
}

// splitIdentifier separates the identifier prefix a command blob was
// encoded with from its payload bytes. See encodeCommand.
func splitIdentifier(raw []byte) (string, []byte) {
	if len(raw) < 2 {
		return "", nil
	}
	idLen := int(binary.BigEndian.Uint16(raw[0:2]))
	if len(raw) < 2+idLen {
		return "", nil
	}
	identifier := string(raw[2 : 2+idLen])
	return identifier, raw[2+idLen:]
}

// encodeCommand frames a command's identifier and marshaled payload into a
// single blob: a u16 identifier length, the identifier bytes, then
// whatever MarshalBinary produced.
func encodeCommand(command Command) ([]byte, error) {
	bc, ok := command.(BinaryCommand)
	if !ok {
		return nil, fmt.Errorf("raft: command %T does not implement BinaryCommand", command)
	}
	payload, err := bc.MarshalBinary()
	if err != nil {
		return nil, err
	}
	identifier := bc.Identifier()
	if len(identifier) > 1<<16-1 {
		return nil, fmt.Errorf("raft: command identifier too long: %d bytes", len(identifier))
	}
	buf := make([]byte, 2+len(identifier)+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(identifier)))
	copy(buf[2:], identifier)
	copy(buf[2+len(identifier):], payload)
	return buf, nil
}
