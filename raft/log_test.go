package raft

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// testCommand is a minimal BinaryCommand for exercising the log without
// pulling in a real state machine package.
type testCommand struct {
	Value string
}

func (testCommand) Identifier() string { return "test" }

func (c testCommand) MarshalBinary() ([]byte, error) {
	return []byte(c.Value), nil
}

func decodeTestCommand(identifier string, payload []byte) (Command, error) {
	if identifier != "test" {
		return nil, fmt.Errorf("unexpected identifier %q", identifier)
	}
	return testCommand{Value: string(payload)}, nil
}

type recordingMachine struct {
	applied []Command
}

func (m *recordingMachine) Apply(cmd Command) {
	m.applied = append(m.applied, cmd)
}

func TestMemoryLog_AppendAndApply(t *testing.T) {
	l := NewMemoryLog()

	i1, err := l.Append(testCommand{Value: "a"}, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(1), i1)

	i2, err := l.Append(testCommand{Value: "b"}, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(2), i2)

	require.True(t, l.HasEntry(1, 1))
	require.False(t, l.HasEntry(1, 2))
	require.Equal(t, uint64(2), l.LastIndex())
	require.Equal(t, uint64(1), l.LastTerm())

	sm := &recordingMachine{}
	require.NoError(t, l.Applied(2, sm))
	require.Equal(t, []Command{testCommand{Value: "a"}, testCommand{Value: "b"}}, sm.applied)
	require.Equal(t, uint64(2), l.CommitIndex())

	// re-applying up to an already-applied index is a no-op.
	require.NoError(t, l.Applied(1, sm))
	require.Len(t, sm.applied, 2)
}

func TestMemoryLog_ValidateEntryTruncatesDivergentSuffix(t *testing.T) {
	l := NewMemoryLog()
	_, _ = l.Append(testCommand{Value: "a"}, 1)
	_, _ = l.Append(testCommand{Value: "b"}, 1)
	_, _ = l.Append(testCommand{Value: "c"}, 1)

	require.NoError(t, l.ValidateEntry(2, 2))
	require.Equal(t, uint64(1), l.LastIndex())
}

func TestMemoryLog_ValidateEntryRefusesBelowCommit(t *testing.T) {
	l := NewMemoryLog()
	_, _ = l.Append(testCommand{Value: "a"}, 1)
	_, _ = l.Append(testCommand{Value: "b"}, 1)

	sm := &recordingMachine{}
	require.NoError(t, l.Applied(2, sm))

	err := l.ValidateEntry(1, 99)
	require.ErrorIs(t, err, ErrLogDivergedPastCommit)
}

func TestMemoryLog_AppendRejectsStaleTerm(t *testing.T) {
	l := NewMemoryLog()
	_, err := l.Append(testCommand{Value: "a"}, 5)
	require.NoError(t, err)

	_, err = l.Append(testCommand{Value: "b"}, 3)
	require.Error(t, err)
}

func TestDurableLog_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commands")

	dl, err := OpenDurableLog(path, decodeTestCommand)
	require.NoError(t, err)

	_, err = dl.Append(testCommand{Value: "a"}, 1)
	require.NoError(t, err)
	_, err = dl.Append(testCommand{Value: "b"}, 1)
	require.NoError(t, err)

	sm := &recordingMachine{}
	require.NoError(t, dl.Applied(2, sm))
	require.NoError(t, dl.Close())

	reopened, err := OpenDurableLog(path, decodeTestCommand)
	require.NoError(t, err)
	defer reopened.Close()

	require.Equal(t, uint64(2), reopened.LastIndex())
	require.True(t, reopened.HasEntry(1, 1))
	require.True(t, reopened.HasEntry(2, 1))

	entries := reopened.EntriesFrom(1)
	require.Len(t, entries, 2)
	require.Equal(t, testCommand{Value: "a"}, entries[0].Command)
	require.Equal(t, testCommand{Value: "b"}, entries[1].Command)
}

func TestDurableLog_ValidateEntryTruncatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commands")

	dl, err := OpenDurableLog(path, decodeTestCommand)
	require.NoError(t, err)

	_, err = dl.Append(testCommand{Value: "a"}, 1)
	require.NoError(t, err)
	_, err = dl.Append(testCommand{Value: "b"}, 1)
	require.NoError(t, err)
	_, err = dl.Append(testCommand{Value: "c"}, 1)
	require.NoError(t, err)

	require.NoError(t, dl.ValidateEntry(2, 2))
	require.Equal(t, uint64(1), dl.LastIndex())
	require.NoError(t, dl.Close())

	reopened, err := OpenDurableLog(path, decodeTestCommand)
	require.NoError(t, err)
	defer reopened.Close()

	require.Equal(t, uint64(1), reopened.LastIndex())
	require.False(t, reopened.HasEntry(2, 1))
}

func TestDurableLog_TermAtOutOfRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commands")
	dl, err := OpenDurableLog(path, decodeTestCommand)
	require.NoError(t, err)
	defer dl.Close()

	_, err = dl.TermAt(5)
	require.ErrorIs(t, err, ErrOutOfRange)
}
