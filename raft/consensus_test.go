package raft

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// fixedMembership is a bare-bones MembershipHandle that only needs to
// answer Count() for these tests.
type fixedMembership struct {
	count int
}

func (f fixedMembership) Count() int        { return f.count }
func (f fixedMembership) Find(uint64) Peer  { return nil }
func (f fixedMembership) InvokeAll(Message) {}
func (f fixedMembership) Servers() []Peer   { return nil }

func TestConsensusTracker_AppendedRequiresMajority(t *testing.T) {
	tracker := NewConsensusTracker(fixedMembership{count: 5})

	require.Equal(t, uint64(0), tracker.Appended(2, 3, 0))
	require.Equal(t, uint64(0), tracker.Appended(3, 3, 0))
	// leader's own entry counts too.
	require.Equal(t, uint64(3), tracker.Appended(1, 3, 0))
}

func TestConsensusTracker_AppendedStopsAtFirstGap(t *testing.T) {
	tracker := NewConsensusTracker(fixedMembership{count: 3})

	require.Equal(t, uint64(0), tracker.Appended(1, 5, 0))
	// only server 1 has reached index 1..5; no majority yet for any index.
	require.Equal(t, uint64(3), tracker.Appended(2, 3, 0))
	// now 1 and 2 both cover 1..3: majority reached up to 3, but 4 and 5
	// still lack a second replica.
}

func TestConsensusTracker_ReceivedVoteMajority(t *testing.T) {
	tracker := NewConsensusTracker(fixedMembership{count: 5})

	require.False(t, tracker.ReceivedVote(1, 1))
	require.False(t, tracker.ReceivedVote(2, 1))
	require.True(t, tracker.ReceivedVote(3, 1))
}

func TestConsensusTracker_ReceivedVoteResetsOnNewTerm(t *testing.T) {
	tracker := NewConsensusTracker(fixedMembership{count: 3})

	require.False(t, tracker.ReceivedVote(1, 1))
	require.False(t, tracker.ReceivedVote(1, 2))
	require.True(t, tracker.ReceivedVote(2, 2))
}

func TestConsensusTracker_ReceivedVoteIgnoresStaleTerm(t *testing.T) {
	tracker := NewConsensusTracker(fixedMembership{count: 3})

	require.False(t, tracker.ReceivedVote(1, 2))
	require.False(t, tracker.ReceivedVote(2, 1))
}
