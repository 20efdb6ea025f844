package raft

// ConsensusTracker derives commit advancement from AppendEntries
// acknowledgements and election outcome from vote responses. It holds no
// lock of its own; the role engine serializes access under its own lock,
// the same way it serializes everything else.
type ConsensusTracker struct {
	membership MembershipHandle

	matchMap map[uint64]uint64

	electionTally int
	electionTerm  uint64
}

// NewConsensusTracker returns a tracker that sizes its majority
// calculations off membership.
func NewConsensusTracker(membership MembershipHandle) *ConsensusTracker {
	return &ConsensusTracker{
		membership: membership,
		matchMap:   make(map[uint64]uint64),
	}
}

// UpdateTerm clears the match map and, if t differs from the term the
// election tally was recorded for, resets the tally to zero for t.
func (c *ConsensusTracker) UpdateTerm(t uint64) {
	c.matchMap = make(map[uint64]uint64)
	if t != c.electionTerm {
		c.electionTally = 0
		c.electionTerm = t
	}
}

// Appended records that senderID has replicated through matchIndex, and
// returns the highest index that newly became committed, or 0 if nothing
// advanced. Commitment is contiguous: the scan stops at the first index
// that fails to reach a majority.
func (c *ConsensusTracker) Appended(senderID, matchIndex, currentCommit uint64) uint64 {
	if matchIndex <= currentCommit {
		return 0
	}
	c.matchMap[senderID] = matchIndex

	applied := uint64(0)
	for i := currentCommit + 1; i <= matchIndex; i++ {
		count := 0
		for _, m := range c.matchMap {
			if m >= i {
				count++
			}
		}
		if !c.isMajority(count) {
			break
		}
		applied = i
	}
	return applied
}

// ReceivedVote folds in a granted vote for term and reports whether this
// server has now secured a majority in that term.
func (c *ConsensusTracker) ReceivedVote(senderID, term uint64) bool {
	if term < c.electionTerm {
		return false
	}
	if term > c.electionTerm {
		c.electionTally = 0
		c.electionTerm = term
	}
	c.electionTally++
	return c.isMajority(c.electionTally)
}

func (c *ConsensusTracker) isMajority(count int) bool {
	return float64(count) > float64(c.membership.Count())/2.0
}
