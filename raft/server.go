package raft

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Role is one of the three positions a server can hold in a term.
type Role int

const (
	Follower Role = iota
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "Follower"
	case Candidate:
		return "Candidate"
	case Leader:
		return "Leader"
	default:
		return "Unknown"
	}
}

const (
	defaultHeartbeat   = 5000 * time.Millisecond
	campaignBackoffMin = 100 * time.Millisecond
	campaignBackoffMax = 300 * time.Millisecond
)

// Server is the role engine: the single intrinsic-lock state machine that
// owns a server's term, role, durable state, log and listener bookkeeping.
// Every RPC handler and every timer callback runs under mu.
type Server struct {
	id uint64

	mu sync.Mutex

	state      *DurableState
	log        Log
	sm         StateMachine
	membership MembershipHandle
	tracker    *ConsensusTracker
	logger     logrus.FieldLogger

	heartbeatPeriod time.Duration
	termTimeout     time.Duration

	role     Role
	leaderID *uint64
	active   bool
	halted   bool

	electionTimer   *time.Timer
	heartbeatTicker *time.Ticker

	localListeners map[uint64]CommandResultListener // log index -> listener, fired on commit
	remoteWaiters  map[uint64]CommandResultListener // request id -> listener
	nextRequestID  uint64

	shutdownCh chan struct{}
}

// Config gathers NewServer's dependencies. Heartbeat and TermTimeout fall
// back to defaultHeartbeat and 2x that, respectively, when zero.
type Config struct {
	ID              uint64
	State           *DurableState
	Log             Log
	StateMachine    StateMachine
	Membership      MembershipHandle
	HeartbeatPeriod time.Duration
	TermTimeout     time.Duration
	Logger          logrus.FieldLogger
}

// NewServer wires a role engine from cfg. It replays the durable log up to
// the persisted commit index into the state machine before returning, so a
// restarted server resumes with the state it had before going down.
func NewServer(cfg Config) (*Server, error) {
	heartbeat := cfg.HeartbeatPeriod
	if heartbeat == 0 {
		heartbeat = defaultHeartbeat
	}
	termTimeout := cfg.TermTimeout
	if termTimeout == 0 {
		termTimeout = 2 * heartbeat
	}
	if termTimeout <= heartbeat {
		return nil, fmt.Errorf("raft: term timeout %s must exceed heartbeat period %s", termTimeout, heartbeat)
	}

	s := &Server{
		id:              cfg.ID,
		state:           cfg.State,
		log:             cfg.Log,
		sm:              cfg.StateMachine,
		membership:      cfg.Membership,
		logger:          cfg.Logger,
		heartbeatPeriod: heartbeat,
		termTimeout:     termTimeout,
		localListeners:  make(map[uint64]CommandResultListener),
		remoteWaiters:   make(map[uint64]CommandResultListener),
		nextRequestID:   1,
		shutdownCh:      make(chan struct{}),
	}
	s.tracker = NewConsensusTracker(cfg.Membership)

	if err := s.log.Applied(s.state.CommitIndex(), s.sm); err != nil {
		return nil, fmt.Errorf("raft: replay durable log: %w", err)
	}
	return s, nil
}

func (s *Server) ID() uint64 { return s.id }

func (s *Server) logf() logrus.FieldLogger {
	if s.logger == nil {
		return logrus.StandardLogger()
	}
	return s.logger.WithField("server", s.id)
}

// Start brings the server active. A single-member membership goes straight
// to Candidate so that a lone node can elect itself; everyone else starts
// a Follower with no known leader.
func (s *Server) Start() {
	s.mu.Lock()
	s.active = true
	if s.membership.Count() == 1 {
		s.convertToCandidateLocked()
	} else {
		s.role = Follower
		s.leaderID = nil
		s.scheduleElectionLocked(s.termTimeout)
	}
	s.mu.Unlock()

	go s.run()
}

func (s *Server) run() {
	for {
		s.mu.Lock()
		var etC <-chan time.Time
		if s.electionTimer != nil {
			etC = s.electionTimer.C
		}
		var htC <-chan time.Time
		if s.heartbeatTicker != nil {
			htC = s.heartbeatTicker.C
		}
		s.mu.Unlock()

		select {
		case <-s.shutdownCh:
			return
		case <-etC:
			s.onElectionTimeout()
		case <-htC:
			s.onHeartbeatTick()
		}
	}
}

// Shutdown flips active off, cancels the pending timer and closes durable
// state. In-flight handler work already past the active check completes;
// new work is rejected.
func (s *Server) Shutdown() {
	s.mu.Lock()
	s.active = false
	s.stopElectionLocked()
	s.stopHeartbeatLocked()
	s.mu.Unlock()

	close(s.shutdownCh)
	_ = s.state.Close()
	_ = s.log.Close()
}

// Role reports the server's current role and term, for tests and health
// checks.
func (s *Server) Role() (Role, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role, s.state.CurrentTerm()
}

// ---- timer scheduling ----

func (s *Server) scheduleElectionLocked(d time.Duration) {
	s.stopElectionLocked()
	s.electionTimer = time.NewTimer(d)
}

func (s *Server) stopElectionLocked() {
	if s.electionTimer != nil {
		s.electionTimer.Stop()
		s.electionTimer = nil
	}
}

func (s *Server) startHeartbeatLocked() {
	s.stopHeartbeatLocked()
	s.heartbeatTicker = time.NewTicker(s.heartbeatPeriod)
}

func (s *Server) stopHeartbeatLocked() {
	if s.heartbeatTicker != nil {
		s.heartbeatTicker.Stop()
		s.heartbeatTicker = nil
	}
}

func randomCampaignBackoff() time.Duration {
	span := campaignBackoffMax - campaignBackoffMin
	return campaignBackoffMin + time.Duration(rand.Int63n(int64(span)))
}

// ---- role transitions ----

func (s *Server) convertToFollowerLocked(leaderID *uint64) {
	s.role = Follower
	s.leaderID = leaderID
	s.stopHeartbeatLocked()
	s.scheduleElectionLocked(s.termTimeout)
}

func (s *Server) convertToCandidateLocked() {
	s.role = Candidate
	s.leaderID = nil

	if err := s.state.UpdateCurrentTerm(s.state.CurrentTerm() + 1); err != nil {
		s.haltLocked(err)
		return
	}
	if err := s.state.UpdateVotedFor(s.id); err != nil {
		s.haltLocked(err)
		return
	}
	s.tracker.UpdateTerm(s.state.CurrentTerm())
	wonAlready := s.tracker.ReceivedVote(s.id, s.state.CurrentTerm())

	term := s.state.CurrentTerm()
	s.logf().WithField("term", term).Debug("became candidate")

	if wonAlready {
		// single-member membership: the self-vote alone is a majority.
		s.convertToLeaderLocked()
		return
	}

	s.scheduleElectionLocked(randomCampaignBackoff())

	lastIndex := s.log.LastIndex()
	lastTerm := s.log.LastTerm()
	s.membership.InvokeAll(Message{
		SenderID:     s.id,
		Term:         term,
		Kind:         KindVoteRequest,
		LastLogIndex: lastIndex,
		LastLogTerm:  lastTerm,
	})
}

func (s *Server) convertToLeaderLocked() {
	s.role = Leader
	s.leaderID = &s.id
	s.stopElectionLocked()
	s.startHeartbeatLocked()
	s.logf().WithField("term", s.state.CurrentTerm()).Debug("became leader")
	s.sendHeartbeatLocked()
}

// ---- timer callbacks ----

func (s *Server) onElectionTimeout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || s.halted {
		return
	}
	switch s.role {
	case Follower, Candidate:
		s.convertToCandidateLocked()
	default:
		// a stale fire raced a cancellation; leaders ignore it.
	}
}

func (s *Server) onHeartbeatTick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || s.halted {
		return
	}
	// cancellation is best-effort: re-check leadership before sending.
	if s.role != Leader {
		return
	}
	s.sendHeartbeatLocked()
}

func (s *Server) sendHeartbeatLocked() {
	s.membership.InvokeAll(Message{
		SenderID:     s.id,
		Term:         s.state.CurrentTerm(),
		Kind:         KindAppendRequest,
		PrevLogIndex: s.log.LastIndex(),
		PrevLogTerm:  s.log.LastTerm(),
		LeaderCommit: s.log.CommitIndex(),
	})
}

// ---- inbound dispatch ----

// Invoke is the transport-facing entry point for every RPC. It applies the
// term-bump rule common to all message kinds before dispatching by Kind.
func (s *Server) Invoke(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || s.halted {
		return
	}

	if msg.Term > s.state.CurrentTerm() {
		if err := s.state.UpdateCurrentTerm(msg.Term); err != nil {
			s.haltLocked(err)
			return
		}
		s.tracker.UpdateTerm(msg.Term)
		s.convertToFollowerLocked(&msg.SenderID)
	}

	switch msg.Kind {
	case KindVoteRequest:
		s.handleRequestVoteLocked(msg)
	case KindVoteResponse:
		s.handleRespondVoteLocked(msg)
	case KindAppendRequest:
		s.handleRequestAppendLocked(msg)
	case KindAppendResponse:
		s.handleRespondAppendLocked(msg)
	case KindCommandRequest:
		s.handleRequestCommandLocked(msg)
	case KindCommandResponse:
		s.handleRespondCommandLocked(msg)
	}
}

func (s *Server) sendTo(id uint64, msg Message) {
	if p := s.membership.Find(id); p != nil {
		p.Invoke(msg)
	}
}

// handleRequestVoteLocked implements the "at least as up-to-date" check
// using the Raft paper's lexicographic (term, index) comparison.
func (s *Server) handleRequestVoteLocked(msg Message) {
	currentTerm := s.state.CurrentTerm()
	if msg.Term < currentTerm {
		s.sendTo(msg.SenderID, Message{SenderID: s.id, Term: currentTerm, Kind: KindVoteResponse, Granted: false})
		return
	}

	votedFor := s.state.VotedFor()
	if votedFor != NoVote && votedFor != msg.SenderID {
		s.sendTo(msg.SenderID, Message{SenderID: s.id, Term: currentTerm, Kind: KindVoteResponse, Granted: false})
		return
	}

	lastTerm := s.log.LastTerm()
	lastIndex := s.log.LastIndex()
	upToDate := msg.LastLogTerm > lastTerm || (msg.LastLogTerm == lastTerm && msg.LastLogIndex >= lastIndex)
	if !upToDate {
		s.sendTo(msg.SenderID, Message{SenderID: s.id, Term: currentTerm, Kind: KindVoteResponse, Granted: false})
		return
	}

	s.convertToFollowerLocked(nil)
	if err := s.state.UpdateVotedFor(msg.SenderID); err != nil {
		s.haltLocked(err)
		return
	}
	s.sendTo(msg.SenderID, Message{SenderID: s.id, Term: currentTerm, Kind: KindVoteResponse, Granted: true})
}

func (s *Server) handleRespondVoteLocked(msg Message) {
	if !msg.Granted || s.role != Candidate || msg.Term != s.state.CurrentTerm() {
		return
	}
	if s.tracker.ReceivedVote(msg.SenderID, msg.Term) {
		s.convertToLeaderLocked()
	}
}

// handleRequestAppendLocked implements requestAppend. The source's three
// resync-hint cases (behind on index, behind on commit, or the can't-happen
// commit-index divergence) are preserved verbatim.
func (s *Server) handleRequestAppendLocked(msg Message) {
	currentTerm := s.state.CurrentTerm()
	if msg.Term < currentTerm {
		s.sendTo(msg.SenderID, Message{SenderID: s.id, Term: currentTerm, Kind: KindAppendResponse, OK: false, Index: NoIndex})
		return
	}

	if !s.log.HasEntry(msg.PrevLogIndex, msg.PrevLogTerm) {
		var hint uint64
		switch {
		case s.log.LastIndex() < msg.PrevLogIndex:
			hint = s.log.LastIndex()
		case s.log.CommitIndex() < msg.PrevLogIndex:
			hint = s.log.CommitIndex()
		default:
			s.logf().WithFields(logrus.Fields{
				"prevLogIndex": msg.PrevLogIndex,
				"prevLogTerm":  msg.PrevLogTerm,
				"commitIndex":  s.log.CommitIndex(),
			}).Error("commit-index divergence observed during append: this should not be reachable in a correct run")
			hint = NoIndex
			s.sendTo(msg.SenderID, Message{SenderID: s.id, Term: currentTerm, Kind: KindAppendResponse, OK: false, Index: hint})
			return
		}
		s.sendTo(msg.SenderID, Message{SenderID: s.id, Term: currentTerm, Kind: KindAppendResponse, OK: false, Index: hint})
		return
	}

	s.convertToFollowerLocked(&msg.SenderID)

	if err := s.log.ValidateEntry(msg.PrevLogIndex+1, msg.Term); err != nil {
		s.haltLocked(err)
		return
	}
	for i, cmd := range msg.Entries {
		index := msg.PrevLogIndex + 1 + uint64(i)
		if s.log.HasEntry(index, msg.Term) {
			continue
		}
		if _, err := s.log.Append(cmd, msg.Term); err != nil {
			s.haltLocked(err)
			return
		}
	}

	newLastIndex := s.log.LastIndex()
	target := msg.LeaderCommit
	if target > newLastIndex {
		target = newLastIndex
	}
	if err := s.applyIndexLocked(target); err != nil {
		s.haltLocked(err)
		return
	}

	s.sendTo(msg.SenderID, Message{SenderID: s.id, Term: currentTerm, Kind: KindAppendResponse, OK: true, Index: s.log.LastIndex()})
}

func (s *Server) handleRespondAppendLocked(msg Message) {
	currentTerm := s.state.CurrentTerm()
	if s.role != Leader || msg.Term < currentTerm {
		return
	}

	if msg.OK {
		applied := s.tracker.Appended(msg.SenderID, msg.Index, s.log.CommitIndex())
		if applied > 0 {
			if err := s.applyIndexLocked(applied); err != nil {
				s.haltLocked(err)
				return
			}
			s.sendHeartbeatLocked()
		}
		return
	}

	if msg.Index == NoIndex {
		return
	}
	prevTerm, err := s.log.TermAt(msg.Index)
	if err != nil {
		prevTerm = 0
	}
	s.sendTo(msg.SenderID, Message{
		SenderID:     s.id,
		Term:         currentTerm,
		Kind:         KindAppendRequest,
		PrevLogIndex: msg.Index,
		PrevLogTerm:  prevTerm,
		Entries:      entriesToCommands(s.log.EntriesFrom(msg.Index + 1)),
		LeaderCommit: s.log.CommitIndex(),
	})
}

// handleRequestCommandLocked is reached when a peer forwards a client
// command to whoever it believes is the leader.
func (s *Server) handleRequestCommandLocked(msg Message) {
	currentTerm := s.state.CurrentTerm()
	if s.role != Leader {
		if msg.RequestID != nil {
			s.sendTo(msg.SenderID, Message{SenderID: s.id, Term: currentTerm, Kind: KindCommandResponse, RequestID: msg.RequestID, EntryIndex: FailedEntryIndex})
		}
		return
	}

	prevIndex := s.log.LastIndex()
	index, err := s.log.Append(msg.Command, currentTerm)
	if err != nil {
		s.haltLocked(err)
		return
	}

	s.membership.InvokeAll(Message{
		SenderID:     s.id,
		Term:         currentTerm,
		Kind:         KindAppendRequest,
		PrevLogIndex: prevIndex,
		PrevLogTerm:  s.termAtOrZeroLocked(prevIndex),
		Entries:      []Command{msg.Command},
		LeaderCommit: s.log.CommitIndex(),
	})

	applied := s.tracker.Appended(s.id, index, s.log.CommitIndex())
	if applied > 0 {
		if err := s.applyIndexLocked(applied); err != nil {
			s.haltLocked(err)
			return
		}
	}

	if msg.RequestID != nil {
		s.sendTo(msg.SenderID, Message{SenderID: s.id, Term: currentTerm, Kind: KindCommandResponse, RequestID: msg.RequestID, EntryIndex: int64(index)})
	}
}

func (s *Server) handleRespondCommandLocked(msg Message) {
	if msg.RequestID == nil {
		return
	}
	listener, ok := s.remoteWaiters[*msg.RequestID]
	if !ok {
		return
	}
	delete(s.remoteWaiters, *msg.RequestID)

	if msg.EntryIndex == FailedEntryIndex {
		listener.CommandFailed(ErrNotLeader)
		return
	}
	if uint64(msg.EntryIndex) <= s.log.CommitIndex() {
		listener.CommandApplied()
		return
	}
	s.localListeners[uint64(msg.EntryIndex)] = listener
}

func (s *Server) termAtOrZeroLocked(index uint64) uint64 {
	t, err := s.log.TermAt(index)
	if err != nil {
		return 0
	}
	return t
}

func entriesToCommands(entries []Entry) []Command {
	out := make([]Command, len(entries))
	for i, e := range entries {
		out[i] = e.Command
	}
	return out
}

// applyIndexLocked advances commit index and notifies listeners registered
// for indices after the previous commit index up to and including the new
// one.
func (s *Server) applyIndexLocked(index uint64) error {
	prev := s.log.CommitIndex()
	if err := s.log.Applied(index, s.sm); err != nil {
		return err
	}
	if err := s.state.UpdateCommitIndex(s.log.CommitIndex()); err != nil {
		s.logf().WithError(err).Warn("commit index durability write failed, will recover on replay")
	}
	for i := prev + 1; i <= s.log.CommitIndex(); i++ {
		if l, ok := s.localListeners[i]; ok {
			delete(s.localListeners, i)
			l.CommandApplied()
		}
	}
	return nil
}

func (s *Server) haltLocked(err error) {
	if s.halted {
		return
	}
	s.halted = true
	s.active = false
	s.stopElectionLocked()
	s.stopHeartbeatLocked()
	s.logf().WithError(err).Error("halting role engine on durability failure")
}

// ---- local command submission ----

// Send is the client-facing submission API. It rejects immediately if the
// server is inactive or no leader is known; otherwise it either appends
// locally (if this server is the leader) or forwards to the known leader
// and waits for a CommandResponse.
func (s *Server) Send(cmd Command, listener CommandResultListener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active || s.halted {
		if listener != nil {
			listener.CommandFailed(ErrServerInactive)
		}
		return
	}

	if s.role == Leader {
		s.submitAsLeaderLocked(cmd, listener)
		return
	}

	if s.leaderID == nil {
		if listener != nil {
			listener.CommandFailed(ErrUnknownLeader)
		}
		return
	}

	peer := s.membership.Find(*s.leaderID)
	if peer == nil {
		if listener != nil {
			listener.CommandFailed(ErrUnknownLeader)
		}
		return
	}

	requestID := s.nextRequestID
	s.nextRequestID++
	if listener != nil {
		s.remoteWaiters[requestID] = listener
	}
	peer.Invoke(Message{
		SenderID:  s.id,
		Term:      s.state.CurrentTerm(),
		Kind:      KindCommandRequest,
		Command:   cmd,
		RequestID: &requestID,
	})
}

// submitAsLeaderLocked appends cmd to the log and installs listener at the
// index it lands on, all under the same lock acquisition as the append, so
// the listener can never miss the commit notification for its own entry.
func (s *Server) submitAsLeaderLocked(cmd Command, listener CommandResultListener) {
	currentTerm := s.state.CurrentTerm()
	prevIndex := s.log.LastIndex()

	index, err := s.log.Append(cmd, currentTerm)
	if err != nil {
		s.haltLocked(err)
		if listener != nil {
			listener.CommandFailed(err)
		}
		return
	}
	if listener != nil {
		s.localListeners[index] = listener
	}

	s.membership.InvokeAll(Message{
		SenderID:     s.id,
		Term:         currentTerm,
		Kind:         KindAppendRequest,
		PrevLogIndex: prevIndex,
		PrevLogTerm:  s.termAtOrZeroLocked(prevIndex),
		Entries:      []Command{cmd},
		LeaderCommit: s.log.CommitIndex(),
	})

	applied := s.tracker.Appended(s.id, index, s.log.CommitIndex())
	if applied > 0 {
		if err := s.applyIndexLocked(applied); err != nil {
			s.haltLocked(err)
		}
	}
}
