// Package statemachine dispatches committed commands to the user state
// machine registered for their identifier.
package statemachine

import (
	"fmt"

	"github.com/concord-raft/raft/raft"
)

// Router maps a command's Identifier to the state machine that knows how
// to apply it. An unrecognized identifier is a programmer error: the
// membership and KV machines must be registered before the role engine
// starts replaying its log.
type Router struct {
	machines map[string]raft.StateMachine
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{machines: make(map[string]raft.StateMachine)}
}

// Register binds identifier to sm. Registration is one-shot: registering
// the same identifier twice panics.
func (r *Router) Register(identifier string, sm raft.StateMachine) {
	if _, exists := r.machines[identifier]; exists {
		panic(fmt.Sprintf("statemachine: %q already registered", identifier))
	}
	r.machines[identifier] = sm
}

// Apply dispatches cmd to the machine registered for its identifier. An
// unregistered identifier is a hard failure: the log committed a command
// this process doesn't know how to apply, which means it was built with
// the wrong set of state machines wired in.
func (r *Router) Apply(cmd raft.Command) {
	sm, ok := r.machines[cmd.Identifier()]
	if !ok {
		panic(fmt.Sprintf("statemachine: unknown command identifier %q", cmd.Identifier()))
	}
	sm.Apply(cmd)
}
