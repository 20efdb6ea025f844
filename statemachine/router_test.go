package statemachine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/concord-raft/raft/raft"
)

type stubCommand struct{ id string }

func (c stubCommand) Identifier() string { return c.id }

type stubMachine struct {
	applied []raft.Command
}

func (m *stubMachine) Apply(cmd raft.Command) {
	m.applied = append(m.applied, cmd)
}

func TestRouter_DispatchesByIdentifier(t *testing.T) {
	r := NewRouter()
	a := &stubMachine{}
	b := &stubMachine{}
	r.Register("a", a)
	r.Register("b", b)

	r.Apply(stubCommand{id: "a"})
	r.Apply(stubCommand{id: "b"})
	r.Apply(stubCommand{id: "a"})

	require.Len(t, a.applied, 2)
	require.Len(t, b.applied, 1)
}

func TestRouter_PanicsOnUnknownIdentifier(t *testing.T) {
	r := NewRouter()
	require.Panics(t, func() {
		r.Apply(stubCommand{id: "missing"})
	})
}

func TestRouter_PanicsOnDoubleRegistration(t *testing.T) {
	r := NewRouter()
	r.Register("a", &stubMachine{})
	require.Panics(t, func() {
		r.Register("a", &stubMachine{})
	})
}
