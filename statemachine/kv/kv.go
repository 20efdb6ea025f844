// Package kv is an example user state machine: an in-memory key-value
// store driven entirely by commands committed through the replicated log.
package kv

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/concord-raft/raft/raft"
)

// Identifier is the command tag the role engine's log uses to route
// entries to this machine.
const Identifier = "kv"

type cmdKind uint8

const cmdSet cmdKind = 0

// SetCommand assigns Value to Key once committed. It implements
// raft.BinaryCommand so the log can persist and replay it.
type SetCommand struct {
	Key   string
	Value string
}

func (SetCommand) Identifier() string { return Identifier }

// MarshalBinary encodes the command as:
//
//	[0]                          kind
//	[1:5]                        keyLen, u32
//	[5:5+keyLen]                 key
//	[5+keyLen:5+keyLen+4]        valueLen, u32
//	[5+keyLen+4:...+valueLen]    value
func (c SetCommand) MarshalBinary() ([]byte, error) {
	keyLen := uint32(len(c.Key))
	if keyLen == 0 {
		return nil, fmt.Errorf("kv: key cannot be empty")
	}
	if keyLen > 1024 {
		return nil, fmt.Errorf("kv: key too large: %d bytes", keyLen)
	}
	valueLen := uint32(len(c.Value))
	if valueLen > 1024*1024 {
		return nil, fmt.Errorf("kv: value too large: %d bytes", valueLen)
	}

	buf := make([]byte, 1+4+keyLen+4+valueLen)
	buf[0] = byte(cmdSet)
	binary.BigEndian.PutUint32(buf[1:5], keyLen)
	copy(buf[5:5+keyLen], c.Key)
	valOffset := 5 + keyLen
	binary.BigEndian.PutUint32(buf[valOffset:valOffset+4], valueLen)
	copy(buf[valOffset+4:], c.Value)
	return buf, nil
}

// DecodeSetCommand rebuilds a SetCommand from bytes produced by
// MarshalBinary. It returns the concrete *SetCommand; a raft.CommandDecoder
// calls it for entries tagged Identifier.
func DecodeSetCommand(identifier string, payload []byte) (*SetCommand, error) {
	if identifier != Identifier {
		return nil, fmt.Errorf("kv: unexpected identifier %q", identifier)
	}
	if len(payload) < 5 {
		return nil, fmt.Errorf("kv: command too short: %d bytes", len(payload))
	}
	if cmdKind(payload[0]) != cmdSet {
		return nil, fmt.Errorf("kv: unsupported command kind: %d", payload[0])
	}

	keyLen := int(binary.BigEndian.Uint32(payload[1:5]))
	if keyLen <= 0 || keyLen > 1024 {
		return nil, fmt.Errorf("kv: invalid key length: %d", keyLen)
	}
	if len(payload) < 5+keyLen+4 {
		return nil, fmt.Errorf("kv: incomplete command for key/value length")
	}
	key := string(payload[5 : 5+keyLen])

	valOffset := 5 + keyLen
	valueLen := int(binary.BigEndian.Uint32(payload[valOffset : valOffset+4]))
	if valueLen < 0 || valueLen > 1024*1024 {
		return nil, fmt.Errorf("kv: invalid value length: %d", valueLen)
	}
	if len(payload) < valOffset+4+valueLen {
		return nil, fmt.Errorf("kv: incomplete command for value")
	}
	value := string(payload[valOffset+4 : valOffset+4+valueLen])

	return &SetCommand{Key: key, Value: value}, nil
}

// Machine is a mutex-guarded in-memory key-value store.
type Machine struct {
	mu sync.RWMutex
	db map[string]string
}

// New returns an empty Machine.
func New() *Machine {
	return &Machine{db: make(map[string]string)}
}

// Apply applies cmd, which must be a *SetCommand; anything else is a
// programmer error, since the router only dispatches entries tagged
// Identifier to this machine.
func (m *Machine) Apply(cmd raft.Command) {
	set, ok := cmd.(*SetCommand)
	if !ok {
		panic(fmt.Sprintf("kv: unexpected command type %T", cmd))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.db[set.Key] = set.Value
}

// Get returns the current value for key, if present.
func (m *Machine) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.db[key]
	return v, ok
}
