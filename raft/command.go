package raft

// Command is an opaque payload carrying an identifier that selects which
// user state machine applies it. The core never interprets the contents of
// a command beyond its identifier.
type Command interface {
	Identifier() string
}

// BinaryCommand is implemented by commands that know how to marshal
// themselves for durable storage. The log never needs to know how to build
// a concrete Command back up; callers supply a Decode function for that.
type BinaryCommand interface {
	Command
	MarshalBinary() ([]byte, error)
}

// CommandDecoder rebuilds a Command from the identifier and payload bytes
// that DurableLog persisted for it.
type CommandDecoder func(identifier string, payload []byte) (Command, error)
