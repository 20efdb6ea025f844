// Package proxy wraps a raft.Peer so that Invoke and Send never block the
// caller: each is handed to a small worker pool, mirroring the source's
// ProxyServer split between a message executor and a command executor.
// Disconnect/Reconnect let tests simulate network partitions by silently
// dropping traffic without tearing down the underlying Peer.
package proxy

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/concord-raft/raft/raft"
)

var (
	// ErrDisconnected is surfaced when Send is called while the proxy has
	// been told to simulate a network partition.
	ErrDisconnected = errors.New("proxy: peer disconnected")

	// ErrQueueFull is surfaced when the command worker pool's queue is at
	// capacity and the command is dropped rather than blocking the caller.
	ErrQueueFull = errors.New("proxy: command queue full")
)

// Proxy decouples a wrapped Peer's blocking I/O from the role engine,
// which calls Invoke and Send while holding its own lock.
type Proxy struct {
	inner raft.Peer

	active atomic.Bool

	messages chan func()
	commands chan func()

	wg   sync.WaitGroup
	once sync.Once
	stop chan struct{}
}

// New wraps inner with workerCount workers per queue (messages and
// commands get independent pools, so a stuck command send can't starve
// heartbeat delivery).
func New(inner raft.Peer, workerCount int) *Proxy {
	p := &Proxy{
		inner:    inner,
		messages: make(chan func(), 256),
		commands: make(chan func(), 256),
		stop:     make(chan struct{}),
	}
	p.active.Store(true)

	for i := 0; i < workerCount; i++ {
		p.wg.Add(2)
		go p.drain(p.messages)
		go p.drain(p.commands)
	}
	return p
}

func (p *Proxy) drain(queue chan func()) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		case fn := <-queue:
			fn()
		}
	}
}

func (p *Proxy) ID() uint64 { return p.inner.ID() }
func (p *Proxy) Start()     { p.inner.Start() }

// Shutdown stops accepting new work and waits for in-flight work to
// drain before shutting down the wrapped Peer.
func (p *Proxy) Shutdown() {
	p.once.Do(func() {
		p.active.Store(false)
		close(p.stop)
	})
	p.wg.Wait()
	p.inner.Shutdown()
}

// Disconnect causes subsequent Invoke/Send calls to be dropped silently,
// simulating a network partition without touching the wrapped Peer.
func (p *Proxy) Disconnect() { p.active.Store(false) }

// Reconnect resumes normal delivery.
func (p *Proxy) Reconnect() { p.active.Store(true) }

func (p *Proxy) Invoke(msg raft.Message) {
	if !p.active.Load() {
		return
	}
	select {
	case p.messages <- func() { p.inner.Invoke(msg) }:
	default:
		// queue full: drop rather than block the caller.
	}
}

func (p *Proxy) Send(cmd raft.Command, listener raft.CommandResultListener) {
	if !p.active.Load() {
		if listener != nil {
			listener.CommandFailed(ErrDisconnected)
		}
		return
	}
	select {
	case p.commands <- func() { p.inner.Send(cmd, listener) }:
	default:
		if listener != nil {
			listener.CommandFailed(ErrQueueFull)
		}
	}
}
