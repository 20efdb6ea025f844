package httpraft

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/concord-raft/raft/raft"
)

// Peer is a raft.Peer backed by a remote node's HTTP endpoint. It
// satisfies the interface by POSTing; it does not itself guard against
// blocking the caller for the duration of a round trip — wrap it with
// transport/proxy for that.
type Peer struct {
	id     uint64
	addr   string // e.g. "localhost:8001"
	client *http.Client
}

// NewPeer returns a Peer addressing the node with id at addr.
func NewPeer(id uint64, addr string) *Peer {
	return &Peer{
		id:     id,
		addr:   addr,
		client: &http.Client{Timeout: 400 * time.Millisecond},
	}
}

func (p *Peer) ID() uint64 { return p.id }
func (p *Peer) Start()     {}
func (p *Peer) Shutdown()  {}

func (p *Peer) Invoke(msg raft.Message) {
	wire, err := encodeMessage(msg)
	if err != nil {
		return
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return
	}

	url := fmt.Sprintf("http://%s/rpc", p.addr)
	resp, err := p.client.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		// an unreachable peer just misses this round; the next
		// heartbeat or retry will catch it up.
		return
	}
	_ = resp.Body.Close()
}

func (p *Peer) Send(cmd raft.Command, listener raft.CommandResultListener) {
	wc, err := encodeCommand(cmd)
	if err != nil {
		if listener != nil {
			listener.CommandFailed(err)
		}
		return
	}
	data, err := json.Marshal(wc)
	if err != nil {
		if listener != nil {
			listener.CommandFailed(err)
		}
		return
	}

	url := fmt.Sprintf("http://%s/command", p.addr)
	resp, err := p.client.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		if listener != nil {
			listener.CommandFailed(err)
		}
		return
	}
	defer resp.Body.Close()

	if listener == nil {
		return
	}
	var result struct {
		Applied bool `json:"applied"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		listener.CommandFailed(err)
		return
	}
	if !result.Applied {
		listener.CommandFailed(fmt.Errorf("httpraft: peer %d rejected command", p.id))
		return
	}
	listener.CommandApplied()
}
