package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/concord-raft/raft/config"
	"github.com/concord-raft/raft/raft"
	"github.com/concord-raft/raft/statemachine"
	"github.com/concord-raft/raft/statemachine/kv"
	"github.com/concord-raft/raft/statemachine/membership"
	"github.com/concord-raft/raft/transport/httpraft"
	"github.com/concord-raft/raft/transport/proxy"
)

func main() {
	configPath := flag.String("config", "", "path to node YAML config")
	flag.Parse()

	log := logrus.New()

	if *configPath == "" {
		log.Fatal("-config is required")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}

	if err := os.MkdirAll(cfg.Node.StateDir, 0o755); err != nil {
		log.WithError(err).Fatal("failed to create state dir")
	}
	if err := os.MkdirAll(cfg.Node.LogDir, 0o755); err != nil {
		log.WithError(err).Fatal("failed to create log dir")
	}

	decode := decodeCommand

	state, err := raft.OpenDurableState(filepath.Join(cfg.Node.StateDir, "server.state"), &cfg.Node.ID)
	if err != nil {
		log.WithError(err).Fatal("failed to open durable state")
	}
	durableLog, err := raft.OpenDurableLog(filepath.Join(cfg.Node.LogDir, "commands"), decode)
	if err != nil {
		log.WithError(err).Fatal("failed to open durable log")
	}

	router := statemachine.NewRouter()
	kvMachine := kv.New()
	router.Register(kv.Identifier, kvMachine)

	var membershipHandle raft.MembershipHandle
	var self *selfPeer

	if cfg.Cluster.Static {
		// StaticMembership's peer set is fixed at construction, so the
		// self-peer's server reference is wired in after NewServer
		// returns rather than at the point it's added to the list.
		self = &selfPeer{id: cfg.Node.ID}
		peers := []raft.Peer{self}
		for id, addr := range cfg.PeerAddresses() {
			if id == cfg.Node.ID {
				continue
			}
			httpPeer := httpraft.NewPeer(id, addr)
			peers = append(peers, proxy.New(httpPeer, 4))
		}
		membershipHandle = raft.NewStaticMembership(peers)
	} else {
		dynamicMembership := membership.New()
		router.Register(membership.Identifier, dynamicMembership)
		for id, addr := range cfg.PeerAddresses() {
			if id == cfg.Node.ID {
				continue
			}
			httpPeer := httpraft.NewPeer(id, addr)
			dynamicMembership.RegisterTransport(proxy.New(httpPeer, 4))
		}
		membershipHandle = dynamicMembership
	}

	server, err := raft.NewServer(raft.Config{
		ID:              cfg.Node.ID,
		State:           state,
		Log:             durableLog,
		StateMachine:    router,
		Membership:      membershipHandle,
		HeartbeatPeriod: cfg.Raft.Heartbeat(),
		TermTimeout:     cfg.Raft.TermTimeout(),
		Logger:          log,
	})
	if err != nil {
		log.WithError(err).Fatal("failed to construct server")
	}

	if cfg.Cluster.Static {
		self.server = server
	} else {
		dynamicMembership := membershipHandle.(*membership.Handle)
		// commit this node and every statically-configured peer into
		// membership before starting, since there is no external operator
		// issuing add commands for the initial cluster shape.
		for id := range cfg.PeerAddresses() {
			dynamicMembership.Apply(membership.AddCommand(id))
		}
		dynamicMembership.RegisterTransport(&selfPeer{id: cfg.Node.ID, server: server})
		dynamicMembership.Apply(membership.AddCommand(cfg.Node.ID))
	}

	server.Start()
	defer server.Shutdown()

	handler := httpraft.NewHandler(server, decode)
	mux := http.NewServeMux()
	handler.RegisterHandlers(mux)

	httpServer := &http.Server{Addr: cfg.Node.Address, Handler: mux}
	go func() {
		log.WithField("addr", cfg.Node.Address).Info("listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	_ = httpServer.Close()
}

func decodeCommand(identifier string, payload []byte) (raft.Command, error) {
	switch identifier {
	case kv.Identifier:
		return kv.DecodeSetCommand(identifier, payload)
	case membership.Identifier:
		return membership.DecodeChangeCommand(identifier, payload)
	default:
		return nil, fmt.Errorf("raftd: unknown command identifier %q", identifier)
	}
}

// selfPeer lets membership (static or dynamic) hold this node's own entry
// without going over HTTP to talk to itself.
type selfPeer struct {
	id     uint64
	server *raft.Server
}

func (p *selfPeer) ID() uint64 { return p.id }
func (p *selfPeer) Start()     {}
func (p *selfPeer) Shutdown()  {}
func (p *selfPeer) Invoke(msg raft.Message) {
	p.server.Invoke(msg)
}
func (p *selfPeer) Send(cmd raft.Command, listener raft.CommandResultListener) {
	p.server.Send(cmd, listener)
}
