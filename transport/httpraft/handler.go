package httpraft

import (
	"encoding/json"
	"net/http"

	"github.com/concord-raft/raft/raft"
)

// Handler exposes a local *raft.Server over HTTP: /rpc accepts any
// WireMessage and hands it to Invoke, /command accepts a client command
// and hands it to Send, /health reports liveness.
type Handler struct {
	server *raft.Server
	decode raft.CommandDecoder
}

// NewHandler wraps server. decode must know how to rebuild every command
// identifier the cluster's state machines register.
func NewHandler(server *raft.Server, decode raft.CommandDecoder) *Handler {
	return &Handler{server: server, decode: decode}
}

func (h *Handler) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/rpc", h.handleRPC)
	mux.HandleFunc("/command", h.handleCommand)
	mux.HandleFunc("/health", h.handleHealth)
}

func (h *Handler) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var wire WireMessage
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	msg, err := decodeMessage(wire, h.decode)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.server.Invoke(msg)
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var wire WireCommand
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	cmd, err := h.decode(wire.Identifier, wire.Payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	listener, done := raft.NewOneShotListener()
	h.server.Send(cmd, listener)
	<-done

	w.Header().Set("Content-Type", "application/json")
	if !listener.Succeeded() {
		w.WriteHeader(http.StatusConflict)
	}
	_ = json.NewEncoder(w).Encode(struct {
		Applied bool `json:"applied"`
	}{Applied: listener.Succeeded()})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	role, term := h.server.Role()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		ID   uint64 `json:"id"`
		Role string `json:"role"`
		Term uint64 `json:"term"`
	}{ID: h.server.ID(), Role: role.String(), Term: term})
}
