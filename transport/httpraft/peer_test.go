package httpraft

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/concord-raft/raft/raft"
)

func TestPeer_InvokePostsToRPCEndpoint(t *testing.T) {
	var gotPath string
	var gotBody WireMessage

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	p := NewPeer(2, strings.TrimPrefix(srv.URL, "http://"))
	p.Invoke(raft.Message{SenderID: 1, Term: 3, Kind: raft.KindVoteRequest, LastLogIndex: 9})

	require.Equal(t, "/rpc", gotPath)
	require.Equal(t, uint64(1), gotBody.SenderID)
	require.Equal(t, uint64(3), gotBody.Term)
	require.Equal(t, uint64(9), gotBody.LastLogIndex)
}

func TestPeer_SendReportsFailureOnBadResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(struct {
			Applied bool `json:"applied"`
		}{Applied: false})
	}))
	defer srv.Close()

	p := NewPeer(2, strings.TrimPrefix(srv.URL, "http://"))
	listener := &stubListener{}
	p.Send(stubBinaryCommand{}, listener)

	require.True(t, listener.failed)
}

type stubBinaryCommand struct{}

func (stubBinaryCommand) Identifier() string            { return "stub" }
func (stubBinaryCommand) MarshalBinary() ([]byte, error) { return []byte("payload"), nil }

type stubListener struct {
	failed  bool
	applied bool
	err     error
}

func (l *stubListener) CommandApplied()         { l.applied = true }
func (l *stubListener) CommandFailed(err error) { l.failed = true; l.err = err }
