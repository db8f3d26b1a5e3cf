package oracle

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"

	"github.com/mantlenetworkio/teleport/op-service/httputil"
	oplog "github.com/mantlenetworkio/teleport/op-service/log"
	opmetrics "github.com/mantlenetworkio/teleport/op-service/metrics"
)

// QueryTypeTeleport is the only supported value of the type query parameter.
const QueryTypeTeleport = "teleport"

// queries carry no body and a single short query string
const maxHeaderBytes = 8 << 10

// AttestationSource looks up the attestations of every oracle for an initiation event.
type AttestationSource interface {
	Attestations(ctx context.Context, ref common.Hash) ([]Attestation, error)
}

// Server answers attestation queries over HTTP: GET /?type=teleport&index=<event ref>
// returns a JSON array with one attestation per oracle that signed the event.
type Server struct {
	log     log.Logger
	source  AttestationSource
	handler http.Handler

	srv *httputil.HTTPServer
}

func NewServer(logger log.Logger, rec opmetrics.HTTPRecorder, source AttestationSource) *Server {
	s := &Server{log: logger, source: source}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleQuery)
	s.handler = opmetrics.NewHTTPRecordingMiddleware(rec, oplog.NewLoggingMiddleware(logger, mux))
	return s
}

// Handler is the HTTP handler of the server, with logging and metrics.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) Start(addr string) error {
	srv, err := httputil.StartHTTPServer(addr, s.handler,
		httputil.WithHTTPOptions(httputil.WithMaxHeaderBytes(maxHeaderBytes)))
	if err != nil {
		return err
	}
	s.srv = srv
	s.log.Info("Started oracle server", "endpoint", srv.HTTPEndpoint())
	return nil
}

func (s *Server) Endpoint() string {
	if s.srv == nil {
		return ""
	}
	return s.srv.HTTPEndpoint()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Stop(ctx)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	if typ := q.Get("type"); typ != QueryTypeTeleport {
		http.Error(w, "unsupported query type", http.StatusBadRequest)
		return
	}
	raw, err := hexutil.Decode(q.Get("index"))
	if err != nil || len(raw) != common.HashLength {
		http.Error(w, "index must be a 32 byte hex reference", http.StatusBadRequest)
		return
	}
	atts, err := s.source.Attestations(r.Context(), common.BytesToHash(raw))
	if err != nil {
		s.log.Error("Failed to look up attestations", "index", q.Get("index"), "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(atts); err != nil {
		s.log.Warn("Failed to write attestations", "err", err)
	}
}
