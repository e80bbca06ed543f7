package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/petnestiq/habitat-gateway/internal/gateway"
)

// stateResponse is the body of GET /gateway/state.
type stateResponse struct {
	Connection gateway.ConnectionState `json:"connection"`
	Properties gateway.Properties      `json:"properties"`
}

// debugResponse is the body of GET /gateway/debug.
type debugResponse struct {
	Entries      []gateway.DebugEntry `json:"entries"`
	LastReceived *gateway.RawMessage  `json:"last_received,omitempty"`
	LastSent     *gateway.RawMessage  `json:"last_sent,omitempty"`
}

// decodeBody decodes an optional JSON body into v. It reports false
// when the body was empty.
func decodeBody(r *http.Request, v any) (bool, error) {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Server) handleGetConnection(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.gw.Connection())
}

// handleConnect starts a session. The body overrides the configured
// connection settings; an empty body uses them as they are.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	cfg := s.deps.Default
	if _, err := decodeBody(r, &cfg); err != nil {
		writeBadRequest(w, "invalid connection settings: "+err.Error())
		return
	}
	if err := s.gw.Connect(cfg); err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.gw.Connection())
}

func (s *Server) handleDisconnect(w http.ResponseWriter, _ *http.Request) {
	s.gw.Disconnect()
	writeJSON(w, http.StatusOK, s.gw.Connection())
}

func (s *Server) handleGetState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, stateResponse{
		Connection: s.gw.State(),
		Properties: s.gw.Store().Snapshot(),
	})
}

func (s *Server) handleGetShadow(w http.ResponseWriter, _ *http.Request) {
	if err := s.gw.GetShadow(); err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "requested"})
}

// handleSendCommand blocks until the device answers, the command times
// out or the client goes away.
func (s *Server) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	var cmd gateway.BatchCommand
	if _, err := decodeBody(r, &cmd); err != nil {
		writeBadRequest(w, "invalid command: "+err.Error())
		return
	}

	res, err := s.gw.Send(r.Context(), cmd)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleReportStatus(w http.ResponseWriter, r *http.Request) {
	var cmd gateway.BatchCommand
	if _, err := decodeBody(r, &cmd); err != nil {
		writeBadRequest(w, "invalid report: "+err.Error())
		return
	}

	done := make(chan error, 1)
	s.gw.ReportControlStatus(cmd, func(err error) { done <- err })

	select {
	case err := <-done:
		if err != nil {
			writeGatewayError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "published"})
	case <-r.Context().Done():
		writeGatewayError(w, r.Context().Err())
	}
}

func (s *Server) handleGetDebug(w http.ResponseWriter, _ *http.Request) {
	d := s.gw.Debug()
	writeJSON(w, http.StatusOK, debugResponse{
		Entries:      d.Entries(),
		LastReceived: d.LastReceived(),
		LastSent:     d.LastSent(),
	})
}

func (s *Server) handleClearDebug(w http.ResponseWriter, _ *http.Request) {
	s.gw.Debug().Clear()
	w.WriteHeader(http.StatusNoContent)
}
