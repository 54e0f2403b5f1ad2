package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-grow/internal/command"
)

// defaultCommandTimeout applies when the engine config leaves it unset.
const defaultCommandTimeout = 120 * time.Second

type dispatchRequest struct {
	command.DispatchInput

	// Send delivers the command right after recording it. Defaults to true.
	Send *bool `json:"send,omitempty"`
}

type dispatchResponse struct {
	Command *command.Command `json:"command"`
	Created bool             `json:"created"`
}

type sweepRequest struct {
	OlderThanSeconds int `json:"older_than_seconds"`
}

type acksResponse struct {
	Acks      []command.Ack `json:"acks"`
	Count     int           `json:"count"`
	Latest    *command.Ack  `json:"latest"`
	Confirmed bool          `json:"confirmed"`
}

// handleListCommands lists commands, newest first.
//
// GET /commands?zone_id=zone-a&status=SENT&limit=50
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	q := r.URL.Query()
	cmds, err := s.commands.List(r.Context(), actor(r), command.Filter{
		ZoneID: q.Get("zone_id"),
		Status: command.Status(q.Get("status")),
		Limit:  limit,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if cmds == nil {
		cmds = []command.Command{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"commands": cmds, "count": len(cmds)})
}

// handleDispatchCommand records a command and, unless send is false,
// delivers it. A repeated cmd_id returns the existing command with 200.
//
// POST /commands
func (s *Server) handleDispatchCommand(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller := actor(r)
	c, created, err := s.commands.Dispatch(r.Context(), caller, req.DispatchInput)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if created && (req.Send == nil || *req.Send) {
		c, err = s.commands.Send(r.Context(), caller, c.CmdID)
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, dispatchResponse{Command: c, Created: created})
}

// GET /commands/{cmdID}
func (s *Server) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	c, err := s.commands.Get(r.Context(), actor(r), chi.URLParam(r, "cmdID"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleSendCommand delivers a QUEUED command.
//
// POST /commands/{cmdID}/send
func (s *Server) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	c, err := s.commands.Send(r.Context(), actor(r), chi.URLParam(r, "cmdID"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleListAcks returns a command's acknowledgements with the latest one
// and whether it confirms execution.
//
// GET /commands/{cmdID}/acks
func (s *Server) handleListAcks(w http.ResponseWriter, r *http.Request) {
	cmdID := chi.URLParam(r, "cmdID")
	acks, err := s.commands.ListAcks(r.Context(), actor(r), cmdID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if acks == nil {
		acks = []command.Ack{}
	}
	resp := acksResponse{Acks: acks, Count: len(acks)}
	if len(acks) > 0 {
		latest := acks[len(acks)-1]
		resp.Latest = &latest
		resp.Confirmed = latest.AckType.Confirms()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRecordAck appends an acknowledgement. The command status is not changed.
//
// POST /commands/{cmdID}/acks
func (s *Server) handleRecordAck(w http.ResponseWriter, r *http.Request) {
	var in command.AckInput
	if !decodeBody(w, r, &in) {
		return
	}
	ack, err := s.commands.RecordAck(r.Context(), actor(r), chi.URLParam(r, "cmdID"), in)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ack)
}

// handleUpdateCommandStatus applies an explicit status write.
//
// POST /commands/{cmdID}/status
func (s *Server) handleUpdateCommandStatus(w http.ResponseWriter, r *http.Request) {
	var upd command.StatusUpdate
	if !decodeBody(w, r, &upd) {
		return
	}
	c, err := s.commands.UpdateStatus(r.Context(), actor(r), chi.URLParam(r, "cmdID"), upd)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleSweepTimeouts times out stale SENT and ACCEPTED commands.
// older_than_seconds defaults to the engine's command timeout.
//
// POST /commands/sweep-timeouts
func (s *Server) handleSweepTimeouts(w http.ResponseWriter, r *http.Request) {
	var req sweepRequest
	if !decodeBody(w, r, &req) {
		return
	}
	olderThan := time.Duration(req.OlderThanSeconds) * time.Second
	if req.OlderThanSeconds == 0 {
		olderThan = time.Duration(s.engineCfg.CommandTimeout) * time.Second
		if olderThan <= 0 {
			olderThan = defaultCommandTimeout
		}
	}
	swept, err := s.commands.SweepTimeouts(r.Context(), actor(r), olderThan)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if swept == nil {
		swept = []command.Command{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"timed_out": swept, "count": len(swept)})
}
