package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/flow"
	"github.com/BTreeMap/LeadPipe/internal/messaging"
	"github.com/BTreeMap/LeadPipe/internal/models"
)

// inboundRequest is the body of POST /inbound.
type inboundRequest struct {
	From      string `json:"from"`
	Body      string `json:"body"`
	MessageID string `json:"message_id,omitempty"`
	Time      int64  `json:"time,omitempty"`
}

// inboundHandler runs a generic webhook delivery through the coordinator and
// returns the reply synchronously.
func (s *Server) inboundHandler(w http.ResponseWriter, r *http.Request) {
	var req inboundRequest
	if err := decodeJSON(w, r, &req); err != nil {
		slog.Warn("Server.inboundHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	msg := models.InboundMessage{From: req.From, Body: req.Body, MessageID: req.MessageID, Time: req.Time}
	if msg.Time == 0 {
		msg.Time = time.Now().Unix()
	}

	var (
		res flow.InboundResult
		err error
	)
	if s.router != nil {
		res, err = s.router.Process(r.Context(), msg)
	} else {
		res, err = s.coord.HandleInbound(r.Context(), msg)
	}
	switch {
	case errors.Is(err, messaging.ErrDuplicateInbound):
		writeJSONResponse(w, http.StatusOK, models.RecordedWithMessage("Duplicate message ignored", nil))
		return
	case errors.Is(err, flow.ErrMalformedInbound):
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required fields: from, body"))
		return
	case err != nil:
		slog.Error("Server.inboundHandler: handling failed", "from", req.From, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process message"))
		return
	}

	if res.Reply == "" {
		writeJSONResponse(w, http.StatusOK, models.RecordedWithMessage("Message recorded", res))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(res))
}

// agentSendHandler handles POST /agent/send. Delivery failures are reported
// in the result, not as an HTTP error.
func (s *Server) agentSendHandler(w http.ResponseWriter, r *http.Request) {
	var req models.AgentMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if _, err := s.msgService.ValidateAndCanonicalizeRecipient(req.To); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	res, err := s.coord.HandleAgentOverride(r.Context(), req.To, req.Body)
	if err != nil {
		slog.Error("Server.agentSendHandler: override failed", "to", req.To, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to record agent message"))
		return
	}
	if !res.Delivered {
		writeJSONResponse(w, http.StatusOK, models.RecordedWithMessage("Handoff active; delivery failed", res))
		return
	}
	slog.Info("Server.agentSendHandler: agent message sent", "senderID", res.SenderID)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Message sent; handoff active", res))
}

// agentResumeHandler handles POST /agent/resume.
func (s *Server) agentResumeHandler(w http.ResponseWriter, r *http.Request) {
	var req models.ResumeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	conv, err := s.coord.ResumeBot(r.Context(), req.To)
	if err != nil {
		if errors.Is(err, models.ErrEmptyRecipient) {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		slog.Error("Server.agentResumeHandler: resume failed", "to", req.To, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to resume bot"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Bot resumed", conv))
}

func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	view, err := s.coord.GetHistory(r.Context(), r.PathValue("sender"))
	if err != nil {
		slog.Error("Server.historyHandler: read failed", "sender", r.PathValue("sender"), "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read history"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(view))
}

func (s *Server) conversationHandler(w http.ResponseWriter, r *http.Request) {
	conv, err := s.coord.GetConversation(r.Context(), r.PathValue("sender"))
	if err != nil {
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read conversation"))
		return
	}
	if conv == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(conv))
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := s.coord.Status(r.Context())
	if err != nil {
		slog.Error("Server.statusHandler: failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to compute status"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(stats))
}

// listTimersHandler handles GET /timers
func (s *Server) listTimersHandler(w http.ResponseWriter, r *http.Request) {
	timers := s.activeTimers()
	if timers == nil {
		timers = []models.TimerInfo{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"timers": timers,
		"count":  len(timers),
	}))
}

// getTimerHandler handles GET /timers/{id}
func (s *Server) getTimerHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	for _, info := range s.activeTimers() {
		if info.ID == id {
			writeJSONResponse(w, http.StatusOK, models.Success(info))
			return
		}
	}
	writeJSONResponse(w, http.StatusNotFound, models.Error("Timer not found"))
}

// cancelTimerHandler handles DELETE /timers/{id}
func (s *Server) cancelTimerHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	t := s.coord.Timer()
	if t == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Timer not found"))
		return
	}
	if err := t.Cancel(id); err != nil {
		slog.Warn("Server.cancelTimerHandler: cancel failed", "timerID", id, "error", err)
		writeJSONResponse(w, http.StatusNotFound, models.Error("Timer not found: "+err.Error()))
		return
	}
	slog.Info("Server.cancelTimerHandler: timer cancelled", "timerID", id)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Timer cancelled", map[string]interface{}{
		"timer_id": id,
		"canceled": true,
	}))
}

func (s *Server) activeTimers() []models.TimerInfo {
	if t := s.coord.Timer(); t != nil {
		return t.ListActive()
	}
	return nil
}

// healthHandler reports liveness plus the state counts.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), DefaultHealthTimeout)
	defer cancel()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
	}
	statusCode := http.StatusOK
	if stats, err := s.coord.Status(ctx); err != nil {
		slog.Warn("Server.healthHandler: status read failed", "error", err)
		health["status"] = "degraded"
		health["error"] = "Failed to read state counts"
		statusCode = http.StatusServiceUnavailable
	} else {
		health["stats"] = stats
	}
	writeJSONResponse(w, statusCode, health)
}
