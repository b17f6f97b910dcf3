package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/piggy-diary/piggy/internal/agent"
	"github.com/piggy-diary/piggy/internal/llm"
	"github.com/piggy-diary/piggy/internal/metrics"
	"github.com/piggy-diary/piggy/internal/trail"
)

const (
	errMessagesRequired = "messages is required"
	errGenerateReply    = "Failed to generate reply"
)

// ChatMessage is one turn of client-supplied history.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
}

// toLLM converts client history. Only user and assistant turns are
// accepted; tool and system turns are produced server-side.
func (r ChatRequest) toLLM() ([]llm.Message, error) {
	msgs := make([]llm.Message, 0, len(r.Messages))
	for i, m := range r.Messages {
		role := strings.ToLower(strings.TrimSpace(m.Role))
		switch role {
		case llm.RoleUser, llm.RoleAssistant:
		default:
			return nil, fmt.Errorf("messages[%d]: unsupported role %q", i, m.Role)
		}
		msgs = append(msgs, llm.Message{Role: role, Content: m.Content})
	}
	return msgs, nil
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.logger.Debug("invalid chat request body", "error", err)
		s.badChat(w, errMessagesRequired)
		return
	}
	if len(req.Messages) == 0 {
		s.badChat(w, errMessagesRequired)
		return
	}
	msgs, err := req.toLLM()
	if err != nil {
		s.badChat(w, err.Error())
		return
	}

	requestID := agent.NewRequestID()
	log := s.logger.With("request_id", requestID)
	tr := trail.New(trail.DefaultCapacity, log)
	ctx := trail.WithTrail(r.Context(), tr)

	res, err := s.chat.Run(ctx, &agent.Request{Messages: msgs, RequestID: requestID})
	if err != nil {
		log.Error("chat request failed", "error", err)
		metrics.ChatRequestsTotal.WithLabelValues("error").Inc()
		s.errorResponse(w, http.StatusInternalServerError, errGenerateReply)
		return
	}
	metrics.ChatRequestsTotal.WithLabelValues("ok").Inc()

	if req.Stream {
		s.emitStream(w, tr.Lines(), res.Reply, res.NeedsRefresh)
		return
	}
	s.emitJSON(w, ChatReply{
		Reply:        res.Reply,
		SystemPrompt: res.SystemPrompt,
		NeedsRefresh: res.NeedsRefresh,
	})
}

func (s *Server) badChat(w http.ResponseWriter, message string) {
	metrics.ChatRequestsTotal.WithLabelValues("bad_request").Inc()
	s.errorResponse(w, http.StatusBadRequest, message)
}
