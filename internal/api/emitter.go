package api

import (
	"errors"
	"io"
	"net/http"
	"strings"
)

// Stream framing. A streamed reply is zero or more diagnostic lines,
// each wrapped in LogOpen/LogClose, followed by the reply text, followed
// by RefreshSentinel when persisted state changed.
const (
	LogOpen         = "[LOG]"
	LogClose        = "[END_LOG]"
	RefreshSentinel = "\n\n[REFRESH_PAGE]"

	// RefreshHeader is set to "true" on JSON replies that changed state.
	RefreshHeader = "X-Refresh-Page"

	refreshLogLine = "数据库已更新，需要刷新页面"
)

// ChatReply is the non-streaming response body.
type ChatReply struct {
	Reply        string `json:"reply"`
	SystemPrompt string `json:"systemPrompt"`
	NeedsRefresh bool   `json:"needsRefresh,omitempty"`
}

// emitJSON writes reply as a single JSON object.
func (s *Server) emitJSON(w http.ResponseWriter, reply ChatReply) {
	w.Header().Set("Content-Type", "application/json")
	if reply.NeedsRefresh {
		w.Header().Set(RefreshHeader, "true")
	}
	writeJSON(w, reply, s.logger)
}

// emitStream writes the framed stream and flushes it once. The reply is
// complete before the first byte goes out.
func (s *Server) emitStream(w http.ResponseWriter, logs []string, reply string, needsRefresh bool) {
	h := w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Content-Type-Options", "nosniff")
	if needsRefresh {
		h.Set(RefreshHeader, "true")
	}
	w.WriteHeader(http.StatusOK)

	if needsRefresh {
		logs = append(logs, refreshLogLine)
	}
	if err := writeStream(w, logs, reply, needsRefresh); err != nil {
		s.logger.Debug("failed to write chat stream", "error", err)
		return
	}
	if err := http.NewResponseController(w).Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		s.logger.Debug("failed to flush chat stream", "error", err)
	}
}

func writeStream(w io.Writer, logs []string, reply string, needsRefresh bool) error {
	var b strings.Builder
	for _, line := range logs {
		b.WriteString(LogOpen)
		b.WriteString(sanitizeLogLine(line))
		b.WriteString(LogClose)
	}
	for _, chunk := range []string{b.String(), reply} {
		if chunk == "" {
			continue
		}
		if _, err := io.WriteString(w, chunk); err != nil {
			return err
		}
	}
	if needsRefresh {
		_, err := io.WriteString(w, RefreshSentinel)
		return err
	}
	return nil
}

// sanitizeLogLine keeps a diagnostic line from closing its own frame
// early.
func sanitizeLogLine(line string) string {
	return strings.ReplaceAll(line, LogClose, "[END LOG]")
}

// ParseStream splits a streamed chat body into its diagnostic lines, the
// reply text, and whether the refresh sentinel was present. An
// unterminated frame is treated as reply text.
func ParseStream(body string) (logs []string, reply string, refresh bool) {
	rest := body
	for strings.HasPrefix(rest, LogOpen) {
		end := strings.Index(rest, LogClose)
		if end < 0 {
			break
		}
		logs = append(logs, rest[len(LogOpen):end])
		rest = rest[end+len(LogClose):]
	}
	if strings.HasSuffix(rest, RefreshSentinel) {
		refresh = true
		rest = strings.TrimSuffix(rest, RefreshSentinel)
	}
	return logs, rest, refresh
}
