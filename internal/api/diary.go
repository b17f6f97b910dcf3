package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/piggy-diary/piggy/internal/diary"
	"github.com/piggy-diary/piggy/internal/events"
)

// SaveMoodRequest is the body of POST /api/moods.
type SaveMoodRequest struct {
	Mood      string `json:"mood"`
	Intensity int    `json:"intensity,omitempty"`
	Note      string `json:"note,omitempty"`
	Date      string `json:"date,omitempty"`
}

func (s *Server) handleListMoods(w http.ResponseWriter, r *http.Request) {
	if s.diary == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "diary not configured")
		return
	}
	moods, err := s.diary.ListMoods(r.Context(), parseIntParam(r, "limit", 30), r.URL.Query().Get("date"))
	if err != nil {
		s.diaryError(w, "list moods", err)
		return
	}
	if moods == nil {
		moods = []diary.Mood{}
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"moods": moods}, s.logger)
}

func (s *Server) handleSaveMood(w http.ResponseWriter, r *http.Request) {
	if s.diary == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "diary not configured")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req SaveMoodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	mood, created, err := s.diary.LogMood(r.Context(), diary.MoodInput{
		Mood:      req.Mood,
		Intensity: req.Intensity,
		Note:      req.Note,
		Date:      req.Date,
	})
	if err != nil {
		s.diaryError(w, "save mood", err)
		return
	}

	kind := events.KindMoodUpdated
	status := http.StatusOK
	if created {
		kind = events.KindMoodLogged
		status = http.StatusCreated
	}
	s.bus.Emit(events.SourceDiary, kind, map[string]any{
		"id":        mood.ID,
		"mood":      mood.Mood,
		"intensity": mood.Intensity,
		"date_key":  mood.DateKey,
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	writeJSON(w, mood, s.logger)
}

func (s *Server) handleListPeriods(w http.ResponseWriter, r *http.Request) {
	if s.diary == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "diary not configured")
		return
	}
	periods, err := s.diary.ListPeriods(r.Context(), parseIntParam(r, "limit", 12))
	if err != nil {
		s.diaryError(w, "list periods", err)
		return
	}
	if periods == nil {
		periods = []diary.Period{}
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"periods": periods}, s.logger)
}

// diaryError maps validation failures to 400 and hides everything else.
func (s *Server) diaryError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, diary.ErrInvalid) {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Error("diary request failed", "op", op, "error", err)
	s.errorResponse(w, http.StatusInternalServerError, "internal error")
}
