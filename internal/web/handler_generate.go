package web

import (
	"net/http"
	"strings"

	"github.com/vbonduro/docustitch/internal/domain"
)

const (
	maxURLLen   = 2048
	maxNotesLen = 4000
)

// completedTrigger is sent with the status partial that first shows a result,
// so the page can scroll it into view.
const completedTrigger = "generation-completed"

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	sess, err := s.currentSession(w, r)
	if err != nil {
		s.serviceError(w, "load session", err)
		return
	}
	s.render(w, "base", newPageView(sess))
}

// readForm returns the trimmed url and notes fields, or false after writing
// a 400 when either is too long.
func readForm(w http.ResponseWriter, r *http.Request) (targetURL, notes string, ok bool) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "failed to parse form", http.StatusBadRequest)
		return "", "", false
	}
	targetURL = strings.TrimSpace(r.PostFormValue("url"))
	notes = r.PostFormValue("notes")
	if len(targetURL) > maxURLLen {
		http.Error(w, "url too long", http.StatusBadRequest)
		return "", "", false
	}
	if len(notes) > maxNotesLen {
		http.Error(w, "notes too long", http.StatusBadRequest)
		return "", "", false
	}
	return targetURL, notes, true
}

func (s *Server) handleUpdateForm(w http.ResponseWriter, r *http.Request) {
	sess, err := s.currentSession(w, r)
	if err != nil {
		s.serviceError(w, "load session", err)
		return
	}
	targetURL, notes, ok := readForm(w, r)
	if !ok {
		return
	}

	updated, err := s.service.UpdateForm(r.Context(), sess.ID, targetURL, notes)
	if err != nil {
		s.serviceError(w, "update form", err)
		return
	}
	s.render(w, "submit", newPageView(updated))
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	sess, err := s.currentSession(w, r)
	if err != nil {
		s.serviceError(w, "load session", err)
		return
	}
	targetURL, notes, ok := readForm(w, r)
	if !ok {
		return
	}

	// Start detaches the generation from the request so closing the tab
	// does not abort it.
	started, err := s.service.Start(r.Context(), sess.ID, targetURL, notes)
	if err != nil {
		s.serviceError(w, "start generation", err)
		return
	}
	s.render(w, "status_response", newPageView(started))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sess, err := s.currentSession(w, r)
	if err != nil {
		s.serviceError(w, "load session", err)
		return
	}
	if sess.State.Status == domain.StatusCompleted {
		w.Header().Set("HX-Trigger", completedTrigger)
	}
	s.render(w, "status_response", newPageView(sess))
}
