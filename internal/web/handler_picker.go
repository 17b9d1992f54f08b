package web

import (
	"errors"
	"net/http"

	"github.com/vbonduro/treetag/internal/domain"
	"github.com/vbonduro/treetag/internal/service"
)

type queryRequest struct {
	Query string `json:"query"`
}

type selectRequest struct {
	ID *string `json:"id"`
}

type speciesResponse struct {
	Query   string           `json:"query"`
	Results []domain.Species `json:"results"`
}

type suggestionsResponse struct {
	Suggestions []domain.Species `json:"suggestions"`
}

func (s *Server) handleOpenPicker(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.OpenPicker())
}

func (s *Server) handleSetQuery(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	var req queryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	view, err := sess.SetQuery(req.Query)
	if err != nil {
		s.writeError(w, r, err, "failed to search species")
		return
	}
	s.metrics.SpeciesSearch()
	writeJSON(w, http.StatusOK, view)
}

// handleSelectSpecies takes {"id": "..."} to choose an entry and
// {"id": null} to clear the species.
func (s *Server) handleSelectSpecies(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	var req selectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if err := sess.SelectSpecies(req.ID); err != nil {
		s.writeError(w, r, err, "failed to select species")
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

func (s *Server) handleDismissPicker(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	if err := sess.DismissPicker(); err != nil {
		s.writeError(w, r, err, "failed to dismiss picker")
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	photo := sess.Form().Values().Photo

	suggestions, err := s.trees.SuggestSpecies(r.Context(), photo)
	switch {
	case errors.Is(err, service.ErrIdentifyDisabled):
		s.metrics.Suggestion("disabled")
	case err != nil:
		s.metrics.Suggestion("error")
	case len(suggestions) == 0:
		s.metrics.Suggestion("empty")
	default:
		s.metrics.Suggestion("matched")
	}
	if err != nil {
		s.writeError(w, r, err, "failed to suggest species")
		return
	}
	writeJSON(w, http.StatusOK, suggestionsResponse{Suggestions: suggestions})
}

func (s *Server) handleSearchSpecies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	s.metrics.SpeciesSearch()
	writeJSON(w, http.StatusOK, speciesResponse{Query: q, Results: s.catalog.Filter(q)})
}
