package web

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/vbonduro/treetag/internal/auth"
	"github.com/vbonduro/treetag/internal/domain"
	"github.com/vbonduro/treetag/internal/photostore"
	"github.com/vbonduro/treetag/internal/service"
)

type treeListResponse struct {
	Trees []*domain.Tree `json:"trees"`
}

func parseID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

// requireUser writes a 401 when the request carries no valid token.
func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) (*domain.User, bool) {
	user := auth.UserFrom(r.Context())
	if user == nil {
		s.writeError(w, r, service.ErrUnauthenticated, "")
		return nil, false
	}
	return user, true
}

func (s *Server) handleListTrees(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	trees, err := s.trees.ListTrees(r.Context(), user.ID)
	if err != nil {
		s.writeError(w, r, err, "failed to list trees")
		return
	}
	if trees == nil {
		trees = []*domain.Tree{}
	}
	writeJSON(w, http.StatusOK, treeListResponse{Trees: trees})
}

// handleGetTree returns a tree to its owner or to a validator. Other users
// get a 404 so record ids are not revealed.
func (s *Server) handleGetTree(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	id, err := parseID(r)
	if err != nil {
		badRequest(w, "invalid tree id")
		return
	}
	tree, err := s.trees.GetTree(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err, "failed to get tree")
		return
	}
	if tree == nil || (tree.UserID != user.ID && !user.Validator) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "tree not found"})
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

func (s *Server) handleValidateTree(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	if !user.Validator {
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "validator role required"})
		return
	}
	id, err := parseID(r)
	if err != nil {
		badRequest(w, "invalid tree id")
		return
	}
	tree, err := s.trees.ValidateTree(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err, "failed to validate tree")
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

func (s *Server) handleGetPhoto(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	reader, mimeType, err := s.photos.Get(r.Context(), key)
	if errors.Is(err, photostore.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.writeError(w, r, err, "failed to get photo")
		return
	}
	defer closeWithLog(reader, "photo reader", s.logger)

	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Cache-Control", "public, max-age=86400, immutable")
	if _, err := io.Copy(w, reader); err != nil {
		s.logger.Error("write photo failed", "storage_key", key, "error", err)
	}
}
