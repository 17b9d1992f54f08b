package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/vbonduro/treetag/internal/auth"
	"github.com/vbonduro/treetag/internal/domain"
	"github.com/vbonduro/treetag/internal/form"
	"github.com/vbonduro/treetag/internal/metrics"
	"github.com/vbonduro/treetag/internal/service"
	"github.com/vbonduro/treetag/internal/session"
	"github.com/vbonduro/treetag/internal/species"
)

type fieldRequest struct {
	Value json.RawMessage `json:"value"`
}

type resetRequest struct {
	Confirm bool `json:"confirm"`
}

type resetResponse struct {
	Reset   bool         `json:"reset"`
	Session session.View `json:"session"`
}

type submitResponse struct {
	Tree    *domain.Tree `json:"tree"`
	Session session.View `json:"session"`
}

// lookupSession resolves the {id} path value, writing a 404 when it is unknown.
func (s *Server) lookupSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err, "failed to get session")
		return nil, false
	}
	return sess, true
}

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Open()
	writeJSON(w, http.StatusCreated, sess.View())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Close(r.PathValue("id")); err != nil {
		s.writeError(w, r, err, "failed to close session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetField(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	field, err := form.ParseField(r.PathValue("field"))
	if err != nil {
		s.writeError(w, r, err, "")
		return
	}

	var req fieldRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	value, err := s.decodeFieldValue(field, req.Value)
	if err != nil {
		s.writeError(w, r, err, "")
		return
	}
	if err := sess.SetField(field, value); err != nil {
		s.writeError(w, r, err, "failed to set field")
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

// decodeFieldValue turns a JSON value into the Go type form.Controller
// expects for field. JSON null clears optional fields.
func (s *Server) decodeFieldValue(field form.Field, raw json.RawMessage) (any, error) {
	isNull := len(raw) == 0 || string(raw) == "null"
	typeErr := func(err error) error {
		return fmt.Errorf("%w %s: %v", form.ErrFieldType, field, err)
	}

	switch field {
	case form.FieldPhoto:
		if isNull {
			return nil, nil
		}
		var photo domain.Photo
		if err := json.Unmarshal(raw, &photo); err != nil {
			return nil, typeErr(err)
		}
		return photo, nil
	case form.FieldCoords:
		if isNull {
			return nil, nil
		}
		var coords domain.Coordinates
		if err := json.Unmarshal(raw, &coords); err != nil {
			return nil, typeErr(err)
		}
		return coords, nil
	case form.FieldSpecies:
		if isNull {
			return nil, nil
		}
		var ref struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(raw, &ref); err != nil {
			return nil, typeErr(err)
		}
		entry, ok := s.catalog.Find(ref.ID)
		if !ok {
			return nil, fmt.Errorf("%w: %q", species.ErrUnknownSpecies, ref.ID)
		}
		return entry, nil
	case form.FieldTreeType:
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return nil, typeErr(err)
		}
		treeType, err := domain.ParseTreeType(str)
		if err != nil {
			return nil, typeErr(err)
		}
		return treeType, nil
	case form.FieldLandUseCategory:
		if isNull {
			return nil, nil
		}
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return nil, typeErr(err)
		}
		category, err := domain.ParseLandUseCategory(str)
		if err != nil {
			return nil, typeErr(err)
		}
		return category, nil
	default:
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return nil, typeErr(err)
		}
		return str, nil
	}
}

func (s *Server) handleTouchField(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	field, err := form.ParseField(r.PathValue("field"))
	if err != nil {
		s.writeError(w, r, err, "")
		return
	}
	if err := sess.MarkTouched(field); err != nil {
		s.writeError(w, r, err, "failed to touch field")
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

// handleReset answers the confirmation prompt with the client's "confirm"
// flag. A declined reset leaves the form as it was.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	var req resetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	reset, err := sess.Reset(func(string) bool { return req.Confirm })
	if err != nil {
		s.writeError(w, r, err, "failed to reset form")
		return
	}
	writeJSON(w, http.StatusOK, resetResponse{Reset: reset, Session: sess.View()})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	user := auth.UserFrom(r.Context())

	// Use a detached context so that an upload in flight completes even if
	// the client goes away.
	tree, err := sess.Submit(context.WithoutCancel(r.Context()), user)
	switch {
	case err == nil:
		s.metrics.Submission(metrics.OutcomeSuccess)
		writeJSON(w, http.StatusCreated, submitResponse{Tree: tree, Session: sess.View()})
	case errors.Is(err, form.ErrInvalid):
		s.metrics.Submission(metrics.OutcomeInvalid)
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error:  err.Error(),
			Fields: sess.View().Form.Errors,
		})
	case errors.Is(err, service.ErrInvalidFormValues):
		s.metrics.Submission(metrics.OutcomeInvalid)
		s.writeError(w, r, err, "")
	case errors.Is(err, service.ErrUnauthenticated):
		s.metrics.Submission(metrics.OutcomeUnauthorized)
		s.writeError(w, r, err, "")
	case errors.Is(err, form.ErrSubmitting), errors.Is(err, session.ErrPickerOpen):
		s.metrics.Submission(metrics.OutcomeRejected)
		s.writeError(w, r, err, "")
	default:
		s.metrics.Submission(metrics.OutcomeFailed)
		s.writeError(w, r, err, "failed to submit tree")
	}
}
