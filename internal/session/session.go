package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/vbonduro/treetag/internal/domain"
	"github.com/vbonduro/treetag/internal/form"
	"github.com/vbonduro/treetag/internal/species"
)

// ErrPickerOpen is returned for form edits while the species picker covers
// the form.
var ErrPickerOpen = errors.New("species picker is open")

// Session is one open add-tree screen: a form and the species picker that
// reports into it.
type Session struct {
	ID string

	mu     sync.Mutex
	form   *form.Controller
	picker *species.Picker
	closed atomic.Bool
}

func newSession(id string, catalog *species.Catalog, submitter form.Submitter, logger *slog.Logger) *Session {
	ctrl := form.NewController(submitter, logger.With("session_id", id))
	return &Session{
		ID:     id,
		form:   ctrl,
		picker: species.NewPicker(catalog, ctrl.SelectSpecies),
	}
}

// PickerView is the externally visible picker state.
type PickerView struct {
	State   string           `json:"state"`
	Query   string           `json:"query"`
	Results []domain.Species `json:"results,omitempty"`
}

// View is a snapshot of the whole screen.
type View struct {
	ID     string        `json:"id"`
	Form   form.Snapshot `json:"form"`
	Picker PickerView    `json:"picker"`
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return View{
		ID:     s.ID,
		Form:   s.form.Snapshot(),
		Picker: s.pickerView(),
	}
}

// pickerView lists results only while the picker is open. Callers hold mu.
func (s *Session) pickerView() PickerView {
	v := PickerView{State: s.picker.State().String(), Query: s.picker.Query()}
	if s.picker.State() == species.Open {
		v.Results = s.picker.Results()
	}
	return v
}

// Form exposes the controller for read-only callers.
func (s *Session) Form() *form.Controller {
	return s.form
}

func (s *Session) SetField(field form.Field, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.picker.State() == species.Open {
		return ErrPickerOpen
	}
	return s.form.SetField(field, value)
}

func (s *Session) MarkTouched(field form.Field) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.picker.State() == species.Open {
		return ErrPickerOpen
	}
	return s.form.MarkTouched(field)
}

func (s *Session) ApplyCapture(capture form.Capture) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.picker.State() == species.Open {
		return ErrPickerOpen
	}
	s.form.ApplyCapture(capture)
	return nil
}

func (s *Session) Reset(confirm form.ConfirmFunc) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.picker.State() == species.Open {
		return false, ErrPickerOpen
	}
	return s.form.Reset(confirm)
}

// Submit runs outside the session lock so that a second submit reaches the
// controller and is rejected with form.ErrSubmitting instead of waiting.
func (s *Session) Submit(ctx context.Context, user *domain.User) (*domain.Tree, error) {
	s.mu.Lock()
	open := s.picker.State() == species.Open
	s.mu.Unlock()
	if open {
		return nil, ErrPickerOpen
	}
	return s.form.Submit(ctx, user)
}

// OpenPicker shows the picker and touches the species field.
func (s *Session) OpenPicker() PickerView {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.picker.Open()
	// Species is always a known field.
	_ = s.form.MarkTouched(form.FieldSpecies)
	return s.pickerView()
}

func (s *Session) SetQuery(query string) (PickerView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.picker.SetQuery(query); err != nil {
		return PickerView{}, err
	}
	return s.pickerView(), nil
}

// SelectSpecies picks the entry with id, or clears the species when id is nil.
func (s *Session) SelectSpecies(id *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == nil {
		return s.picker.Select(nil)
	}
	return s.picker.SelectID(*id)
}

func (s *Session) DismissPicker() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.picker.Dismiss()
}

func (s *Session) PickerOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.picker.State() == species.Open
}
