package form

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/vbonduro/treetag/internal/domain"
)

var (
	ErrUnknownField = errors.New("unknown field")
	ErrFieldType    = errors.New("wrong value type for field")
	ErrInvalid      = errors.New("form has errors")
	ErrSubmitting   = errors.New("submission already in progress")
)

// ResetPrompt is the question asked before a reset.
const ResetPrompt = "Are you sure?"

// Submitter persists a completed form on behalf of user.
type Submitter interface {
	SubmitTree(ctx context.Context, user *domain.User, values domain.FormValues) (*domain.Tree, error)
}

// ConfirmFunc asks the user a yes/no question and blocks until answered.
type ConfirmFunc func(prompt string) bool

// Controller owns the values, touched fields and submission state of one
// add-tree form.
type Controller struct {
	mu         sync.Mutex
	values     domain.FormValues
	touched    map[Field]bool
	submitting bool
	lastErr    error
	lastTree   *domain.Tree

	submitter Submitter
	logger    *slog.Logger
}

func NewController(submitter Submitter, logger *slog.Logger) *Controller {
	return &Controller{
		values:    Defaults(),
		touched:   make(map[Field]bool),
		submitter: submitter,
		logger:    logger,
	}
}

// Snapshot is a read-only view of the form. Errors holds only the errors of
// touched fields.
type Snapshot struct {
	Values     domain.FormValues `json:"values"`
	Touched    []Field           `json:"touched"`
	Errors     map[Field]string  `json:"errors"`
	Valid      bool              `json:"valid"`
	Submitting bool              `json:"submitting"`
	LastError  string            `json:"lastError,omitempty"`
	LastTree   *domain.Tree      `json:"lastTree,omitempty"`
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	touched := make([]Field, 0, len(c.touched))
	for f := range c.touched {
		touched = append(touched, f)
	}
	sort.Slice(touched, func(i, j int) bool { return touched[i] < touched[j] })

	snap := Snapshot{
		Values:     c.values.Clone(),
		Touched:    touched,
		Errors:     VisibleErrors(c.values, c.touched),
		Valid:      IsValid(c.values),
		Submitting: c.submitting,
		LastTree:   c.lastTree,
	}
	if c.lastErr != nil {
		snap.LastError = c.lastErr.Error()
	}
	return snap
}

func (c *Controller) Values() domain.FormValues {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values.Clone()
}

func (c *Controller) IsSubmitting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submitting
}

// SetField overwrites one field. It does not mark the field touched.
// Pointer fields accept nil to clear them.
func (c *Controller) SetField(field Field, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch field {
	case FieldPhoto:
		switch v := value.(type) {
		case nil:
			c.values.Photo = nil
		case domain.Photo:
			c.values.Photo = &v
		case *domain.Photo:
			c.values.Photo = clonePtr(v)
		default:
			return typeError(field, value)
		}
	case FieldCoords:
		switch v := value.(type) {
		case nil:
			c.values.Coords = nil
		case domain.Coordinates:
			c.values.Coords = &v
		case *domain.Coordinates:
			c.values.Coords = clonePtr(v)
		default:
			return typeError(field, value)
		}
	case FieldSpecies:
		switch v := value.(type) {
		case nil:
			c.values.Species = nil
		case domain.Species:
			c.values.Species = &v
		case *domain.Species:
			c.values.Species = clonePtr(v)
		default:
			return typeError(field, value)
		}
	case FieldTreeType:
		switch v := value.(type) {
		case domain.TreeType:
			if _, err := domain.ParseTreeType(string(v)); err != nil {
				return fmt.Errorf("%w: %v", ErrFieldType, err)
			}
			c.values.TreeType = v
		default:
			return typeError(field, value)
		}
	case FieldDBH:
		v, ok := value.(string)
		if !ok {
			return typeError(field, value)
		}
		c.values.DBH = v
	case FieldNotes:
		v, ok := value.(string)
		if !ok {
			return typeError(field, value)
		}
		c.values.Notes = v
	case FieldLandUseCategory:
		switch v := value.(type) {
		case nil:
			c.values.LandUseCategory = nil
		case domain.LandUseCategory:
			c.values.LandUseCategory = &v
		case *domain.LandUseCategory:
			c.values.LandUseCategory = clonePtr(v)
		default:
			return typeError(field, value)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	return nil
}

func typeError(field Field, value any) error {
	return fmt.Errorf("%w %s: %T", ErrFieldType, field, value)
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// SelectSpecies sets or, with nil, clears the species selection. It is the
// callback a species.Picker reports to.
func (c *Controller) SelectSpecies(s *domain.Species) {
	// *domain.Species is always accepted for the species field.
	_ = c.SetField(FieldSpecies, s)
}

// ApplyCapture stores the photo and the location it was taken at.
func (c *Controller) ApplyCapture(capture Capture) {
	c.mu.Lock()
	defer c.mu.Unlock()
	photo := capture.Picture
	coords := capture.Location
	c.values.Photo = &photo
	c.values.Coords = &coords
}

// MarkTouched records that the user has interacted with field. Repeated
// calls have no further effect.
func (c *Controller) MarkTouched(field Field) error {
	if _, err := ParseField(string(field)); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touched[field] = true
	return nil
}

// Reset restores the defaults and clears touched fields, but only after
// confirm answers yes. It reports whether the form was reset.
func (c *Controller) Reset(confirm ConfirmFunc) (bool, error) {
	if c.IsSubmitting() {
		return false, ErrSubmitting
	}
	if confirm == nil || !confirm(ResetPrompt) {
		return false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.submitting {
		return false, ErrSubmitting
	}
	c.values = Defaults()
	c.touched = make(map[Field]bool)
	c.lastErr = nil
	c.lastTree = nil
	return true, nil
}

// Submit hands the current values to the submitter. Every field is marked
// touched so that remaining errors become visible. Submit returns ErrInvalid
// without calling the submitter while the form has errors, and
// ErrSubmitting while another submission is still running.
func (c *Controller) Submit(ctx context.Context, user *domain.User) (tree *domain.Tree, err error) {
	c.mu.Lock()
	if c.submitting {
		c.mu.Unlock()
		return nil, ErrSubmitting
	}
	for _, f := range Fields {
		c.touched[f] = true
	}
	if !IsValid(c.values) {
		c.mu.Unlock()
		return nil, ErrInvalid
	}
	c.submitting = true
	c.lastErr = nil
	values := c.values.Clone()
	c.mu.Unlock()

	// The flag is cleared even if the submitter panics.
	defer func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.submitting = false
		if err != nil {
			c.lastErr = err
		} else {
			c.lastTree = tree
		}
	}()

	tree, err = c.submitter.SubmitTree(ctx, user, values)
	if err != nil {
		c.logger.Warn("tree submission failed", "error", err)
		return nil, err
	}
	if tree != nil {
		c.logger.Info("tree submitted", "tree_id", tree.ID)
	}
	return tree, nil
}
