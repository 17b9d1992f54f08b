package species

import (
	"errors"

	"github.com/vbonduro/treetag/internal/domain"
)

type PickerState int

const (
	Closed PickerState = iota
	Open
)

func (s PickerState) String() string {
	if s == Open {
		return "open"
	}
	return "closed"
}

var (
	ErrPickerClosed   = errors.New("species picker is closed")
	ErrUnknownSpecies = errors.New("unknown species")
)

// Picker lets a user choose one catalog entry through an incremental search.
// While open it blocks the rest of the form. Every selection, including a
// nil one, is reported through onSelect.
type Picker struct {
	catalog  *Catalog
	state    PickerState
	query    string
	onSelect func(*domain.Species)
}

func NewPicker(catalog *Catalog, onSelect func(*domain.Species)) *Picker {
	return &Picker{catalog: catalog, onSelect: onSelect}
}

func (p *Picker) State() PickerState {
	return p.state
}

func (p *Picker) Query() string {
	return p.query
}

// Open shows the picker. Opening an open picker is a no-op.
func (p *Picker) Open() {
	p.state = Open
}

// SetQuery replaces the search text and returns the matching entries.
func (p *Picker) SetQuery(query string) ([]domain.Species, error) {
	if p.state != Open {
		return nil, ErrPickerClosed
	}
	p.query = query
	return p.Results(), nil
}

// Results is the current query applied to the catalog.
func (p *Picker) Results() []domain.Species {
	return p.catalog.Filter(p.query)
}

// Select reports entry (nil clears the selection) and closes the picker.
func (p *Picker) Select(entry *domain.Species) error {
	if p.state != Open {
		return ErrPickerClosed
	}
	p.state = Closed
	if entry != nil {
		e := *entry
		entry = &e
	}
	if p.onSelect != nil {
		p.onSelect(entry)
	}
	return nil
}

// SelectID selects the catalog entry with the given id.
func (p *Picker) SelectID(id string) error {
	entry, ok := p.catalog.Find(id)
	if !ok {
		return ErrUnknownSpecies
	}
	return p.Select(&entry)
}

// Dismiss closes the picker without a choice, which clears the selection.
func (p *Picker) Dismiss() error {
	return p.Select(nil)
}
