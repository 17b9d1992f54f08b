package form

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vbonduro/treetag/internal/domain"
)

func completeValues() domain.FormValues {
	v := Defaults()
	v.Photo = &domain.Photo{Width: 640, Height: 480, URI: "staged_1.jpg"}
	v.DBH = "12"
	v.Species = &domain.Species{ID: "1", Common: "Red Oak", Scientific: "Quercus rubra"}
	return v
}

func TestDefaults(t *testing.T) {
	v := Defaults()

	assert.Equal(t, domain.TreeTypeConifer, v.TreeType)
	assert.Nil(t, v.Photo)
	assert.Nil(t, v.Coords)
	assert.Nil(t, v.Species)
	assert.Nil(t, v.LandUseCategory)
	assert.Empty(t, v.DBH)
	assert.Empty(t, v.Notes)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(v *domain.FormValues)
		want   map[Field]string
	}{
		{
			name:   "complete",
			mutate: func(v *domain.FormValues) {},
			want:   map[Field]string{},
		},
		{
			name:   "missing photo",
			mutate: func(v *domain.FormValues) { v.Photo = nil },
			want:   map[Field]string{FieldPhoto: "You have to add photo"},
		},
		{
			name:   "blank dbh",
			mutate: func(v *domain.FormValues) { v.DBH = "" },
			want:   map[Field]string{FieldDBH: "Can't be blank"},
		},
		{
			name:   "missing species",
			mutate: func(v *domain.FormValues) { v.Species = nil },
			want:   map[Field]string{FieldSpecies: "Can't be blank"},
		},
		{
			name: "everything missing",
			mutate: func(v *domain.FormValues) {
				*v = Defaults()
			},
			want: map[Field]string{
				FieldPhoto:   "You have to add photo",
				FieldDBH:     "Can't be blank",
				FieldSpecies: "Can't be blank",
			},
		},
		{
			// Land use, coordinates and notes are not required by the form.
			name: "optional fields absent",
			mutate: func(v *domain.FormValues) {
				v.LandUseCategory = nil
				v.Coords = nil
				v.Notes = ""
			},
			want: map[Field]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := completeValues()
			tt.mutate(&v)

			got := Validate(v)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, len(tt.want) == 0, IsValid(v))
		})
	}
}

func TestValidateIsPure(t *testing.T) {
	v := Defaults()
	first := Validate(v)
	second := Validate(v)

	assert.Equal(t, first, second)
	assert.Equal(t, Defaults(), v)
}

func TestVisibleErrorsRequireTouch(t *testing.T) {
	v := Defaults()

	assert.Empty(t, VisibleErrors(v, nil))
	assert.Empty(t, VisibleErrors(v, map[Field]bool{FieldNotes: true}))

	visible := VisibleErrors(v, map[Field]bool{FieldDBH: true})
	assert.Equal(t, map[Field]string{FieldDBH: "Can't be blank"}, visible)

	// Touched but valid shows nothing.
	v.DBH = "3"
	assert.Empty(t, VisibleErrors(v, map[Field]bool{FieldDBH: true}))
}

func TestParseField(t *testing.T) {
	for _, f := range Fields {
		got, err := ParseField(string(f))
		require.NoError(t, err)
		assert.Equal(t, f, got)
	}

	_, err := ParseField("height")
	assert.ErrorIs(t, err, ErrUnknownField)
}
