package form

import (
	"fmt"

	"github.com/vbonduro/treetag/internal/domain"
)

// Field names a form field. The string values are the keys clients use.
type Field string

const (
	FieldPhoto           Field = "photo"
	FieldCoords          Field = "coords"
	FieldSpecies         Field = "species"
	FieldTreeType        Field = "treeType"
	FieldDBH             Field = "dbh"
	FieldNotes           Field = "notes"
	FieldLandUseCategory Field = "landUseCategory"
)

// Fields lists every field in display order.
var Fields = []Field{
	FieldPhoto,
	FieldCoords,
	FieldSpecies,
	FieldDBH,
	FieldLandUseCategory,
	FieldNotes,
	FieldTreeType,
}

func ParseField(s string) (Field, error) {
	for _, f := range Fields {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownField, s)
}

const (
	msgPhotoRequired = "You have to add photo"
	msgBlank         = "Can't be blank"
)

// Defaults is the state of a freshly opened form.
func Defaults() domain.FormValues {
	return domain.FormValues{TreeType: domain.TreeTypeConifer}
}

// Validate reports a message for every required field that is missing.
// Land use and coordinates are checked later by the submission service.
func Validate(v domain.FormValues) map[Field]string {
	errs := make(map[Field]string)
	if v.Photo == nil {
		errs[FieldPhoto] = msgPhotoRequired
	}
	if v.DBH == "" {
		errs[FieldDBH] = msgBlank
	}
	if v.Species == nil {
		errs[FieldSpecies] = msgBlank
	}
	return errs
}

func IsValid(v domain.FormValues) bool {
	return len(Validate(v)) == 0
}

// VisibleErrors keeps only the errors of fields the user has touched.
func VisibleErrors(v domain.FormValues, touched map[Field]bool) map[Field]string {
	visible := make(map[Field]string)
	for f, msg := range Validate(v) {
		if touched[f] {
			visible[f] = msg
		}
	}
	return visible
}

// Capture is what the image capture flow yields on completion.
type Capture struct {
	Picture  domain.Photo       `json:"capturedPicture"`
	Location domain.Coordinates `json:"location"`
}
