package domain

import (
	"fmt"
	"time"
)

// Photo describes a captured image. URI is the staging key of the raw bytes
// until the photo is uploaded as part of a submission.
type Photo struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	URI    string `json:"uri"`
}

type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Species is one entry of the static reference list.
type Species struct {
	ID         string `json:"ID" yaml:"id"`
	Common     string `json:"COMMON" yaml:"common"`
	Scientific string `json:"SCIENTIFIC" yaml:"scientific"`
}

type TreeType string

const (
	TreeTypeConifer   TreeType = "conifer"
	TreeTypeBroadleaf TreeType = "broadleaf"
)

// TreeTypes lists the selectable tree types in display order.
var TreeTypes = []TreeType{TreeTypeConifer, TreeTypeBroadleaf}

func ParseTreeType(s string) (TreeType, error) {
	for _, t := range TreeTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown tree type %q", s)
}

// LandUseCategory classifies the dominant land use around a tree.
type LandUseCategory string

const (
	LandUseResidential   LandUseCategory = "residential"
	LandUseCommercial    LandUseCategory = "commercial"
	LandUseIndustrial    LandUseCategory = "industrial"
	LandUseInstitutional LandUseCategory = "institutional"
	LandUsePark          LandUseCategory = "park"
	LandUseNatural       LandUseCategory = "natural area"
	LandUseAgricultural  LandUseCategory = "agricultural"
	LandUseTransport     LandUseCategory = "transportation corridor"
	LandUseVacant        LandUseCategory = "vacant"
)

var LandUseCategories = []LandUseCategory{
	LandUseResidential,
	LandUseCommercial,
	LandUseIndustrial,
	LandUseInstitutional,
	LandUsePark,
	LandUseNatural,
	LandUseAgricultural,
	LandUseTransport,
	LandUseVacant,
}

func ParseLandUseCategory(s string) (LandUseCategory, error) {
	for _, c := range LandUseCategories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown land use category %q", s)
}

// FormValues holds everything the add-tree form collects. Species carries the
// selected reference entry together with its display names, so the selection
// and the names are always set or cleared as one.
type FormValues struct {
	Photo           *Photo           `json:"photo"`
	Coords          *Coordinates     `json:"coords"`
	Species         *Species         `json:"species"`
	TreeType        TreeType         `json:"treeType"`
	DBH             string           `json:"dbh"`
	Notes           string           `json:"notes"`
	LandUseCategory *LandUseCategory `json:"landUseCategory"`
}

// Clone returns a deep copy so callers can hand values across goroutines.
func (v FormValues) Clone() FormValues {
	out := v
	if v.Photo != nil {
		p := *v.Photo
		out.Photo = &p
	}
	if v.Coords != nil {
		c := *v.Coords
		out.Coords = &c
	}
	if v.Species != nil {
		s := *v.Species
		out.Species = &s
	}
	if v.LandUseCategory != nil {
		l := *v.LandUseCategory
		out.LandUseCategory = &l
	}
	return out
}

// User is the signed-in contributor. Validators may mark trees as reviewed.
type User struct {
	ID        string
	Validator bool
}

type Tree struct {
	ID                int64           `json:"id"`
	UserID            string          `json:"userId"`
	SpeciesCommon     string          `json:"speciesNameCommon"`
	SpeciesScientific string          `json:"speciesNameScientific"`
	DBH               string          `json:"dbh"`
	TreeType          TreeType        `json:"treeType"`
	LandUseCategory   LandUseCategory `json:"landUseCategory"`
	Notes             *string         `json:"notes"`
	PhotoURL          string          `json:"photoUrl"`
	PhotoWidth        int             `json:"photoWidth"`
	PhotoHeight       int             `json:"photoHeight"`
	Latitude          float64         `json:"latitude"`
	Longitude         float64         `json:"longitude"`
	IsValidated       bool            `json:"isValidated"`
	CreatedAt         time.Time       `json:"createdAt"`
}
