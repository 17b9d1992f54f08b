package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/vbonduro/treetag/internal/domain"
	"github.com/vbonduro/treetag/internal/identify"
	"github.com/vbonduro/treetag/internal/photostore"
	"github.com/vbonduro/treetag/internal/species"
	"github.com/vbonduro/treetag/internal/store"
)

var (
	ErrUnauthenticated   = errors.New("user is not authenticated")
	ErrInvalidFormValues = errors.New("missing data")
	ErrNoPhoto           = errors.New("no photo captured")
	ErrIdentifyDisabled  = errors.New("species identification is not configured")
)

// uploadPrefix groups submitted photos in the remote store.
const uploadPrefix = "tree"

// stagingPrefix groups captured photos awaiting submission.
const stagingPrefix = "capture"

// treeRepository is the subset of store.TreeStore that TreeService requires.
type treeRepository interface {
	Create(ctx context.Context, t store.NewTree) (*domain.Tree, error)
	GetByID(ctx context.Context, id int64) (*domain.Tree, error)
	ListByUserID(ctx context.Context, userID string) ([]*domain.Tree, error)
	SetValidated(ctx context.Context, id int64, validated bool) error
}

type TreeService struct {
	trees      treeRepository
	staging    photostore.PhotoStore
	photos     photostore.PhotoStore
	identifier identify.Identifier
	catalog    *species.Catalog
	logger     *slog.Logger
}

// NewTreeService wires the submission pipeline. staging holds captured photos
// until submit copies them into photos. identifier may be nil, which disables
// SuggestSpecies.
func NewTreeService(
	trees treeRepository,
	staging photostore.PhotoStore,
	photos photostore.PhotoStore,
	identifier identify.Identifier,
	catalog *species.Catalog,
	logger *slog.Logger,
) *TreeService {
	return &TreeService{
		trees:      trees,
		staging:    staging,
		photos:     photos,
		identifier: identifier,
		catalog:    catalog,
		logger:     logger,
	}
}

// StagePhoto keeps captured bytes until submission and returns the key to
// put in domain.Photo.URI.
func (s *TreeService) StagePhoto(ctx context.Context, data []byte, mimeType string) (string, error) {
	key, err := s.staging.Save(ctx, stagingPrefix, mimeType, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to stage photo: %w", err)
	}
	s.logger.Debug("photo staged", "storage_key", key, "mime_type", mimeType, "bytes", len(data))
	return key, nil
}

// SubmitTree uploads the staged photo and stores an unvalidated tree record
// owned by user. It does not retry. If the record cannot be written the
// uploaded photo is removed again.
func (s *TreeService) SubmitTree(ctx context.Context, user *domain.User, values domain.FormValues) (*domain.Tree, error) {
	if user == nil {
		return nil, ErrUnauthenticated
	}
	if missing := missingFields(values); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidFormValues, strings.Join(missing, ", "))
	}

	s.logger.Info("tree submission started", "user_id", user.ID, "species", values.Species.Scientific)

	data, mimeType, err := s.readStaged(ctx, values.Photo.URI)
	if err != nil {
		return nil, err
	}

	storageKey, err := s.photos.Save(ctx, uploadPrefix, mimeType, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to upload photo: %w", err)
	}
	s.logger.Debug("photo uploaded", "user_id", user.ID, "storage_key", storageKey)

	var notes *string
	if values.Notes != "" {
		n := values.Notes
		notes = &n
	}

	tree, err := s.trees.Create(ctx, store.NewTree{
		UserID:            user.ID,
		SpeciesCommon:     values.Species.Common,
		SpeciesScientific: values.Species.Scientific,
		DBH:               values.DBH,
		TreeType:          values.TreeType,
		LandUseCategory:   *values.LandUseCategory,
		Notes:             notes,
		PhotoURL:          s.photos.URL(storageKey),
		PhotoStorageKey:   storageKey,
		PhotoWidth:        values.Photo.Width,
		PhotoHeight:       values.Photo.Height,
		Latitude:          values.Coords.Latitude,
		Longitude:         values.Coords.Longitude,
	})
	if err != nil {
		if delErr := s.photos.Delete(ctx, storageKey); delErr != nil {
			s.logger.Error("failed to remove uploaded photo after write error", "storage_key", storageKey, "error", delErr)
		}
		return nil, fmt.Errorf("failed to save tree: %w", err)
	}

	s.logger.Info("tree submission complete", "user_id", user.ID, "tree_id", tree.ID)
	return tree, nil
}

// missingFields lists the values a record cannot be written without.
func missingFields(v domain.FormValues) []string {
	var missing []string
	if v.Photo == nil || v.Photo.URI == "" {
		missing = append(missing, "photo")
	}
	if v.Species == nil {
		missing = append(missing, "species")
	}
	if v.LandUseCategory == nil {
		missing = append(missing, "landUseCategory")
	}
	if v.Coords == nil {
		missing = append(missing, "coords")
	}
	return missing
}

func (s *TreeService) readStaged(ctx context.Context, key string) ([]byte, string, error) {
	rc, mimeType, err := s.staging.Get(ctx, key)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open staged photo: %w", err)
	}
	defer func() {
		if err := rc.Close(); err != nil {
			s.logger.Error("failed to close staged photo", "storage_key", key, "error", err)
		}
	}()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read staged photo: %w", err)
	}
	return data, mimeType, nil
}

func (s *TreeService) ListTrees(ctx context.Context, userID string) ([]*domain.Tree, error) {
	return s.trees.ListByUserID(ctx, userID)
}

// GetTree returns nil without error when no tree has id.
func (s *TreeService) GetTree(ctx context.Context, id int64) (*domain.Tree, error) {
	return s.trees.GetByID(ctx, id)
}

// ValidateTree marks a record as reviewed.
func (s *TreeService) ValidateTree(ctx context.Context, id int64) (*domain.Tree, error) {
	if err := s.trees.SetValidated(ctx, id, true); err != nil {
		return nil, fmt.Errorf("failed to validate tree: %w", err)
	}
	s.logger.Info("tree validated", "tree_id", id)
	return s.trees.GetByID(ctx, id)
}

// SuggestSpecies asks the identifier about the captured photo and keeps the
// candidates that name a catalog entry, most likely first.
func (s *TreeService) SuggestSpecies(ctx context.Context, photo *domain.Photo) ([]domain.Species, error) {
	if s.identifier == nil {
		return nil, ErrIdentifyDisabled
	}
	if photo == nil || photo.URI == "" {
		return nil, ErrNoPhoto
	}

	data, mimeType, err := s.readStaged(ctx, photo.URI)
	if err != nil {
		return nil, err
	}

	candidates, err := s.identifier.Suggest(ctx, bytes.NewReader(data), mimeType)
	if err != nil {
		return nil, fmt.Errorf("failed to identify species: %w", err)
	}

	suggestions := make([]domain.Species, 0, len(candidates))
	seen := make(map[string]bool)
	for _, c := range candidates {
		entry, ok := s.catalog.Lookup(c.Scientific)
		if !ok {
			entry, ok = s.catalog.Lookup(c.Common)
		}
		if !ok || seen[entry.ID] {
			s.logger.Debug("species candidate skipped", "common", c.Common, "scientific", c.Scientific)
			continue
		}
		seen[entry.ID] = true
		suggestions = append(suggestions, entry)
	}

	s.logger.Info("species suggested", "candidates", len(candidates), "matched", len(suggestions))
	return suggestions, nil
}
