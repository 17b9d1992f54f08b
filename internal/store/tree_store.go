package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vbonduro/treetag/internal/domain"
)

var ErrTreeNotFound = errors.New("tree not found")

// NewTree is the input for TreeStore.Create.
type NewTree struct {
	UserID            string
	SpeciesCommon     string
	SpeciesScientific string
	DBH               string
	TreeType          domain.TreeType
	LandUseCategory   domain.LandUseCategory
	Notes             *string
	PhotoURL          string
	PhotoStorageKey   string
	PhotoWidth        int
	PhotoHeight       int
	Latitude          float64
	Longitude         float64
}

type TreeStore struct {
	db *sql.DB
}

func NewTreeStore(db *sql.DB) *TreeStore {
	return &TreeStore{db: db}
}

const treeColumns = `id, user_id, species_common, species_scientific, dbh, tree_type, land_use_category,
	notes, photo_url, photo_width, photo_height, latitude, longitude, is_validated, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTree(row rowScanner) (*domain.Tree, error) {
	tree := &domain.Tree{}
	var notes sql.NullString
	err := row.Scan(
		&tree.ID, &tree.UserID, &tree.SpeciesCommon, &tree.SpeciesScientific, &tree.DBH,
		&tree.TreeType, &tree.LandUseCategory, &notes, &tree.PhotoURL, &tree.PhotoWidth,
		&tree.PhotoHeight, &tree.Latitude, &tree.Longitude, &tree.IsValidated, &tree.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if notes.Valid {
		tree.Notes = &notes.String
	}
	return tree, nil
}

// Create inserts a record. New records are always unvalidated.
func (s *TreeStore) Create(ctx context.Context, t NewTree) (*domain.Tree, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO trees (user_id, species_common, species_scientific, dbh, tree_type, land_use_category,
			notes, photo_url, photo_storage_key, photo_width, photo_height, latitude, longitude, is_validated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
	`, t.UserID, t.SpeciesCommon, t.SpeciesScientific, t.DBH, string(t.TreeType), string(t.LandUseCategory),
		t.Notes, t.PhotoURL, t.PhotoStorageKey, t.PhotoWidth, t.PhotoHeight, t.Latitude, t.Longitude)
	if err != nil {
		return nil, fmt.Errorf("failed to create tree: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return s.GetByID(ctx, id)
}

func (s *TreeStore) GetByID(ctx context.Context, id int64) (*domain.Tree, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+treeColumns+` FROM trees WHERE id = ?`, id)
	tree, err := scanTree(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tree: %w", err)
	}
	return tree, nil
}

// ListByUserID returns a user's trees, newest first.
func (s *TreeStore) ListByUserID(ctx context.Context, userID string) ([]*domain.Tree, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+treeColumns+` FROM trees WHERE user_id = ? ORDER BY created_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list trees: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "error", err)
		}
	}()

	var trees []*domain.Tree
	for rows.Next() {
		tree, err := scanTree(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tree: %w", err)
		}
		trees = append(trees, tree)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trees: %w", err)
	}

	return trees, nil
}

func (s *TreeStore) SetValidated(ctx context.Context, id int64, validated bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE trees SET is_validated = ? WHERE id = ?
	`, validated, id)
	if err != nil {
		return fmt.Errorf("failed to update tree: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrTreeNotFound
	}

	return nil
}
