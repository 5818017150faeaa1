package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// CreateLibrary inserts a library. ID and CreatedAt are filled in when empty.
func (s *Store) CreateLibrary(ctx context.Context, lib *Library) error {
	if lib == nil {
		return fmt.Errorf("nil library")
	}
	if !lib.SourceType.Valid() {
		return fmt.Errorf("unknown source type %q", lib.SourceType)
	}
	if lib.ID == "" {
		lib.ID = uuid.NewString()
	}
	if lib.CreatedAt.IsZero() {
		lib.CreatedAt = s.now().UTC()
	}
	tags := lib.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("marshalling tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO libraries (id, name, source_type, source_url, category, tags, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		lib.ID, lib.Name, string(lib.SourceType), lib.SourceURL, lib.Category, string(tagsJSON), formatTime(lib.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("library %q: %w", lib.Name, ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("insert library: %w", err)
	}
	return nil
}

const libraryColumns = `id, name, source_type, source_url, category, tags, created_at`

func scanLibrary(row interface{ Scan(...any) error }) (*Library, error) {
	var (
		lib        Library
		sourceType string
		tags       string
		createdAt  string
	)
	if err := row.Scan(&lib.ID, &lib.Name, &sourceType, &lib.SourceURL, &lib.Category, &tags, &createdAt); err != nil {
		return nil, err
	}
	lib.SourceType = SourceType(sourceType)
	lib.CreatedAt = parseTime(createdAt)
	if err := json.Unmarshal([]byte(tags), &lib.Tags); err != nil {
		lib.Tags = nil
	}
	return &lib, nil
}

// GetLibrary returns the library with the given id.
func (s *Store) GetLibrary(ctx context.Context, id string) (*Library, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+libraryColumns+` FROM libraries WHERE id = ?`, id)
	lib, err := scanLibrary(row)
	if err != nil {
		return nil, notFound(err, "library "+id)
	}
	return lib, nil
}

// GetLibraryByName returns the library with the given unique name.
func (s *Store) GetLibraryByName(ctx context.Context, name string) (*Library, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+libraryColumns+` FROM libraries WHERE name = ?`, name)
	lib, err := scanLibrary(row)
	if err != nil {
		return nil, notFound(err, "library "+name)
	}
	return lib, nil
}

// ListLibraries returns all libraries ordered by name.
func (s *Store) ListLibraries(ctx context.Context) ([]*Library, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+libraryColumns+` FROM libraries ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list libraries: %w", err)
	}
	defer rows.Close()

	var out []*Library
	for rows.Next() {
		lib, err := scanLibrary(rows)
		if err != nil {
			return nil, fmt.Errorf("scan library: %w", err)
		}
		out = append(out, lib)
	}
	return out, rows.Err()
}

// CreateVersion inserts a version. When IsLatest is set, the flag is cleared on
// every sibling in the same transaction so exactly one latest version remains.
func (s *Store) CreateVersion(ctx context.Context, v *LibraryVersion) error {
	if v == nil {
		return fmt.Errorf("nil version")
	}
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.Status == "" {
		v.Status = VersionActive
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = s.now().UTC()
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if v.IsLatest {
			if _, err := tx.ExecContext(ctx,
				`UPDATE library_versions SET is_latest = 0 WHERE library_id = ?`, v.LibraryID); err != nil {
				return fmt.Errorf("clear latest flag: %w", err)
			}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO library_versions
				(id, library_id, version, git_ref, is_latest, is_lts, status, docs_path, release_date, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			v.ID, v.LibraryID, v.Version, v.GitRef, boolInt(v.IsLatest), boolInt(v.IsLTS),
			string(v.Status), v.DocsPath, nullTime(v.ReleaseDate), formatTime(v.CreatedAt))
		if isUniqueViolation(err) {
			return fmt.Errorf("version %q: %w", v.Version, ErrAlreadyExists)
		}
		if err != nil {
			return fmt.Errorf("insert version: %w", err)
		}
		return nil
	})
}

const versionColumns = `id, library_id, version, git_ref, is_latest, is_lts, status, docs_path, release_date, created_at`

func scanVersion(row interface{ Scan(...any) error }) (*LibraryVersion, error) {
	var (
		v           LibraryVersion
		isLatest    int
		isLTS       int
		status      string
		releaseDate sql.NullString
		createdAt   string
	)
	if err := row.Scan(&v.ID, &v.LibraryID, &v.Version, &v.GitRef, &isLatest, &isLTS,
		&status, &v.DocsPath, &releaseDate, &createdAt); err != nil {
		return nil, err
	}
	v.IsLatest = isLatest == 1
	v.IsLTS = isLTS == 1
	v.Status = VersionStatus(status)
	v.ReleaseDate = timePtr(releaseDate)
	v.CreatedAt = parseTime(createdAt)
	return &v, nil
}

// GetVersion returns the version with the given id.
func (s *Store) GetVersion(ctx context.Context, id string) (*LibraryVersion, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+versionColumns+` FROM library_versions WHERE id = ?`, id)
	v, err := scanVersion(row)
	if err != nil {
		return nil, notFound(err, "version "+id)
	}
	return v, nil
}

// GetVersionByName returns the version of a library with the given version string.
func (s *Store) GetVersionByName(ctx context.Context, libraryID, version string) (*LibraryVersion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM library_versions WHERE library_id = ? AND version = ?`, libraryID, version)
	v, err := scanVersion(row)
	if err != nil {
		return nil, notFound(err, "version "+version)
	}
	return v, nil
}

// GetLatestVersion returns the version flagged as latest for a library.
func (s *Store) GetLatestVersion(ctx context.Context, libraryID string) (*LibraryVersion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM library_versions WHERE library_id = ? AND is_latest = 1 LIMIT 1`, libraryID)
	v, err := scanVersion(row)
	if err != nil {
		return nil, notFound(err, "latest version of "+libraryID)
	}
	return v, nil
}

// ListVersions returns all versions of a library, oldest first.
func (s *Store) ListVersions(ctx context.Context, libraryID string) ([]*LibraryVersion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+versionColumns+` FROM library_versions WHERE library_id = ? ORDER BY created_at, version`, libraryID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var out []*LibraryVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
