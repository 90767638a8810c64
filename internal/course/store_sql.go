package course

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type SQLStore struct {
	db     *sql.DB
	driver string // "sqlite" or "postgres"
}

func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver}
}

func (s *SQLStore) PutPackage(ctx context.Context, p Package) error {
	mj, err := json.Marshal(p.Manifest)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO packages
		(id,title,manifest_id,version,blob_key,size_bytes,file_count,manifest_json,imported_by,created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET title=EXCLUDED.title, manifest_id=EXCLUDED.manifest_id,
		  version=EXCLUDED.version, blob_key=EXCLUDED.blob_key, size_bytes=EXCLUDED.size_bytes,
		  file_count=EXCLUDED.file_count, manifest_json=EXCLUDED.manifest_json`,
		p.ID, p.Title, p.ManifestID, p.Version, p.BlobKey, p.SizeBytes, p.FileCount, string(mj), p.ImportedBy, p.CreatedAt)
	return err
}

func (s *SQLStore) GetPackage(ctx context.Context, id string) (Package, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,title,manifest_id,version,blob_key,size_bytes,file_count,manifest_json,imported_by,created_at
		FROM packages WHERE id=$1`, id)
	var p Package
	var mjson string
	if err := row.Scan(&p.ID, &p.Title, &p.ManifestID, &p.Version, &p.BlobKey, &p.SizeBytes, &p.FileCount, &mjson, &p.ImportedBy, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Package{}, ErrNotFound
		}
		return Package{}, err
	}
	if err := json.Unmarshal([]byte(mjson), &p.Manifest); err != nil {
		return Package{}, err
	}
	return p, nil
}

func (s *SQLStore) ListPackages(ctx context.Context, opts ListOpts) ([]Summary, error) {
	limit, offset := opts.window()
	q := "%" + strings.ToLower(strings.TrimSpace(opts.Q)) + "%"
	rows, err := s.db.QueryContext(ctx, `SELECT id,title,version,file_count,created_at FROM packages
		WHERE LOWER(title) LIKE $1
		ORDER BY created_at DESC, id ASC
		LIMIT $2 OFFSET $3`, q, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var sm Summary
		if err := rows.Scan(&sm.ID, &sm.Title, &sm.Version, &sm.FileCount, &sm.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

func (s *SQLStore) DeletePackage(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// sqlite cascades only when foreign_keys is on
	if _, err := tx.ExecContext(ctx, `DELETE FROM tracking WHERE package_id=$1`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM packages WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

const trackingCols = `id,package_id,item_id,user_id,status,values_json,updated_at`

func (s *SQLStore) GetTracking(ctx context.Context, id string) (Tracking, error) {
	return s.scanTracking(s.db.QueryRowContext(ctx, `SELECT `+trackingCols+` FROM tracking WHERE id=$1`, id))
}

func (s *SQLStore) FindTracking(ctx context.Context, packageID, itemID, userID string) (Tracking, error) {
	return s.scanTracking(s.db.QueryRowContext(ctx, `SELECT `+trackingCols+` FROM tracking
		WHERE package_id=$1 AND item_id=$2 AND user_id=$3`, packageID, itemID, userID))
}

func (s *SQLStore) scanTracking(row *sql.Row) (Tracking, error) {
	var t Tracking
	var vjson string
	if err := row.Scan(&t.ID, &t.PackageID, &t.ItemID, &t.UserID, &t.Status, &vjson, &t.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Tracking{}, ErrNotFound
		}
		return Tracking{}, err
	}
	if err := json.Unmarshal([]byte(vjson), &t.Values); err != nil {
		t.Values = map[string]string{}
	}
	return t, nil
}

func (s *SQLStore) SaveTracking(ctx context.Context, t Tracking) error {
	if t.Values == nil {
		t.Values = map[string]string{}
	}
	buf, err := json.Marshal(t.Values)
	if err != nil {
		return err
	}
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM packages WHERE id=$1`, t.PackageID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	var other string
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM tracking WHERE package_id=$1 AND item_id=$2 AND user_id=$3 AND id<>$4`,
		t.PackageID, t.ItemID, t.UserID, t.ID).Scan(&other)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s holds %s/%s/%s", ErrConflict, other, t.PackageID, t.ItemID, t.UserID)
	case !errors.Is(err, sql.ErrNoRows):
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO tracking (`+trackingCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET status=EXCLUDED.status, values_json=EXCLUDED.values_json, updated_at=EXCLUDED.updated_at`,
		t.ID, t.PackageID, t.ItemID, t.UserID, t.Status, string(buf), t.UpdatedAt)
	return err
}
