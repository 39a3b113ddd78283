package featurepool

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bsaid97/go-spike-fixer/geometry"
	"github.com/bsaid97/go-spike-fixer/logging"
	"github.com/twpayne/go-geom/encoding/wkb"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps layers of features as WKB rows, plus a journal of the
// geometry edits applied to them.
type SQLiteStore struct {
	db     *sql.DB
	logger logging.Logger
}

// OpenSQLite opens (or creates) the database at dbPath.
func OpenSQLite(dbPath string, logger logging.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if logger == nil {
		logger = logging.Noop()
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Initialize creates the database schema
func (s *SQLiteStore) Initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS features (
		layer TEXT NOT NULL,
		id INTEGER NOT NULL,
		geom BLOB,
		properties JSON,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (layer, id)
	);

	-- Geometry edits (append-only)
	CREATE TABLE IF NOT EXISTS changes (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
		layer TEXT NOT NULL,
		feature_id INTEGER NOT NULL,
		what TEXT NOT NULL,
		type TEXT NOT NULL,
		part INTEGER NOT NULL,
		ring INTEGER NOT NULL,
		vertex INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_changes_feature ON changes(layer, feature_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Insert adds or replaces a feature of layer.
func (s *SQLiteStore) Insert(ctx context.Context, layer string, f *Feature) error {
	blob, err := encodeWKB(f.Geometry)
	if err != nil {
		return fmt.Errorf("feature %d: %w", f.ID, err)
	}
	props, err := json.Marshal(f.Properties)
	if err != nil {
		return fmt.Errorf("feature %d: failed to marshal properties: %w", f.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO features (layer, id, geom, properties) VALUES (?, ?, ?, ?)`,
		layer, f.ID, blob, string(props))
	if err != nil {
		return fmt.Errorf("failed to insert feature %d: %w", f.ID, err)
	}
	return nil
}

// Layers lists the layers present in the store.
func (s *SQLiteStore) Layers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT layer FROM features ORDER BY layer`)
	if err != nil {
		return nil, fmt.Errorf("failed to list layers: %w", err)
	}
	defer rows.Close()

	var layers []string
	for rows.Next() {
		var layer string
		if err := rows.Scan(&layer); err != nil {
			return nil, err
		}
		layers = append(layers, layer)
	}
	return layers, rows.Err()
}

// ChangeRow is one journal entry.
type ChangeRow struct {
	Layer     string
	FeatureID int64
	What      string
	Type      string
	Vertex    geometry.VertexID
}

// AppendChanges journals edits in one transaction.
func (s *SQLiteStore) AppendChanges(ctx context.Context, rows []ChangeRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, r := range rows {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO changes (layer, feature_id, what, type, part, ring, vertex) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.Layer, r.FeatureID, r.What, r.Type, r.Vertex.Part, r.Vertex.Ring, r.Vertex.Vertex)
		if err != nil {
			return fmt.Errorf("failed to journal change: %w", err)
		}
	}
	return tx.Commit()
}

// Changes returns the journal of one feature in application order.
func (s *SQLiteStore) Changes(ctx context.Context, layer string, featureID int64) ([]ChangeRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT what, type, part, ring, vertex FROM changes WHERE layer = ? AND feature_id = ? ORDER BY seq`,
		layer, featureID)
	if err != nil {
		return nil, fmt.Errorf("failed to query changes: %w", err)
	}
	defer rows.Close()

	var out []ChangeRow
	for rows.Next() {
		r := ChangeRow{Layer: layer, FeatureID: featureID}
		if err := rows.Scan(&r.What, &r.Type, &r.Vertex.Part, &r.Vertex.Ring, &r.Vertex.Vertex); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Pool returns the pool view of one layer.
func (s *SQLiteStore) Pool(layer string) *SQLitePool {
	return &SQLitePool{store: s, layer: layer}
}

// SQLitePool is a Pool over one layer of a SQLiteStore.
type SQLitePool struct {
	store *SQLiteStore
	layer string
}

func (p *SQLitePool) LayerID() string { return p.layer }

func (p *SQLitePool) IDs(ctx context.Context) ([]int64, error) {
	rows, err := p.store.db.QueryContext(ctx, `SELECT id FROM features WHERE layer = ? ORDER BY id`, p.layer)
	if err != nil {
		return nil, fmt.Errorf("failed to list features of %s: %w", p.layer, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *SQLitePool) Get(ctx context.Context, id int64) (*Feature, bool) {
	var blob []byte
	var props sql.NullString
	err := p.store.db.QueryRowContext(ctx,
		`SELECT geom, properties FROM features WHERE layer = ? AND id = ?`, p.layer, id).Scan(&blob, &props)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false
	}
	if err != nil {
		p.store.logger.Warn(ctx, "failed to read feature",
			logging.String("layer", p.layer), logging.Int64("feature", id), logging.Err(err))
		return nil, false
	}

	f := &Feature{ID: id}
	if f.Geometry, err = decodeWKB(blob); err != nil {
		p.store.logger.Warn(ctx, "failed to decode feature geometry",
			logging.String("layer", p.layer), logging.Int64("feature", id), logging.Err(err))
		return nil, false
	}
	if props.Valid && props.String != "" {
		if err := json.Unmarshal([]byte(props.String), &f.Properties); err != nil {
			p.store.logger.Warn(ctx, "failed to decode feature properties",
				logging.String("layer", p.layer), logging.Int64("feature", id), logging.Err(err))
		}
	}
	return f, true
}

func (p *SQLitePool) Update(ctx context.Context, f *Feature) error {
	blob, err := encodeWKB(f.Geometry)
	if err != nil {
		return fmt.Errorf("feature %d: %w", f.ID, err)
	}
	res, err := p.store.db.ExecContext(ctx,
		`UPDATE features SET geom = ?, updated_at = CURRENT_TIMESTAMP WHERE layer = ? AND id = ?`,
		blob, p.layer, f.ID)
	if err != nil {
		return fmt.Errorf("failed to update feature %d: %w", f.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update feature %d in %s: %w", f.ID, p.layer, ErrNotFound)
	}
	return nil
}

func encodeWKB(g *geometry.Geometry) ([]byte, error) {
	if g == nil {
		return nil, nil
	}
	t, err := g.ToGeom()
	if err != nil {
		return nil, err
	}
	blob, err := wkb.Marshal(t, wkb.NDR)
	if err != nil {
		return nil, fmt.Errorf("failed to encode WKB: %w", err)
	}
	return blob, nil
}

func decodeWKB(blob []byte) (*geometry.Geometry, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	t, err := wkb.Unmarshal(blob)
	if err != nil {
		return nil, fmt.Errorf("failed to decode WKB: %w", err)
	}
	return geometry.FromGeom(t)
}
