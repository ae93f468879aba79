// Package geopackage reads feature layers from GeoPackage files.
package geopackage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	// Registers the sqlite3 driver.
	_ "github.com/mattn/go-sqlite3"

	"github.com/jobrunner/fieldtally/internal/domain"
	"github.com/jobrunner/fieldtally/internal/ports/output"
)

// Reader opens GeoPackage feature layers.
type Reader struct{}

// NewReader creates a new GeoPackage reader.
func NewReader() *Reader {
	return &Reader{}
}

// layerMeta describes one feature table.
type layerMeta struct {
	info       domain.LayerInfo
	geomColumn string
	pkColumn   string
	rtree      string
}

// Layers returns the feature layers of a GeoPackage.
func (r *Reader) Layers(ctx context.Context, path string) ([]domain.LayerInfo, error) {
	db, err := openDB(ctx, path)
	if err != nil {
		return nil, &domain.LayerError{Path: path, Err: err}
	}
	defer func() { _ = db.Close() }()

	metas, err := readLayers(ctx, db)
	if err != nil {
		return nil, &domain.LayerError{Path: path, Err: err}
	}

	layers := make([]domain.LayerInfo, len(metas))
	for i, m := range metas {
		layers[i] = m.info
	}
	return layers, nil
}

// Open opens a feature layer. The layer name may be omitted when the file has
// exactly one feature layer.
func (r *Reader) Open(ctx context.Context, ref domain.LayerRef) (output.FeatureProvider, error) {
	db, err := openDB(ctx, ref.Path)
	if err != nil {
		return nil, &domain.LayerError{Path: ref.Path, Layer: ref.Name, Err: err}
	}

	metas, err := readLayers(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, &domain.LayerError{Path: ref.Path, Layer: ref.Name, Err: err}
	}

	meta, err := selectLayer(metas, ref.Name)
	if err != nil {
		_ = db.Close()
		return nil, &domain.LayerError{Path: ref.Path, Layer: ref.Name, Err: err}
	}

	return &Layer{db: db, meta: meta}, nil
}

func selectLayer(metas []layerMeta, name string) (layerMeta, error) {
	if name == "" {
		if len(metas) == 1 {
			return metas[0], nil
		}
		names := make([]string, len(metas))
		for i, m := range metas {
			names[i] = m.info.Name
		}
		return layerMeta{}, fmt.Errorf("file has %d feature layers (%s), select one with #layer: %w",
			len(metas), strings.Join(names, ", "), domain.ErrLayerNotFound)
	}
	for _, m := range metas {
		if m.info.Name == name {
			return m, nil
		}
	}
	return layerMeta{}, domain.ErrLayerNotFound
}

// openDB opens the GeoPackage read-only.
func openDB(ctx context.Context, path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// readLayers reads layer information from gpkg_contents.
func readLayers(ctx context.Context, db *sql.DB) ([]layerMeta, error) {
	query := `
		SELECT
			c.table_name,
			g.column_name,
			g.geometry_type_name,
			g.srs_id,
			c.min_x, c.min_y, c.max_x, c.max_y
		FROM gpkg_contents c
		JOIN gpkg_geometry_columns g ON c.table_name = g.table_name
		WHERE c.data_type = 'features'
		ORDER BY c.table_name
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("reading layers: %w", err)
	}

	var metas []layerMeta
	for rows.Next() {
		var m layerMeta
		var minX, minY, maxX, maxY sql.NullFloat64

		err := rows.Scan(
			&m.info.Name, &m.geomColumn,
			&m.info.GeometryType, &m.info.SRID,
			&minX, &minY, &maxX, &maxY,
		)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scanning layer: %w", err)
		}

		if minX.Valid && minY.Valid && maxX.Valid && maxY.Valid {
			m.info.Extent = &domain.Extent{
				MinX: minX.Float64, MinY: minY.Float64,
				MaxX: maxX.Float64, MaxY: maxY.Float64,
			}
		}
		metas = append(metas, m)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for i := range metas {
		if err := describeTable(ctx, db, &metas[i]); err != nil {
			return nil, err
		}
	}
	return metas, nil
}

// describeTable fills attribute fields, primary key, feature count and the
// R-tree table name of a feature table.
func describeTable(ctx context.Context, db *sql.DB, m *layerMeta) error {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(m.info.Name))) //#nosec G201 -- table name from gpkg_contents
	if err != nil {
		return fmt.Errorf("reading columns of %s: %w", m.info.Name, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return fmt.Errorf("scanning column: %w", err)
		}
		switch {
		case pk == 1 && m.pkColumn == "":
			m.pkColumn = name
		case name == m.geomColumn:
		default:
			m.info.Fields = append(m.info.Fields, name)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if m.pkColumn == "" {
		m.pkColumn = "rowid"
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdent(m.info.Name)) //#nosec G201 -- table name from gpkg_contents
	if err := db.QueryRowContext(ctx, countQuery).Scan(&m.info.FeatureCount); err != nil {
		return fmt.Errorf("counting features of %s: %w", m.info.Name, err)
	}

	indexTable := fmt.Sprintf("rtree_%s_%s", m.info.Name, m.geomColumn)
	var exists int
	err = db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?",
		indexTable,
	).Scan(&exists)
	if err == nil && exists > 0 {
		m.rtree = indexTable
	}
	return nil
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
