package geopackage

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"strings"

	"github.com/jobrunner/fieldtally/internal/domain"
)

// Layer is an open GeoPackage feature table. It implements
// output.FeatureProvider; every call to Features runs a fresh query.
type Layer struct {
	db   *sql.DB
	meta layerMeta
}

// Name returns the table name.
func (l *Layer) Name() string {
	return l.meta.info.Name
}

// Fields returns the attribute columns in table order.
func (l *Layer) Fields() []string {
	return l.meta.info.Fields
}

// FeatureCount returns the number of rows in the table.
func (l *Layer) FeatureCount(ctx context.Context) (int64, error) {
	var n int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdent(l.meta.info.Name)) //#nosec G201 -- table name from gpkg_contents
	if err := l.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Features iterates over all rows ordered by primary key.
func (l *Layer) Features(ctx context.Context) iter.Seq2[domain.Feature, error] {
	query := fmt.Sprintf("SELECT %s FROM %s t ORDER BY t.%s", //#nosec G201 -- identifiers from gpkg_contents
		l.selectList(), quoteIdent(l.meta.info.Name), quoteIdent(l.meta.pkColumn))
	return l.query(ctx, query)
}

// FeaturesInExtent iterates over rows whose bounding box intersects extent,
// using the layer's R-tree when the file has one.
func (l *Layer) FeaturesInExtent(ctx context.Context, extent domain.Extent) iter.Seq2[domain.Feature, error] {
	if l.meta.rtree == "" {
		return func(yield func(domain.Feature, error) bool) {
			for f, err := range l.Features(ctx) {
				if err == nil && (f.Geometry == nil || !extent.Intersects(domain.ExtentOf(f.Geometry))) {
					continue
				}
				if !yield(f, err) {
					return
				}
			}
		}
	}

	query := fmt.Sprintf(`
		SELECT %s FROM %s t
		INNER JOIN %s r ON t.%s = r.id
		WHERE r.minx <= ? AND r.maxx >= ? AND r.miny <= ? AND r.maxy >= ?
		ORDER BY t.%s`, //#nosec G201 -- identifiers from gpkg_contents
		l.selectList(), quoteIdent(l.meta.info.Name), quoteIdent(l.meta.rtree),
		quoteIdent(l.meta.pkColumn), quoteIdent(l.meta.pkColumn))
	return l.query(ctx, query, extent.MaxX, extent.MinX, extent.MaxY, extent.MinY)
}

// Close closes the database connection.
func (l *Layer) Close() error {
	return l.db.Close()
}

// selectList selects the key, the geometry and the attribute columns, in
// that order.
func (l *Layer) selectList() string {
	cols := make([]string, 0, len(l.meta.info.Fields)+2)
	cols = append(cols, "t."+quoteIdent(l.meta.pkColumn), "t."+quoteIdent(l.meta.geomColumn))
	for _, f := range l.meta.info.Fields {
		cols = append(cols, "t."+quoteIdent(f))
	}
	return strings.Join(cols, ", ")
}

func (l *Layer) query(ctx context.Context, query string, args ...interface{}) iter.Seq2[domain.Feature, error] {
	return func(yield func(domain.Feature, error) bool) {
		rows, err := l.db.QueryContext(ctx, query, args...)
		if err != nil {
			yield(domain.Feature{}, &domain.LayerError{Layer: l.meta.info.Name, Err: err})
			return
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			f, err := l.scanFeature(rows)
			if err != nil {
				yield(domain.Feature{}, err)
				return
			}
			if !yield(f, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(domain.Feature{}, &domain.LayerError{Layer: l.meta.info.Name, Err: err})
		}
	}
}

// scanFeature scans a row into a Feature.
func (l *Layer) scanFeature(rows *sql.Rows) (domain.Feature, error) {
	fields := l.meta.info.Fields
	values := make([]interface{}, len(fields)+2)
	ptrs := make([]interface{}, len(values))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return domain.Feature{}, err
	}

	feature := domain.Feature{
		Layer:      l.meta.info.Name,
		Attributes: make(domain.Attributes, len(fields)),
	}
	if id, ok := values[0].(int64); ok {
		feature.ID = id
	}

	if blob, ok := values[1].([]byte); ok {
		g, _, err := decodeGeometry(blob)
		if err != nil {
			return domain.Feature{}, &domain.LayerError{
				Layer: l.meta.info.Name,
				Err:   fmt.Errorf("feature %d: %w", feature.ID, err),
			}
		}
		feature.Geometry = g
	}

	for i, name := range fields {
		if values[i+2] != nil {
			feature.Attributes[name] = values[i+2]
		}
	}
	return feature, nil
}
