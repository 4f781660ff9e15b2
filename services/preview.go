package services

import (
	"errors"
	"fmt"

	"github.com/GrainArc/GeoImporter/models"
	"github.com/paulmach/orb/geojson"
)

// PreviewFeatures 从空间库抽取样本要素组装为GeoJSON FeatureCollection
func (s *ImportService) PreviewFeatures(record *models.ShapefileImport, limit int) (*geojson.FeatureCollection, error) {
	if s.Datastore == nil {
		return nil, errors.New("datastore connection not available")
	}
	if limit <= 0 || limit > 1000 {
		limit = 50
	}

	query := fmt.Sprintf(`
        SELECT gid, ST_AsGeoJSON(geom) as geometry
        FROM %s
        WHERE geom IS NOT NULL
        ORDER BY gid
        LIMIT ?
    `, record.TableName)

	rows, err := s.Datastore.Raw(query, limit).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fc := geojson.NewFeatureCollection()
	for rows.Next() {
		var gid int64
		var geomJSON []byte
		if err := rows.Scan(&gid, &geomJSON); err != nil {
			return nil, err
		}
		geometry, err := geojson.UnmarshalGeometry(geomJSON)
		if err != nil {
			continue
		}
		feature := geojson.NewFeature(geometry.Geometry())
		feature.ID = gid
		feature.Properties["gid"] = gid
		fc.Append(feature)
	}
	return fc, nil
}
