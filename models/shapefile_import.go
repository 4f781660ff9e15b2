package models

import (
	"time"
)

// 导入状态：pending → processing → success | error，到达终态后不再回退
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusSuccess    = "success"
	StatusError      = "error"
)

// ShapefileImport 一次shapefile导入记录
// 删除记录不会级联删除空间库中的表和GeoServer上的图层
type ShapefileImport struct {
	ID        uint      `gorm:"primary_key;autoIncrement" json:"id"`
	Name      string    `gorm:"type:varchar(255)" json:"name"`
	FilePath  string    `gorm:"type:varchar(500)" json:"-"`
	TableName string    `gorm:"type:varchar(255);index" json:"table_name"`
	Status    string    `gorm:"type:varchar(50);default:pending" json:"status"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	GeoserverLayer       string `gorm:"type:varchar(255)" json:"geoserver_layer,omitempty"`
	GeoserverWMSURL      string `gorm:"type:varchar(1000)" json:"geoserver_wms_url,omitempty"`
	GeoserverWFSURL      string `gorm:"type:varchar(1000)" json:"geoserver_wfs_url,omitempty"`
	PublishedToGeoserver bool   `json:"published_to_geoserver"`
}
