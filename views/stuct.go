package views

import (
	"time"

	"github.com/GrainArc/GeoImporter/services"
)

type UploadResponse struct {
	Message        string `json:"message"`
	ImportID       uint   `json:"import_id"`
	TableName      string `json:"table_name"`
	GeoserverLayer string `json:"geoserver_layer,omitempty"`
	WMSURL         string `json:"wms_url,omitempty"`
	WFSURL         string `json:"wfs_url,omitempty"`
}

type ImportStatusResponse struct {
	ID                   uint                `json:"id"`
	Name                 string              `json:"name"`
	Status               string              `json:"status"`
	TableName            string              `json:"table_name"`
	Message              string              `json:"message,omitempty"`
	CreatedAt            time.Time           `json:"created_at"`
	GeoserverLayer       string              `json:"geoserver_layer,omitempty"`
	GeoserverWMSURL      string              `json:"geoserver_wms_url,omitempty"`
	GeoserverWFSURL      string              `json:"geoserver_wfs_url,omitempty"`
	PublishedToGeoserver bool                `json:"published_to_geoserver"`
	TableInfo            *services.TableInfo `json:"table_info,omitempty"`
}

type GeoserverInfoResponse struct {
	LayerName       string `json:"layer_name"`
	WMSURL          string `json:"wms_url"`
	WFSURL          string `json:"wfs_url"`
	CapabilitiesURL string `json:"capabilities_url"`
	Workspace       string `json:"workspace"`
	Datastore       string `json:"datastore"`
}
