package services

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/GrainArc/GeoImporter/config"
	"github.com/GrainArc/GeoImporter/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// fakeGeoServer 可配置各REST端点返回状态的GeoServer替身
type fakeGeoServer struct {
	mu sync.Mutex

	workspaceStatus   int
	datastoreStatus   int
	featureTypeStatus int
	deleteStatus      int

	requests          []string
	lastDatastoreBody []byte
}

func newFakeGeoServer() *fakeGeoServer {
	return &fakeGeoServer{
		workspaceStatus:   http.StatusCreated,
		datastoreStatus:   http.StatusCreated,
		featureTypeStatus: http.StatusCreated,
		deleteStatus:      http.StatusOK,
	}
}

func (f *fakeGeoServer) handler(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/rest/workspaces":
		w.WriteHeader(f.workspaceStatus)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/datastores"):
		f.lastDatastoreBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(f.datastoreStatus)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/featuretypes"):
		w.WriteHeader(f.featureTypeStatus)
	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/rest/layers/"):
		w.WriteHeader(f.deleteStatus)
	case r.Method == http.MethodGet && r.URL.Path == "/rest/layers":
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"layers":{"layer":[]}}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeGeoServer) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if strings.HasPrefix(r, prefix) {
			n++
		}
	}
	return n
}

func newTestClient(t *testing.T) (*GeoServerClient, *fakeGeoServer, *gorm.DB) {
	t.Helper()
	fake := newFakeGeoServer()
	server := httptest.NewServer(http.HandlerFunc(fake.handler))
	t.Cleanup(server.Close)

	conf := &config.Config{
		Host:              "127.0.0.1",
		Port:              "5432",
		Dbname:            "geodata",
		Username:          "postgres",
		Password:          "postgres",
		GeoserverURL:      server.URL,
		GeoserverUser:     "admin",
		GeoserverPassword: "geoserver",
		Workspace:         "geograph",
		Datastore:         "shapefile_store",
	}
	client := NewGeoServerClient(conf)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "records.db")), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		NamingStrategy: schema.NamingStrategy{SingularTable: true},
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.ShapefileImport{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return client, fake, db
}

func newSuccessRecord(t *testing.T, db *gorm.DB) *models.ShapefileImport {
	t.Helper()
	record := &models.ShapefileImport{
		Name:      "parcels.zip",
		TableName: "shapefile_ab12cd34",
		Status:    models.StatusSuccess,
	}
	if err := db.Create(record).Error; err != nil {
		t.Fatal(err)
	}
	return record
}

func TestPublishSetsRecordFields(t *testing.T) {
	client, _, db := newTestClient(t)
	record := newSuccessRecord(t, db)

	if err := client.Publish(db, record); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if !record.PublishedToGeoserver {
		t.Error("record must be marked published")
	}
	if record.GeoserverLayer != "layer_shapefile_ab12cd34" {
		t.Errorf("GeoserverLayer = %q", record.GeoserverLayer)
	}
	if !strings.Contains(record.GeoserverWMSURL, "request=GetMap") ||
		!strings.Contains(record.GeoserverWMSURL, "layers=geograph:layer_shapefile_ab12cd34") {
		t.Errorf("WMS URL = %q", record.GeoserverWMSURL)
	}
	if !strings.Contains(record.GeoserverWFSURL, "request=GetFeature") {
		t.Errorf("WFS URL = %q", record.GeoserverWFSURL)
	}

	var loaded models.ShapefileImport
	if err := db.First(&loaded, record.ID).Error; err != nil {
		t.Fatal(err)
	}
	if !loaded.PublishedToGeoserver || loaded.GeoserverLayer == "" {
		t.Error("publish result must be persisted")
	}
}

func TestPublishIdempotentOn409(t *testing.T) {
	client, fake, db := newTestClient(t)
	fake.workspaceStatus = http.StatusConflict
	fake.datastoreStatus = http.StatusConflict
	fake.featureTypeStatus = http.StatusConflict
	record := newSuccessRecord(t, db)

	if err := client.Publish(db, record); err != nil {
		t.Fatalf("first Publish() error = %v", err)
	}
	firstLayer := record.GeoserverLayer
	firstWMS := record.GeoserverWMSURL

	if err := client.Publish(db, record); err != nil {
		t.Fatalf("second Publish() error = %v", err)
	}
	if record.GeoserverLayer != firstLayer || record.GeoserverWMSURL != firstWMS {
		t.Error("repeated publish must yield identical layer and URLs")
	}
}

func TestPublishStepFailureAborts(t *testing.T) {
	client, fake, db := newTestClient(t)
	fake.datastoreStatus = http.StatusInternalServerError
	record := newSuccessRecord(t, db)

	err := client.Publish(db, record)
	if err == nil {
		t.Fatal("Publish() should fail when datastore creation fails")
	}

	var stepErr *PublishStepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("error type = %T, want *PublishStepError", err)
	}
	if stepErr.Step != "create datastore" {
		t.Errorf("Step = %q, want create datastore", stepErr.Step)
	}
	if record.PublishedToGeoserver {
		t.Error("record must not be marked published on step failure")
	}
	if fake.count("POST /rest/workspaces/geograph/datastores/shapefile_store/featuretypes") != 0 {
		t.Error("layer publication must not run after datastore failure")
	}
}

func TestUnpublishThenPublish(t *testing.T) {
	client, _, db := newTestClient(t)
	record := newSuccessRecord(t, db)

	if err := client.Publish(db, record); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	layer := record.GeoserverLayer

	if err := client.Unpublish(db, record); err != nil {
		t.Fatalf("Unpublish() error = %v", err)
	}
	if record.PublishedToGeoserver || record.GeoserverLayer != "" ||
		record.GeoserverWMSURL != "" || record.GeoserverWFSURL != "" {
		t.Error("unpublish must clear layer and URLs")
	}

	if err := client.Publish(db, record); err != nil {
		t.Fatalf("re-Publish() error = %v", err)
	}
	if !record.PublishedToGeoserver || record.GeoserverLayer != layer {
		t.Errorf("re-publish layer = %q, want %q", record.GeoserverLayer, layer)
	}
}

func TestUnpublishFailureKeepsRecord(t *testing.T) {
	client, fake, db := newTestClient(t)
	record := newSuccessRecord(t, db)
	if err := client.Publish(db, record); err != nil {
		t.Fatal(err)
	}

	fake.deleteStatus = http.StatusInternalServerError
	if err := client.Unpublish(db, record); err == nil {
		t.Fatal("Unpublish() should fail on unexpected delete status")
	}
	if !record.PublishedToGeoserver {
		t.Error("record must keep publish state when delete fails")
	}
}

func TestEnsureDatastoreBody(t *testing.T) {
	client, fake, _ := newTestClient(t)

	if err := client.EnsureDatastore("shapefile_store"); err != nil {
		t.Fatalf("EnsureDatastore() error = %v", err)
	}

	var req datastoreRequest
	if err := json.Unmarshal(fake.lastDatastoreBody, &req); err != nil {
		t.Fatalf("unmarshal datastore body: %v", err)
	}
	ds := req.DataStore
	if ds.Type != "PostGIS" || !ds.Enabled {
		t.Errorf("datastore body = %+v", ds)
	}
	cp := ds.ConnectionParameters
	if cp.DBType != "postgis" || cp.Schema != "public" || cp.Host != "127.0.0.1" ||
		cp.Database != "geodata" || cp.User != "postgres" {
		t.Errorf("connection parameters = %+v", cp)
	}
}

func TestServiceURLs(t *testing.T) {
	client, _, _ := newTestClient(t)

	wms := client.WMSURL("layer_x")
	if !strings.Contains(wms, "/wms?service=WMS") ||
		!strings.Contains(wms, "srs=EPSG:4326") ||
		!strings.Contains(wms, "format=image/png") {
		t.Errorf("WMSURL() = %q", wms)
	}

	wfs := client.WFSURL("layer_x")
	if !strings.Contains(wfs, "/wfs?service=WFS") ||
		!strings.Contains(wfs, "typeName=geograph:layer_x") {
		t.Errorf("WFSURL() = %q", wfs)
	}

	caps := client.CapabilitiesURL("wms")
	if !strings.Contains(caps, "request=GetCapabilities") || !strings.Contains(caps, "service=WMS") {
		t.Errorf("CapabilitiesURL() = %q", caps)
	}
}

func TestProxyGeoJSONAppendsOutputFormat(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"type":"FeatureCollection","features":[]}`))
	}))
	defer server.Close()

	client, _, _ := newTestClient(t)

	body, status, err := client.ProxyGeoJSON(server.URL + "/wfs?service=WFS&request=GetFeature")
	if err != nil {
		t.Fatalf("ProxyGeoJSON() error = %v", err)
	}
	if status != http.StatusOK {
		t.Errorf("status = %d", status)
	}
	if !strings.Contains(gotQuery, "outputFormat=application/json") {
		t.Errorf("forwarded query = %q, want outputFormat appended", gotQuery)
	}
	if !strings.Contains(string(body), "FeatureCollection") {
		t.Errorf("body = %s", body)
	}

	if _, _, err := client.ProxyGeoJSON(server.URL + "/wfs"); err != nil {
		t.Fatalf("ProxyGeoJSON() without query error = %v", err)
	}
	if !strings.HasPrefix(gotQuery, "outputFormat=") {
		t.Errorf("forwarded query = %q, want outputFormat as sole parameter", gotQuery)
	}
}
