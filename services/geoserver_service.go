package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/GrainArc/GeoImporter/config"
	"github.com/GrainArc/GeoImporter/models"
	"gorm.io/gorm"
)

// GeoServerClient GeoServer REST接口客户端
// 创建类操作将409（已存在）视为成功，重复执行是安全的
type GeoServerClient struct {
	BaseURL   string
	Username  string
	Password  string
	Workspace string
	Datastore string

	conf       *config.Config
	httpClient *http.Client
}

func NewGeoServerClient(conf *config.Config) *GeoServerClient {
	return &GeoServerClient{
		BaseURL:   strings.TrimRight(conf.GeoserverURL, "/"),
		Username:  conf.GeoserverUser,
		Password:  conf.GeoserverPassword,
		Workspace: conf.Workspace,
		Datastore: conf.Datastore,
		conf:      conf,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// PublishStepError 发布流程中某一步的失败，Step标识失败环节
type PublishStepError struct {
	Step string
	Err  error
}

func (e *PublishStepError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Step, e.Err)
}

func (e *PublishStepError) Unwrap() error {
	return e.Err
}

type workspaceBody struct {
	Name string `json:"name"`
}

type workspaceRequest struct {
	Workspace workspaceBody `json:"workspace"`
}

type connectionParameters struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Database string `json:"database"`
	User     string `json:"user"`
	Passwd   string `json:"passwd"`
	DBType   string `json:"dbtype"`
	Schema   string `json:"schema"`
}

type datastoreBody struct {
	Name                 string               `json:"name"`
	Type                 string               `json:"type"`
	Enabled              bool                 `json:"enabled"`
	ConnectionParameters connectionParameters `json:"connectionParameters"`
}

type datastoreRequest struct {
	DataStore datastoreBody `json:"dataStore"`
}

type featureTypeBody struct {
	Name             string `json:"name"`
	NativeName       string `json:"nativeName"`
	Title            string `json:"title"`
	Abstract         string `json:"abstract"`
	Enabled          bool   `json:"enabled"`
	SRS              string `json:"srs"`
	NativeCRS        string `json:"nativeCRS"`
	ProjectionPolicy string `json:"projectionPolicy"`
}

type featureTypeRequest struct {
	FeatureType featureTypeBody `json:"featureType"`
}

func (g *GeoServerClient) doRequest(method string, url string, body interface{}) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return 0, nil, err
	}
	req.SetBasicAuth(g.Username, g.Password)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, respBody, nil
}

// EnsureWorkspace 创建工作区，已存在视为成功
func (g *GeoServerClient) EnsureWorkspace(name string) error {
	url := g.BaseURL + "/rest/workspaces"
	status, body, err := g.doRequest(http.MethodPost, url, workspaceRequest{Workspace: workspaceBody{Name: name}})
	if err != nil {
		return err
	}
	if status == http.StatusOK || status == http.StatusCreated || status == http.StatusConflict {
		return nil
	}
	return fmt.Errorf("unexpected status %d: %s", status, string(body))
}

// EnsureDatastore 创建PostGIS数据存储，连接参数来自注入的配置
func (g *GeoServerClient) EnsureDatastore(name string) error {
	url := fmt.Sprintf("%s/rest/workspaces/%s/datastores", g.BaseURL, g.Workspace)
	req := datastoreRequest{
		DataStore: datastoreBody{
			Name:    name,
			Type:    "PostGIS",
			Enabled: true,
			ConnectionParameters: connectionParameters{
				Host:     g.conf.Host,
				Port:     g.conf.Port,
				Database: g.conf.Dbname,
				User:     g.conf.Username,
				Passwd:   g.conf.Password,
				DBType:   "postgis",
				Schema:   "public",
			},
		},
	}
	status, body, err := g.doRequest(http.MethodPost, url, req)
	if err != nil {
		return err
	}
	if status == http.StatusOK || status == http.StatusCreated || status == http.StatusConflict {
		return nil
	}
	return fmt.Errorf("unexpected status %d: %s", status, string(body))
}

// PublishLayer 将空间库表发布为要素图层，强制声明EPSG:4326
func (g *GeoServerClient) PublishLayer(datastoreName string, tableName string, layerName string) error {
	url := fmt.Sprintf("%s/rest/workspaces/%s/datastores/%s/featuretypes", g.BaseURL, g.Workspace, datastoreName)
	req := featureTypeRequest{
		FeatureType: featureTypeBody{
			Name:             layerName,
			NativeName:       tableName,
			Title:            layerName,
			Abstract:         fmt.Sprintf("Layer imported from %s", tableName),
			Enabled:          true,
			SRS:              "EPSG:4326",
			NativeCRS:        "EPSG:4326",
			ProjectionPolicy: "FORCE_DECLARED",
		},
	}
	status, body, err := g.doRequest(http.MethodPost, url, req)
	if err != nil {
		return err
	}
	if status == http.StatusOK || status == http.StatusCreated || status == http.StatusConflict {
		return nil
	}
	return fmt.Errorf("unexpected status %d: %s", status, string(body))
}

// UnpublishLayer 删除已发布图层
func (g *GeoServerClient) UnpublishLayer(layerName string) error {
	url := fmt.Sprintf("%s/rest/layers/%s", g.BaseURL, layerName)
	status, body, err := g.doRequest(http.MethodDelete, url, nil)
	if err != nil {
		return err
	}
	if status == http.StatusOK || status == http.StatusNoContent {
		return nil
	}
	return fmt.Errorf("unexpected status %d: %s", status, string(body))
}

// GetLayerInfo 查询图层信息，原样返回GeoServer的JSON
func (g *GeoServerClient) GetLayerInfo(layerName string) (json.RawMessage, error) {
	url := fmt.Sprintf("%s/rest/layers/%s", g.BaseURL, layerName)
	status, body, err := g.doRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", status, string(body))
	}
	return json.RawMessage(body), nil
}

// ListLayers 列出GeoServer上的全部图层，原样返回JSON
func (g *GeoServerClient) ListLayers() (json.RawMessage, error) {
	url := g.BaseURL + "/rest/layers"
	status, body, err := g.doRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", status, string(body))
	}
	return json.RawMessage(body), nil
}

// LayerName 由表名推导确定的图层名，重复发布指向同一图层
func (g *GeoServerClient) LayerName(tableName string) string {
	return "layer_" + tableName
}

// WMSURL 图层的WMS服务地址
func (g *GeoServerClient) WMSURL(layerName string) string {
	return fmt.Sprintf("%s/wms?service=WMS&version=1.1.0&request=GetMap&layers=%s:%s&styles=&bbox=-180,-90,180,90&width=768&height=384&srs=EPSG:4326&format=image/png",
		g.BaseURL, g.Workspace, layerName)
}

// WFSURL 图层的WFS服务地址
func (g *GeoServerClient) WFSURL(layerName string) string {
	return fmt.Sprintf("%s/wfs?service=WFS&version=1.0.0&request=GetFeature&typeName=%s:%s&maxFeatures=50",
		g.BaseURL, g.Workspace, layerName)
}

// CapabilitiesURL 服务能力文档地址
func (g *GeoServerClient) CapabilitiesURL(serviceType string) string {
	return fmt.Sprintf("%s/%s?service=%s&version=1.1.0&request=GetCapabilities",
		g.BaseURL, serviceType, strings.ToUpper(serviceType))
}

// Publish 发布流程：工作区 → 数据存储 → 图层 → 回写记录
// 任一步失败则中止，已完成的步骤保留（各步骤幂等，重试安全）
func (g *GeoServerClient) Publish(db *gorm.DB, record *models.ShapefileImport) error {
	if err := g.EnsureWorkspace(g.Workspace); err != nil {
		return &PublishStepError{Step: "create workspace", Err: err}
	}
	if err := g.EnsureDatastore(g.Datastore); err != nil {
		return &PublishStepError{Step: "create datastore", Err: err}
	}

	layerName := g.LayerName(record.TableName)
	if err := g.PublishLayer(g.Datastore, record.TableName, layerName); err != nil {
		return &PublishStepError{Step: "publish layer", Err: err}
	}

	record.GeoserverLayer = layerName
	record.GeoserverWMSURL = g.WMSURL(layerName)
	record.GeoserverWFSURL = g.WFSURL(layerName)
	record.PublishedToGeoserver = true
	if err := db.Save(record).Error; err != nil {
		return &PublishStepError{Step: "update record", Err: err}
	}
	return nil
}

// Unpublish 删除图层并清空记录上的发布信息
func (g *GeoServerClient) Unpublish(db *gorm.DB, record *models.ShapefileImport) error {
	if err := g.UnpublishLayer(record.GeoserverLayer); err != nil {
		return &PublishStepError{Step: "delete layer", Err: err}
	}

	record.GeoserverLayer = ""
	record.GeoserverWMSURL = ""
	record.GeoserverWFSURL = ""
	record.PublishedToGeoserver = false
	if err := db.Save(record).Error; err != nil {
		return &PublishStepError{Step: "update record", Err: err}
	}
	return nil
}

// ProxyGeoJSON WFS请求代理，附加GeoJSON输出格式后转发
func (g *GeoServerClient) ProxyGeoJSON(rawURL string) ([]byte, int, error) {
	separator := "?"
	if strings.Contains(rawURL, "?") {
		separator = "&"
	}
	geojsonURL := rawURL + separator + "outputFormat=application/json"

	resp, err := g.httpClient.Get(geojsonURL)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}
