package views

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/GrainArc/GeoImporter/models"
	"github.com/GrainArc/GeoImporter/services"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type ImportController struct {
	DB        *gorm.DB
	Importer  *services.ImportService
	Geoserver *services.GeoServerClient
}

func NewImportController(db *gorm.DB, importer *services.ImportService, geoserver *services.GeoServerClient) *ImportController {
	return &ImportController{
		DB:        db,
		Importer:  importer,
		Geoserver: geoserver,
	}
}

func (ic *ImportController) readUpload(c *gin.Context) ([]byte, string, bool) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File upload failed: " + err.Error()})
		return nil, "", false
	}
	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to open upload: " + err.Error()})
		return nil, "", false
	}
	defer src.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read upload: " + err.Error()})
		return nil, "", false
	}
	return data, file.Filename, true
}

func isValidationError(err error) bool {
	return errors.Is(err, services.ErrInvalidFormat) || errors.Is(err, services.ErrMissingShapefile)
}

// UploadShapefile 上传压缩包并导入空间库
func (ic *ImportController) UploadShapefile(c *gin.Context) {
	data, filename, ok := ic.readUpload(c)
	if !ok {
		return
	}

	record, err := ic.Importer.ImportArchive(data, filename)
	if err != nil {
		if isValidationError(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, UploadResponse{
		Message:   record.Message,
		ImportID:  record.ID,
		TableName: record.TableName,
	})
}

// UploadShapefileWithGeoserver 上传导入并立即发布到GeoServer
func (ic *ImportController) UploadShapefileWithGeoserver(c *gin.Context) {
	data, filename, ok := ic.readUpload(c)
	if !ok {
		return
	}

	record, err := ic.Importer.ImportArchive(data, filename)
	if err != nil {
		if isValidationError(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := ic.Geoserver.Publish(ic.DB, record); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, UploadResponse{
		Message:        "Shapefile imported and published to GeoServer successfully. " + record.Message,
		ImportID:       record.ID,
		TableName:      record.TableName,
		GeoserverLayer: record.GeoserverLayer,
		WMSURL:         record.GeoserverWMSURL,
		WFSURL:         record.GeoserverWFSURL,
	})
}

func (ic *ImportController) findRecord(c *gin.Context) (*models.ShapefileImport, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid import id"})
		return nil, false
	}
	record, err := ic.Importer.GetImport(uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Import record not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return nil, false
	}
	return record, true
}

func statusResponse(record *models.ShapefileImport, info *services.TableInfo) ImportStatusResponse {
	resp := ImportStatusResponse{
		ID:                   record.ID,
		Name:                 record.Name,
		Status:               record.Status,
		TableName:            record.TableName,
		Message:              record.Message,
		CreatedAt:            record.CreatedAt,
		GeoserverLayer:       record.GeoserverLayer,
		GeoserverWMSURL:      record.GeoserverWMSURL,
		GeoserverWFSURL:      record.GeoserverWFSURL,
		PublishedToGeoserver: record.PublishedToGeoserver,
	}
	if info != nil && info.Error == "" {
		resp.TableInfo = info
	}
	return resp
}

// GetImportStatus 查询单条导入记录，成功的导入附带表结构信息
func (ic *ImportController) GetImportStatus(c *gin.Context) {
	record, ok := ic.findRecord(c)
	if !ok {
		return
	}

	var info *services.TableInfo
	if record.Status == models.StatusSuccess {
		info = ic.Importer.GetTableInfo(record)
	}
	c.JSON(http.StatusOK, statusResponse(record, info))
}

// ListImports 列出全部导入记录，最新在前
func (ic *ImportController) ListImports(c *gin.Context) {
	records, err := ic.Importer.ListImports()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	imports := make([]ImportStatusResponse, 0, len(records))
	for i := range records {
		imports = append(imports, statusResponse(&records[i], nil))
	}
	c.JSON(http.StatusOK, gin.H{"imports": imports})
}

// DeleteImport 删除导入记录
func (ic *ImportController) DeleteImport(c *gin.Context) {
	record, ok := ic.findRecord(c)
	if !ok {
		return
	}

	if err := ic.Importer.DeleteImport(record.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Import record deleted successfully"})
}

// PublishToGeoserver 将成功导入的表发布为GeoServer图层
func (ic *ImportController) PublishToGeoserver(c *gin.Context) {
	record, ok := ic.findRecord(c)
	if !ok {
		return
	}

	if record.Status != models.StatusSuccess {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Import must be successful before publishing to GeoServer"})
		return
	}

	if err := ic.Geoserver.Publish(ic.DB, record); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, UploadResponse{
		Message:        "Layer published to GeoServer successfully",
		ImportID:       record.ID,
		TableName:      record.TableName,
		GeoserverLayer: record.GeoserverLayer,
		WMSURL:         record.GeoserverWMSURL,
		WFSURL:         record.GeoserverWFSURL,
	})
}

// UnpublishFromGeoserver 撤销发布并清空记录上的发布信息
func (ic *ImportController) UnpublishFromGeoserver(c *gin.Context) {
	record, ok := ic.findRecord(c)
	if !ok {
		return
	}

	if !record.PublishedToGeoserver || record.GeoserverLayer == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Layer is not published to GeoServer"})
		return
	}

	if err := ic.Geoserver.Unpublish(ic.DB, record); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Layer unpublished from GeoServer successfully"})
}

// GetGeoserverInfo 查询记录对应图层的发布信息
func (ic *ImportController) GetGeoserverInfo(c *gin.Context) {
	record, ok := ic.findRecord(c)
	if !ok {
		return
	}

	if !record.PublishedToGeoserver || record.GeoserverLayer == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "Layer not published to GeoServer"})
		return
	}

	c.JSON(http.StatusOK, GeoserverInfoResponse{
		LayerName:       record.GeoserverLayer,
		WMSURL:          record.GeoserverWMSURL,
		WFSURL:          record.GeoserverWFSURL,
		CapabilitiesURL: ic.Geoserver.CapabilitiesURL("wms"),
		Workspace:       ic.Geoserver.Workspace,
		Datastore:       ic.Geoserver.Datastore,
	})
}

// ListGeoserverLayers 透传GeoServer的图层列表
func (ic *ImportController) ListGeoserverLayers(c *gin.Context) {
	layers, err := ic.Geoserver.ListLayers()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", layers)
}

// PreviewImport 预览导入表的样本要素（GeoJSON）
func (ic *ImportController) PreviewImport(c *gin.Context) {
	record, ok := ic.findRecord(c)
	if !ok {
		return
	}

	if record.Status != models.StatusSuccess {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Import must be successful before preview"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	fc, err := ic.Importer.PreviewFeatures(record, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, fc)
}

// ProxyGeoserver WFS请求代理，转发GeoJSON格式的查询结果
func (ic *ImportController) ProxyGeoserver(c *gin.Context) {
	rawURL := c.Query("url")
	if rawURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url parameter is required"})
		return
	}
	decodedURL, err := url.QueryUnescape(rawURL)
	if err != nil {
		decodedURL = rawURL
	}

	body, status, err := ic.Geoserver.ProxyGeoJSON(decodedURL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Proxy error: " + err.Error()})
		return
	}
	c.Data(status, "application/json", body)
}
