package services

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/GrainArc/GeoImporter/config"
	"github.com/GrainArc/GeoImporter/methods"
	"github.com/GrainArc/GeoImporter/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrInvalidFormat    = errors.New("please upload a zip or rar file containing shapefile")
	ErrMissingShapefile = errors.New("no .shp file found in archive")
)

// CommandRunner 外部命令执行边界，测试中替换以统计调用次数
type CommandRunner func(env []string, name string, args ...string) (stdout string, stderr string, err error)

func runCommand(env []string, name string, args ...string) (string, string, error) {
	cmd := exec.Command(name, args...)
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// ImportService shapefile导入服务：解压、几何类型探测、ogr2ogr入库、记录状态维护
type ImportService struct {
	DB        *gorm.DB
	Datastore *gorm.DB
	Conf      *config.Config
	Run       CommandRunner
}

func NewImportService(db *gorm.DB, datastore *gorm.DB, conf *config.Config) *ImportService {
	return &ImportService{
		DB:        db,
		Datastore: datastore,
		Conf:      conf,
		Run:       runCommand,
	}
}

// ExtractArchive 校验压缩包并解压到独立的临时目录，返回.shp文件路径
// 失败时临时目录由本函数清理，成功时由调用方负责清理
func (s *ImportService) ExtractArchive(data []byte, filename string) (scratchDir string, shpPath string, err error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext != ".zip" && ext != ".rar" {
		return "", "", ErrInvalidFormat
	}

	scratchDir = filepath.Join(s.Conf.DataPath, "TempFile", uuid.New().String())
	if err := os.MkdirAll(scratchDir, 0755); err != nil {
		return "", "", err
	}

	archivePath := filepath.Join(scratchDir, filepath.Base(filename))
	if err := os.WriteFile(archivePath, data, 0644); err != nil {
		os.RemoveAll(scratchDir)
		return "", "", err
	}

	if err := methods.Unzip(archivePath, scratchDir); err != nil {
		os.RemoveAll(scratchDir)
		return "", "", err
	}

	shpfiles := methods.FindFiles(scratchDir, "shp")
	if len(shpfiles) == 0 {
		os.RemoveAll(scratchDir)
		return "", "", ErrMissingShapefile
	}

	return scratchDir, shpfiles[0], nil
}

// ImportArchive 完整导入流程：解压 → 建记录 → ogr2ogr入库
// 校验失败不产生记录，转换失败的记录状态为error
func (s *ImportService) ImportArchive(data []byte, filename string) (*models.ShapefileImport, error) {
	scratchDir, shpPath, err := s.ExtractArchive(data, filename)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := os.RemoveAll(scratchDir); err != nil {
			log.Printf("清理临时目录失败 %s: %v", scratchDir, err)
		}
	}()

	record := &models.ShapefileImport{
		Name:     filepath.Base(filename),
		FilePath: shpPath,
		Status:   models.StatusProcessing,
	}
	if err := s.DB.Create(record).Error; err != nil {
		return nil, err
	}

	if err := s.ImportShapefile(record, shpPath); err != nil {
		return record, err
	}
	return record, nil
}

// DetectGeometryType 用ogrinfo探测几何类型，单一几何提升为Multi类型
// 探测失败返回Unknown，不影响导入流程
func (s *ImportService) DetectGeometryType(shpPath string) string {
	stdout, _, err := s.Run(nil, "ogrinfo", "-so", shpPath)
	if err != nil {
		return "Unknown"
	}

	for _, line := range strings.Split(stdout, "\n") {
		if !strings.Contains(line, "Geometry:") {
			continue
		}
		geomType := strings.TrimSpace(strings.SplitN(line, "Geometry:", 2)[1])
		switch {
		case strings.Contains(geomType, "Multi"):
			return geomType
		case strings.Contains(geomType, "Polygon"):
			return "MultiPolygon"
		case strings.Contains(geomType, "LineString"):
			return "MultiLineString"
		case strings.Contains(geomType, "Point"):
			return "MultiPoint"
		default:
			return geomType
		}
	}
	return "Unknown"
}

func (s *ImportService) convertArgs(shpPath string, tableName string, geomType string) []string {
	return []string{
		"-f", "PostgreSQL",
		s.Conf.OgrConnString(),
		shpPath,
		"-nln", tableName,
		"-overwrite",
		"-lco", "GEOMETRY_NAME=geom",
		"-lco", "FID=gid",
		"-nlt", geomType,
		"-lco", "SPATIAL_INDEX=GIST",
		"-lco", "PRECISION=NO",
		"-t_srs", "EPSG:4326",
	}
}

// ImportShapefile 两阶段入库：先按PROMOTE_TO_MULTI导入，
// 失败后降级为通用GEOMETRY类型重试一次，两阶段都失败才标记error
func (s *ImportService) ImportShapefile(record *models.ShapefileImport, shpPath string) error {
	record.TableName = "shapefile_" + uuid.New().String()[:8]
	geomType := s.DetectGeometryType(shpPath)
	env := []string{"PGPASSWORD=" + s.Conf.Password}

	_, _, err := s.Run(env, "ogr2ogr", s.convertArgs(shpPath, record.TableName, "PROMOTE_TO_MULTI")...)
	if err == nil {
		record.Status = models.StatusSuccess
		record.Message = fmt.Sprintf("Shapefile imported successfully. Geometry type: %s", geomType)
		return s.DB.Save(record).Error
	}

	_, stderr, err := s.Run(env, "ogr2ogr", s.convertArgs(shpPath, record.TableName, "GEOMETRY")...)
	if err == nil {
		record.Status = models.StatusSuccess
		record.Message = fmt.Sprintf("Shapefile imported successfully with GEOMETRY type. Detected: %s", geomType)
		return s.DB.Save(record).Error
	}

	record.Status = models.StatusError
	record.Message = stderr
	if saveErr := s.DB.Save(record).Error; saveErr != nil {
		log.Printf("保存导入记录失败: %v", saveErr)
	}
	return fmt.Errorf("error importing shapefile with GEOMETRY type: %s", stderr)
}

// ColumnInfo 表字段信息
type ColumnInfo struct {
	ColumnName string `gorm:"column:column_name" json:"column_name"`
	DataType   string `gorm:"column:data_type" json:"data_type"`
}

// TableInfo 导入表的结构信息，查询失败记录在Error字段而不上抛
type TableInfo struct {
	Columns      []ColumnInfo `json:"columns,omitempty"`
	RowCount     int64        `json:"row_count"`
	GeometryType string       `json:"geometry_type,omitempty"`
	SRID         int          `json:"srid,omitempty"`
	Error        string       `json:"error,omitempty"`
}

// GetTableInfo 查询导入表的字段、行数和几何信息
func (s *ImportService) GetTableInfo(record *models.ShapefileImport) *TableInfo {
	info := &TableInfo{}
	if s.Datastore == nil {
		info.Error = "datastore connection not available"
		return info
	}

	query := `
        SELECT column_name, data_type
        FROM information_schema.columns
        WHERE table_name = ?
        ORDER BY ordinal_position
    `
	if err := s.Datastore.Raw(query, record.TableName).Scan(&info.Columns).Error; err != nil {
		info.Error = err.Error()
		return info
	}
	if len(info.Columns) == 0 {
		info.Error = fmt.Sprintf("table %s does not exist", record.TableName)
		return info
	}

	countSQL := fmt.Sprintf("SELECT COUNT(*) FROM %s", record.TableName)
	if err := s.Datastore.Raw(countSQL).Scan(&info.RowCount).Error; err != nil {
		info.Error = err.Error()
		return info
	}

	geomSQL := fmt.Sprintf(`
        SELECT ST_GeometryType(geom) as geom_type, ST_SRID(geom) as srid
        FROM %s
        WHERE geom IS NOT NULL
        LIMIT 1
    `, record.TableName)
	rows, err := s.Datastore.Raw(geomSQL).Rows()
	if err != nil {
		info.Error = err.Error()
		return info
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&info.GeometryType, &info.SRID); err != nil {
			info.Error = err.Error()
			return info
		}
	}
	return info
}

// GetImport 按ID查询导入记录
func (s *ImportService) GetImport(id uint) (*models.ShapefileImport, error) {
	var record models.ShapefileImport
	if err := s.DB.First(&record, id).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// ListImports 按创建时间倒序列出全部导入记录
func (s *ImportService) ListImports() ([]models.ShapefileImport, error) {
	var records []models.ShapefileImport
	if err := s.DB.Order("created_at DESC, id DESC").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// DeleteImport 删除导入记录，空间库中的表和已发布图层不会级联删除
func (s *ImportService) DeleteImport(id uint) error {
	record, err := s.GetImport(id)
	if err != nil {
		return err
	}
	return s.DB.Delete(record).Error
}
