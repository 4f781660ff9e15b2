package config

import (
	"encoding/xml"
	"fmt"
	"os"
)

type Config struct {
	XMLName    xml.Name `xml:"config"`
	MainRouter string   `xml:"MainRouter"`
	DataPath   string   `xml:"DataPath"`
	DBPath     string   `xml:"dbpath"`

	// 空间数据库连接参数
	Host     string `xml:"host"`
	Port     string `xml:"port"`
	Dbname   string `xml:"dbname"`
	Username string `xml:"user"`
	Password string `xml:"password"`

	// GeoServer发布服务配置
	GeoserverURL      string `xml:"GeoserverURL"`
	GeoserverUser     string `xml:"GeoserverUser"`
	GeoserverPassword string `xml:"GeoserverPassword"`
	Workspace         string `xml:"workspace"`
	Datastore         string `xml:"datastore"`
}

// Load 读取XML配置文件，配置在main中构造一次后注入各服务
func Load(path string) (*Config, error) {
	xmlFile, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer xmlFile.Close()

	var conf Config
	if err := xml.NewDecoder(xmlFile).Decode(&conf); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	conf.applyDefaults()
	return &conf, nil
}

func (c *Config) applyDefaults() {
	if c.MainRouter == "" {
		c.MainRouter = ":8000"
	}
	if c.DataPath == "" {
		c.DataPath = "."
	}
	if c.DBPath == "" {
		c.DBPath = "geoimporter.db"
	}
	if c.GeoserverURL == "" {
		c.GeoserverURL = "http://localhost:8081/geoserver"
	}
	if c.GeoserverUser == "" {
		c.GeoserverUser = "admin"
	}
	if c.GeoserverPassword == "" {
		c.GeoserverPassword = "geoserver"
	}
	if c.Workspace == "" {
		c.Workspace = "geograph"
	}
	if c.Datastore == "" {
		c.Datastore = "shapefile_store"
	}
}

// DatastoreDSN 空间数据库的gorm连接串
func (c *Config) DatastoreDSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		c.Host, c.Username, c.Password, c.Dbname, c.Port)
}

// OgrConnString ogr2ogr的PG目标连接串，密码通过PGPASSWORD环境变量传递
func (c *Config) OgrConnString() string {
	return fmt.Sprintf("PG:host=%s port=%s dbname=%s user=%s",
		c.Host, c.Port, c.Dbname, c.Username)
}
