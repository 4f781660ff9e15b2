package models

import (
	"log"
	"os"
	"path/filepath"

	"github.com/GrainArc/GeoImporter/config"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

var DB *gorm.DB

// InitDB 初始化记录数据库（SQLite）
func InitDB(conf *config.Config) error {
	dbPath := conf.DBPath
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			log.Printf("创建存储目录失败: %v", err)
			return err
		}
	}

	var err error
	DB, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.Printf("连接数据库失败: %v", err)
		return err
	}

	DB.NamingStrategy = schema.NamingStrategy{
		SingularTable: true,
	}

	// 自动迁移，创建表结构
	if err := DB.AutoMigrate(&ShapefileImport{}); err != nil {
		log.Printf("数据库迁移失败: %v", err)
		return err
	}

	log.Println("数据库初始化成功")
	return nil
}

// OpenDatastore 连接空间数据库（PostGIS），用于表结构查询和数据预览
func OpenDatastore(conf *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(conf.DatastoreDSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	return db, nil
}
