package main

import (
	"log"

	"github.com/GrainArc/GeoImporter/config"
	"github.com/GrainArc/GeoImporter/models"
	"github.com/GrainArc/GeoImporter/routers"
	"github.com/GrainArc/GeoImporter/services"
	"github.com/GrainArc/GeoImporter/views"
	"github.com/gin-gonic/gin"
)

func main() {
	conf, err := config.Load("config.xml")
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	if err := models.InitDB(conf); err != nil {
		log.Fatalf("初始化数据库失败: %v", err)
	}

	// 空间库连不上时仍可接收导入请求，仅表结构查询和预览降级
	datastore, err := models.OpenDatastore(conf)
	if err != nil {
		log.Printf("连接空间数据库失败: %v", err)
		datastore = nil
	}

	importer := services.NewImportService(models.DB, datastore, conf)
	geoserver := services.NewGeoServerClient(conf)
	controller := views.NewImportController(models.DB, importer, geoserver)

	r := gin.Default()
	r.MaxMultipartMemory = 256 << 20
	routers.ImportRouters(r, controller)

	log.Printf("服务启动: %s", conf.MainRouter)
	if err := r.Run(conf.MainRouter); err != nil {
		log.Fatalf("服务启动失败: %v", err)
	}
}
