package routers

import (
	"github.com/GrainArc/GeoImporter/views"
	"github.com/gin-gonic/gin"
)

func ImportRouters(r *gin.Engine, ic *views.ImportController) {
	importRouter := r.Group("/geoimporter")
	{
		importRouter.POST("/upload", ic.UploadShapefile)
		importRouter.POST("/upload-with-geoserver", ic.UploadShapefileWithGeoserver)
		importRouter.GET("/status/:id", ic.GetImportStatus)
		importRouter.GET("/list", ic.ListImports)
		importRouter.DELETE("/import/:id", ic.DeleteImport)
		importRouter.GET("/preview/:id", ic.PreviewImport)

		importRouter.POST("/publish/:id", ic.PublishToGeoserver)
		importRouter.POST("/unpublish/:id", ic.UnpublishFromGeoserver)
		importRouter.GET("/geoserver-info/:id", ic.GetGeoserverInfo)
		importRouter.GET("/geoserver/layers", ic.ListGeoserverLayers)
		importRouter.GET("/proxy", ic.ProxyGeoserver)
	}
}
