package server

import (
	"github.com/gin-gonic/gin"
)

// NewRouter assembles the control-plane routes over the handler set.
func NewRouter(h *Handler, debug bool) *gin.Engine {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	user := router.Group("/user")
	{
		user.POST("/set_bitget_api", h.SetCredentials)
		user.DELETE("/reset_bitget_api", h.ResetCredentials)
		user.POST("/test_connection", h.TestConnection)
		user.GET("/limits", h.Limits)
		user.GET("/status", h.Status)
	}

	symbols := router.Group("/symbols")
	{
		symbols.GET("/all", h.AllSymbols)
		symbols.GET("/top", h.TopSymbols)
		symbols.GET("/:symbol/info", h.SymbolInfo)
	}

	router.GET("/ws/:symbol", h.Subscribe)
	router.GET("/health", h.Health)
	router.GET("/metrics/ws", h.BrokerMetrics)

	return router
}
