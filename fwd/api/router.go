package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

/********** Router **********/
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	// 中间件：Recovery + 日志
	r.Use(gin.Recovery(), gin.Logger())

	api := r.Group("/api")
	{
		api.GET("/forwards", s.listForwards)
		api.POST("/forwards", s.createForward)
		api.POST("/forwards/resync", s.resync)
		api.GET("/forwards/:id", s.getForward)
		api.PUT("/forwards/:id", s.updateForward)
		api.DELETE("/forwards/:id", s.deleteForward)
		api.POST("/forwards/:id/toggle", s.toggleForward)

		api.GET("/bindings", s.listBindings)
		api.GET("/logs", s.recentLogs)
		api.GET("/system", s.systemInfo)
	}

	r.GET("/ws/logs", s.tailLogs)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.App.Metrics.Registry, promhttp.HandlerOpts{})))

	r.NoRoute(func(c *gin.Context) {
		p := c.Request.URL.Path
		if strings.HasPrefix(p, "/api/") || strings.HasPrefix(p, "/ws/") {
			fail(c, http.StatusNotFound, "not found")
			return
		}
		fail(c, http.StatusNotFound, "not found: "+p)
	})
	return r
}
