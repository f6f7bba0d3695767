package controllers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes mounts the public HTTP surface on r.
func RegisterRoutes(r *gin.Engine, streams *StreamController, stats *StatsController) {
	r.SetHTMLTemplate(Templates())

	r.GET("/", stats.Index)
	r.GET("/stats", stats.Stats)
	r.GET("/healthz", stats.Healthz)
	r.GET("/readyz", stats.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	for _, route := range []struct {
		path    string
		handler gin.HandlerFunc
	}{
		{"/watch/:message_id/:filename", streams.Watch},
		{"/dl/:message_id/:filename", streams.Download},
	} {
		r.GET(route.path, route.handler)
		r.HEAD(route.path, route.handler)
	}
	r.GET("/thumb/:message_id", streams.Thumbnail)

	// any other single segment is a short link
	r.GET("/:token", stats.ShortLink)
}
