package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// NewRouter assembles the HTTP surface: health, status and bot control
// endpoints, plus the websocket upgrade handler.
func NewRouter(h *BotHandler, serveWs http.HandlerFunc, allowedOrigins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware(allowedOrigins))

	r.GET("/", h.Health)
	r.GET("/status", h.Status)
	r.GET("/ws", gin.WrapF(serveWs))

	botGroup := r.Group("/bot")
	{
		botGroup.POST("/auto-reply/toggle", h.ToggleAutoReply)
		botGroup.POST("/auto-reply/messages", h.SetFallbackMessages)
		botGroup.POST("/ai/toggle", h.ToggleAI)
		botGroup.POST("/ai/clear-history", h.ClearHistory)
		botGroup.GET("/ai/stats", h.Stats)
		botGroup.POST("/config/save", h.SaveConfig)
	}

	return r
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(allowedOrigins))
	wildcard := len(allowedOrigins) == 0
	for _, o := range allowedOrigins {
		if o == "*" {
			wildcard = true
		}
		allowed[o] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if wildcard {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else if allowed[origin] {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
