// Package api assembles the gin engine serving the gateway's inbound
// surface.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/relaymesh/ccgate/internal/api/handlers"
	"github.com/relaymesh/ccgate/internal/api/middleware"
	"github.com/relaymesh/ccgate/internal/config"
	"github.com/relaymesh/ccgate/internal/relay"
	"github.com/relaymesh/ccgate/internal/upstream"
)

// NewEngine wires routes and middleware. POST /v1/messages goes through the
// relay; every other /v1 path is forwarded untouched.
func NewEngine(store *config.Store, orch *relay.Orchestrator, dispatcher *upstream.Dispatcher) *gin.Engine {
	if !store.Current().Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestID())
	engine.Use(middleware.RequestLogging())

	h := handlers.NewRelay(store, orch, dispatcher)

	engine.POST("/v1/messages", h.Messages)
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.NoRoute(h.Forward)

	return engine
}
