package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		bots := v1.Group("/bots")
		{
			bots.POST("", s.handleStartBot)
			bots.GET("", s.handleListBots)
			bots.GET("/:id", s.handleGetBot)
			bots.POST("/:id/stop", s.handleStopBot)
			bots.DELETE("/:id", s.handleRemoveBot)
			bots.POST("/:id/trade", s.handleManualTrade)
		}

		v1.GET("/trades", s.handleTrades)
		v1.GET("/autonomous/status", s.handleAutonomousStatus)
	}

	s.router.GET("/ws", s.handleWebSocket)
	s.router.GET("/health", s.handleHealth)
	if !s.metricsOff {
		s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
	s.router.GET("/", s.handleRoot)
}
