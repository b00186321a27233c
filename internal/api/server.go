// Package api exposes the operator surface: health, alert lookup and
// alert triage over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/banking/fraud-detection/internal/config"
	"github.com/banking/fraud-detection/internal/pkg/logger"
)

// Server hosts the operator API.
type Server struct {
	echo *echo.Echo
	cfg  *config.ServerConfig
	log  *logger.Logger
}

// NewServer configures routes and middleware. Triage routes require a
// bearer token signed with the configured secret.
func NewServer(cfg *config.Config, h *Handler, log *logger.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.Secure())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.Security.AllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPatch},
	}))

	e.GET("/health", h.Health)

	v1 := e.Group("/api/v1", JWTMiddleware(cfg.Security.JWTSecret))
	v1.GET("/alerts/:transaction_id", h.GetAlert)
	v1.PATCH("/alerts/:transaction_id/status", h.UpdateAlertStatus)

	return &Server{echo: e, cfg: &cfg.Server, log: log.Named("api")}
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.log.Info("operator api listening", logger.StringField("addr", addr))
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
