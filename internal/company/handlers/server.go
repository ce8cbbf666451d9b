// Package handlers exposes the canonical company shapes over a small REST
// façade, bridging HTTP and the form/workflow layers. Clients of this
// server never see the upstream's envelope drift.
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dkoval/ircrm/internal/company/auth"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// Server wraps the echo instance and its lifecycle.
type Server struct {
	echo   *echo.Echo
	logger *zap.Logger
	addr   string
}

// NewServer wires middleware and routes for the given handler.
func NewServer(port int, jwtSecret string, handler *CompanyHandler, logger *zap.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(auth.Middleware(jwtSecret))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy", "service": "ircrm"})
	})

	v1 := e.Group("/v1")
	v1.GET("/companies", handler.ListCompanies)
	v1.GET("/companies/:id", handler.GetCompany)
	v1.POST("/companies", handler.CreateCompany)
	v1.PATCH("/companies/:id", handler.UpdateCompany)
	v1.DELETE("/company_employees/:id", handler.DeleteEmployee)

	v1.GET("/drafts", handler.ListDrafts)
	v1.GET("/drafts/:id", handler.GetDraft)
	v1.POST("/drafts", handler.SaveDraft)
	v1.DELETE("/drafts/:id", handler.DeleteDraft)

	return &Server{
		echo:   e,
		logger: logger,
		addr:   fmt.Sprintf(":%d", port),
	}
}

// Start blocks serving HTTP until Stop or a listen error.
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.addr))
	if err := s.echo.Start(s.addr); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP serve error: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() {
	s.logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	s.logger.Info("Server stopped")
}
