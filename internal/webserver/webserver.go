package webserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/milkywaybrain/cryptorelay/internal/config"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	// Name is the service name reported by the health endpoint.
	Name = "cryptorelay"

	shutdownTimeout = 5 * time.Second
)

// Version is the service version reported by the health endpoint, set at build time.
var Version = "dev"

// Alive is the health endpoint response.
type Alive struct {
	Name            string   `json:"Name"`
	Version         string   `json:"Version"`
	Env             *string  `json:"Env"`
	IsDebug         bool     `json:"IsDebug"`
	IssueIndicators []string `json:"IssueIndicators"`
}

// Server serves the health and metrics endpoints.
type Server struct {
	srv *http.Server
}

// New creates the http server with its routes.
func New(cfg *config.Webserver) *Server {
	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.Use(gin.Recovery())

	e.GET("/api/isAlive", func(c *gin.Context) {
		c.JSON(http.StatusOK, Alive{
			Name:            Name,
			Version:         Version,
			IsDebug:         gin.IsDebugging(),
			IssueIndicators: []string{},
		})
	})
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return &Server{srv: &http.Server{Addr: cfg.Address, Handler: e}}
}

// Handler returns the http handler of the server.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Run serves till ctx is done, then shuts the server down.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("address", s.srv.Addr).Msg("webserver listening")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Wrap(err, "webserver")
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Stack().Err(errors.WithStack(err)).Msg("")
		}
		return ctx.Err()
	}
}
