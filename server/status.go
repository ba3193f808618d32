package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/eraiza0816/discord-archive/activity"
	"github.com/eraiza0816/discord-archive/archive"
	"github.com/eraiza0816/discord-archive/heartbeat"
	"github.com/eraiza0816/discord-archive/logging"
	"github.com/eraiza0816/discord-archive/notify"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Sources は /status が集計する各コンポーネントです。nil のものは省略されます。
type Sources struct {
	Heartbeat interface{ Status() heartbeat.Status }
	Activity  interface{ Status() activity.Status }
	Ledger    interface {
		Stats(ctx context.Context) (archive.LedgerStats, error)
	}
	Email interface{ Stats() notify.Stats }
	// Monitoring はメッセージ保存が有効かどうかを返します。
	Monitoring func() bool
}

type StatusResponse struct {
	Monitoring *bool                `json:"monitoring,omitempty"`
	Heartbeat  *heartbeat.Status    `json:"heartbeat,omitempty"`
	Activity   *activity.Status     `json:"activity,omitempty"`
	Ledger     *archive.LedgerStats `json:"ledger,omitempty"`
	LedgerErr  string               `json:"ledger_error,omitempty"`
	Email      *notify.Stats        `json:"email,omitempty"`
	Time       time.Time            `json:"time"`
}

type Server struct {
	addr    string
	sources Sources
	engine  *gin.Engine
	log     zerolog.Logger
	now     func() time.Time
}

func New(addr string, sources Sources) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		addr:    addr,
		sources: sources,
		engine:  engine,
		log:     logging.Component("status"),
		now:     time.Now,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.healthCheck)
	s.engine.GET("/status", s.status)
}

// Handler はテストや独自のサーバーに組み込むための http.Handler を返します。
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) status(c *gin.Context) {
	resp := StatusResponse{Time: s.now()}
	if s.sources.Monitoring != nil {
		on := s.sources.Monitoring()
		resp.Monitoring = &on
	}
	if s.sources.Heartbeat != nil {
		st := s.sources.Heartbeat.Status()
		resp.Heartbeat = &st
	}
	if s.sources.Activity != nil {
		st := s.sources.Activity.Status()
		resp.Activity = &st
	}
	if s.sources.Ledger != nil {
		st, err := s.sources.Ledger.Stats(c.Request.Context())
		if err != nil {
			s.log.Error().Err(err).Msg("ledger stats failed")
			resp.LedgerErr = err.Error()
		} else {
			resp.Ledger = &st
		}
	}
	if s.sources.Email != nil {
		st := s.sources.Email.Stats()
		resp.Email = &st
	}
	c.JSON(http.StatusOK, resp)
}

// Run は ctx が終了するまでサーバーを動かし、終了時に graceful shutdown します。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.addr).Msg("status server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.Info().Msg("status server stopped")
	return nil
}
