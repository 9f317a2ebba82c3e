package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/log"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	slogecho "github.com/samber/slog-echo"

	"github.com/84hero/burn-notifier/internal/pipeline"
	"github.com/84hero/burn-notifier/internal/webhook"
)

// maxBodyBytes caps an inbound batch.
const maxBodyBytes = 1 << 20

// BatchFormatError reports an inbound body that is not a valid batch.
type BatchFormatError struct {
	Reason string
	Err    error
}

func (e *BatchFormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed batch: %s: %v", e.Reason, e.Err)
	}
	return "malformed batch: " + e.Reason
}

func (e *BatchFormatError) Unwrap() error { return e.Err }

// Processor runs a batch of transfer events.
type Processor interface {
	Process(ctx context.Context, events []pipeline.RawTransferEvent) *pipeline.Report
}

// Config holds the HTTP server settings.
type Config struct {
	Addr          string
	WebhookSecret string // Empty disables signature checks
}

// Server holds the Echo instance.
type Server struct {
	e      *echo.Echo
	cfg    Config
	proc   Processor
	secret []byte
}

// New creates the server and registers its routes.
func New(logger *slog.Logger, proc Processor, cfg Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(slogecho.New(logger))
	e.Use(middleware.Recover())

	s := &Server{
		e:      e,
		cfg:    cfg,
		proc:   proc,
		secret: []byte(cfg.WebhookSecret),
	}

	e.POST("/webhook", s.handleWebhook)
	e.GET("/healthz", s.handleHealth)

	return s
}

// Handler exposes the router (Testing/embedding)
func (s *Server) Handler() http.Handler { return s.e }

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	log.Info("HTTP server listening", "addr", s.cfg.Addr)
	err := s.e.Start(s.cfg.Addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for in-flight batches.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

type batchRequest struct {
	Txs *[]pipeline.RawTransferEvent `json:"txs"`
}

// ParseBatch decodes an inbound body into events.
func ParseBatch(body []byte) ([]pipeline.RawTransferEvent, error) {
	var req batchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, &BatchFormatError{Reason: "invalid json", Err: err}
	}
	if req.Txs == nil {
		return nil, &BatchFormatError{Reason: "missing txs"}
	}
	for i, tx := range *req.Txs {
		if tx.Hash == "" {
			return nil, &BatchFormatError{Reason: fmt.Sprintf("txs[%d] has no hash", i)}
		}
	}
	return *req.Txs, nil
}

func (s *Server) handleWebhook(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodyBytes))
	if err != nil {
		return s.reject(c, &BatchFormatError{Reason: "unreadable body", Err: err})
	}

	if len(s.secret) > 0 && !webhook.Verify(s.secret, body, c.Request().Header.Get(webhook.SignatureHeader)) {
		log.Warn("Rejected webhook with bad signature", "remote", c.RealIP())
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
	}

	events, err := ParseBatch(body)
	if err != nil {
		return s.reject(c, err)
	}

	// A dropped connection must not abandon a half-processed batch.
	report := s.proc.Process(context.WithoutCancel(c.Request().Context()), events)

	counts := report.Counts()
	return c.JSON(http.StatusOK, map[string]any{
		"status":    "processed",
		"processed": counts[pipeline.StatusProcessed],
		"skipped":   counts[pipeline.StatusSkipped],
		"failed":    counts[pipeline.StatusFailed],
	})
}

func (s *Server) reject(c echo.Context, err error) error {
	log.Error("Webhook processing failed", "err", err)
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
