// Package httpapi serves the read-only monitoring API over the ingested
// corpus. Writes stay with the pipeline and the CLI.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/halcyonbio/pharmawatch/internal/config"
	"github.com/halcyonbio/pharmawatch/internal/db"
	"github.com/halcyonbio/pharmawatch/internal/globaltime"
)

const (
	defaultPageSize = 25
	maxPageSize     = 200
	maxOffset       = 1_000_000
)

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type Server struct {
	pool   *db.Pool
	cfg    *config.Config
	logger zerolog.Logger
	opts   Options
}

func NewServer(pool *db.Pool, cfg *config.Config, logger zerolog.Logger, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := opts.Port
	if port <= 0 {
		port = 8090
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	return &Server{
		pool:   pool,
		cfg:    cfg,
		logger: logger,
		opts: Options{
			Host:            host,
			Port:            port,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
		},
	}
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	origins := s.cfg.CORSAllowedOriginsList()
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       3600,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("remote_ip", v.RemoteIP).
					Str("request_id", v.RequestID).
					Msg("http request failed")
				return nil
			}

			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.GET("/stats", s.handleStats)
	api.GET("/records", s.handleRecords)
	api.GET("/records/:record_uuid", s.handleRecordDetail)
	api.GET("/entities", s.handleEntities)
	api.GET("/entities/:entity_key/records", s.handleEntityRecords)
	api.GET("/runs", s.handleRuns)

	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("pharmawatch api server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("pharmawatch api server stopped")
	return nil
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	if he, ok := err.(*echo.HTTPError); ok {
		status = he.Code
		switch v := he.Message.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				message = v
			}
		default:
			if text := strings.TrimSpace(http.StatusText(status)); text != "" {
				message = text
			}
		}
	} else if err != nil {
		message = err.Error()
	}

	if strings.HasPrefix(c.Request().URL.Path, "/api/") {
		if status >= 500 {
			_ = internalError(c, "Internal server error")
			return
		}
		_ = fail(c, status, message, nil)
		return
	}

	_ = c.String(status, message)
}

func (s *Server) handleHealth(c echo.Context) error {
	status := "ok"
	database := "ok"
	if err := s.pool.DB().PingContext(c.Request().Context()); err != nil {
		s.logger.Error().Err(err).Msg("database ping failed")
		status = "degraded"
		database = err.Error()
	}
	return success(c, map[string]any{
		"status":   status,
		"database": database,
		"service":  "pharmawatch",
		"time":     globaltime.UTC(),
	})
}

// statsPayload flattens the corpus stats and adds the staleness flag:
// stale means no batch has committed within the configured threshold.
type statsPayload struct {
	*db.IngestStats
	Stale bool `json:"stale"`
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.pool.QueryIngestStats(c.Request().Context(), 10)
	if err != nil {
		s.logger.Error().Err(err).Msg("query stats failed")
		return internalError(c, "Failed to load stats")
	}

	stale := stats.LastCommitAt == nil ||
		globaltime.UTC().Sub(*stats.LastCommitAt) > s.cfg.StalenessThreshold()
	return success(c, statsPayload{IngestStats: stats, Stale: stale})
}

func (s *Server) handleRecords(c echo.Context) error {
	limit, err := parseIntParam(c.QueryParam("limit"), defaultPageSize, 1, maxPageSize)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}
	offset, err := parseIntParam(c.QueryParam("offset"), 0, 0, maxOffset)
	if err != nil {
		return failValidation(c, map[string]string{"offset": err.Error()})
	}

	from, err := parseTimeFilter(c.QueryParam("from"), false)
	if err != nil {
		return failValidation(c, map[string]string{"from": "must be RFC3339 or YYYY-MM-DD"})
	}
	to, err := parseTimeFilter(c.QueryParam("to"), true)
	if err != nil {
		return failValidation(c, map[string]string{"to": "must be RFC3339 or YYYY-MM-DD"})
	}
	if from != nil && to != nil && from.After(*to) {
		return failValidation(c, map[string]string{"time_range": "from must be <= to"})
	}

	entityUUID := strings.TrimSpace(c.QueryParam("entity"))
	if entityUUID != "" {
		if _, err := uuid.Parse(entityUUID); err != nil {
			return failValidation(c, map[string]string{"entity": "must be an entity UUID"})
		}
	}

	opts := db.RecordListOptions{
		Kind:           strings.TrimSpace(strings.ToLower(c.QueryParam("kind"))),
		Source:         strings.TrimSpace(strings.ToLower(c.QueryParam("source"))),
		SentimentLabel: strings.TrimSpace(strings.ToLower(c.QueryParam("sentiment"))),
		Search:         strings.TrimSpace(c.QueryParam("q")),
		EntityUUID:     entityUUID,
		Limit:          limit,
		Offset:         offset,
	}
	if from != nil {
		opts.Since = *from
	}
	if to != nil {
		opts.Until = *to
	}

	items, err := s.pool.ListRecords(c.Request().Context(), opts)
	if err != nil {
		s.logger.Error().Err(err).Msg("query records failed")
		return internalError(c, "Failed to load records")
	}

	return success(c, map[string]any{
		"items":  items,
		"limit":  limit,
		"offset": offset,
		"filters": map[string]any{
			"kind":      opts.Kind,
			"source":    opts.Source,
			"sentiment": opts.SentimentLabel,
			"q":         opts.Search,
			"entity":    opts.EntityUUID,
			"from":      from,
			"to":        to,
		},
	})
}

func (s *Server) handleRecordDetail(c echo.Context) error {
	recordUUID := strings.TrimSpace(c.Param("record_uuid"))
	if _, err := uuid.Parse(recordUUID); err != nil {
		return failValidation(c, map[string]string{"record_uuid": "must be a UUID"})
	}

	detail, err := s.pool.GetRecordByUUID(c.Request().Context(), recordUUID)
	if err != nil {
		if db.IsNoRows(err) {
			return failNotFound(c, "Record not found")
		}
		s.logger.Error().Err(err).Str("record_uuid", recordUUID).Msg("query record detail failed")
		return internalError(c, "Failed to load record")
	}
	return success(c, detail)
}

func (s *Server) handleEntities(c echo.Context) error {
	limit, err := parseIntParam(c.QueryParam("limit"), defaultPageSize, 1, maxPageSize)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}
	offset, err := parseIntParam(c.QueryParam("offset"), 0, 0, maxOffset)
	if err != nil {
		return failValidation(c, map[string]string{"offset": err.Error()})
	}

	opts := db.EntityListOptions{
		Kind:   strings.TrimSpace(strings.ToLower(c.QueryParam("kind"))),
		Search: strings.TrimSpace(c.QueryParam("q")),
		Limit:  limit,
		Offset: offset,
	}
	items, err := s.pool.ListEntities(c.Request().Context(), opts)
	if err != nil {
		s.logger.Error().Err(err).Msg("query entities failed")
		return internalError(c, "Failed to load entities")
	}

	return success(c, map[string]any{
		"items":  items,
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) handleEntityRecords(c echo.Context) error {
	key := strings.TrimSpace(c.Param("entity_key"))
	if key == "" {
		return failValidation(c, map[string]string{"entity": "is required"})
	}
	limit, err := parseIntParam(c.QueryParam("limit"), defaultPageSize, 1, maxPageSize)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}
	offset, err := parseIntParam(c.QueryParam("offset"), 0, 0, maxOffset)
	if err != nil {
		return failValidation(c, map[string]string{"offset": err.Error()})
	}

	entity, err := s.pool.FindEntity(c.Request().Context(), key)
	if err != nil {
		if db.IsNoRows(err) {
			return failNotFound(c, "Entity not found")
		}
		s.logger.Error().Err(err).Str("entity", key).Msg("query entity failed")
		return internalError(c, "Failed to load entity")
	}

	items, err := s.pool.ListRecords(c.Request().Context(), db.RecordListOptions{
		EntityUUID: entity.EntityUUID,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("entity_uuid", entity.EntityUUID).Msg("query entity records failed")
		return internalError(c, "Failed to load entity records")
	}

	return success(c, map[string]any{
		"entity": entity,
		"items":  items,
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) handleRuns(c echo.Context) error {
	limit, err := parseIntParam(c.QueryParam("limit"), defaultPageSize, 1, maxPageSize)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}

	opts := db.RunListOptions{
		Source: strings.TrimSpace(strings.ToLower(c.QueryParam("source"))),
		State:  strings.TrimSpace(strings.ToLower(c.QueryParam("state"))),
		Limit:  limit,
	}
	items, err := s.pool.ListRuns(c.Request().Context(), opts)
	if err != nil {
		s.logger.Error().Err(err).Msg("query runs failed")
		return internalError(c, "Failed to load runs")
	}

	return success(c, map[string]any{
		"items": items,
		"limit": limit,
	})
}

func parseIntParam(raw string, defaultValue, minValue, maxValue int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if value < minValue || value > maxValue {
		return 0, fmt.Errorf("must be between %d and %d", minValue, maxValue)
	}
	return value, nil
}

func parseTimeFilter(raw string, endOfDay bool) (*time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}

	if ts, err := time.Parse(time.RFC3339, trimmed); err == nil {
		utc := ts.UTC()
		return &utc, nil
	}

	if day, err := time.Parse("2006-01-02", trimmed); err == nil {
		utc := day.UTC()
		if endOfDay {
			utc = utc.Add((24 * time.Hour) - time.Nanosecond)
		}
		return &utc, nil
	}

	return nil, fmt.Errorf("invalid time format")
}
