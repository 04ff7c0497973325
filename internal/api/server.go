package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/sensortrack/telemetry-hub/internal/models"
	"github.com/sensortrack/telemetry-hub/pkg/jwt"
)

// Broadcaster is the hub surface the HTTP triggers drive.
type Broadcaster interface {
	Publish(sensorID string, readings map[string]any, companyID string) bool
	Notify(target models.TargetType, targetID, notificationType, message string, senderID int) error
}

// TimeSeriesReader serves the historical query endpoints.
type TimeSeriesReader interface {
	QueryRange(ctx context.Context, sensorID string, start, end time.Time) ([]map[string]any, error)
	QueryAggregate(ctx context.Context, sensorID, field, window string, start, end time.Time) ([]map[string]any, error)
}

// ReadingReader serves the latest durable record for a sensor.
type ReadingReader interface {
	LatestReading(ctx context.Context, sensorID string) (*models.SensorReadingRecord, error)
}

// Auditor records reads and manual broadcasts.
type Auditor interface {
	Record(ctx context.Context, userID int, action models.LogAction, details map[string]any, sourceAddress string)
}

// WebsocketHandler lets the hosting process mount the hub's upgrade
// endpoint on the same listener as the API.
type WebsocketHandler func(w http.ResponseWriter, r *http.Request)

// Server is the HTTP surface: the manual publish/notify triggers, the
// time-series query endpoints, the websocket upgrade path, and health.
type Server struct {
	addr       string
	router     *gin.Engine
	httpServer *http.Server
	logger     zerolog.Logger

	mu sync.Mutex
}

// NewServer creates the HTTP server and wires its routes.
func NewServer(
	addr string,
	verifier jwt.VerifierInterface,
	broadcaster Broadcaster,
	timeseries TimeSeriesReader,
	readings ReadingReader,
	auditor Auditor,
	wsHandler WebsocketHandler,
	logger zerolog.Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	h := &handlers{
		broadcaster: broadcaster,
		timeseries:  timeseries,
		readings:    readings,
		auditor:     auditor,
		logger:      logger,
	}

	router.GET("/health", h.health)
	router.GET("/ws", gin.WrapF(http.HandlerFunc(wsHandler)))

	authed := router.Group("/api")
	authed.Use(bearerAuth(verifier, logger))
	{
		authed.GET("/sensors/:sensorId/latest", h.sensorLatest)
		authed.GET("/sensors/:sensorId/timeseries", h.sensorTimeseries)
		authed.GET("/sensors/:sensorId/analytics", h.sensorAnalytics)
		authed.POST("/sensors/:sensorId/publish", h.publishReadings)
		authed.POST("/notifications", requireAdmin(), h.sendNotification)
	}

	return &Server{
		addr:   addr,
		router: router,
		logger: logger,
	}
}

// Start begins serving in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer != nil {
		return errors.New("http server is already running")
	}
	s.httpServer = &http.Server{Addr: s.addr, Handler: s.router}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	s.logger.Info().Str("address", s.addr).Msg("HTTP server started")
	return nil
}

// Stop drains the listener.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer == nil {
		return errors.New("http server is not running")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.httpServer.Shutdown(ctx)
	s.httpServer = nil

	s.logger.Info().Msg("HTTP server stopped")
	return err
}

// Router exposes the gin engine for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
