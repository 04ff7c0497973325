package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/mem"

	"github.com/sensortrack/telemetry-hub/internal/hub"
	"github.com/sensortrack/telemetry-hub/internal/models"
	"github.com/sensortrack/telemetry-hub/internal/store"
)

type handlers struct {
	broadcaster Broadcaster
	timeseries  TimeSeriesReader
	readings    ReadingReader
	auditor     Auditor
	logger      zerolog.Logger
}

// health reports liveness plus basic process stats.
func (h *handlers) health(c *gin.Context) {
	payload := gin.H{
		"status":  "healthy",
		"service": "telemetry-hub",
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		payload["memory_used_percent"] = vm.UsedPercent
	}
	c.JSON(http.StatusOK, payload)
}

type publishRequest struct {
	Readings  map[string]any `json:"readings" binding:"required"`
	CompanyID string         `json:"company_id"`
}

// publishReadings pushes ad hoc readings to the live rooms for a sensor.
func (h *handlers) publishReadings(c *gin.Context) {
	sensorID := c.Param("sensorId")

	var req publishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "readings object required"})
		return
	}

	if !h.broadcaster.Publish(sensorID, req.Readings, req.CompanyID) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "message": "distribution hub unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

type notificationRequest struct {
	TargetType string `json:"target_type" binding:"required"`
	TargetID   string `json:"target_id"`
	Type       string `json:"type" binding:"required"`
	Message    string `json:"message" binding:"required"`
}

// sendNotification delivers an operator notification to a company room, a
// sensor room, or every connected viewer.
func (h *handlers) sendNotification(c *gin.Context) {
	identity := identityFrom(c)

	var req notificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "target_type, type and message are required"})
		return
	}

	err := h.broadcaster.Notify(models.TargetType(req.TargetType), req.TargetID, req.Type, req.Message, identity.UserID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "success"})
	case errors.Is(err, hub.ErrUnknownTarget):
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
	default:
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "message": err.Error()})
	}
}

// sensorLatest returns the most recent durable record for a sensor.
func (h *handlers) sensorLatest(c *gin.Context) {
	identity := identityFrom(c)
	sensorID := c.Param("sensorId")

	record, err := h.readings.LatestReading(c.Request.Context(), sensorID)
	if errors.Is(err, store.ErrNoReadings) {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "no readings for sensor"})
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("sensor_id", sensorID).Msg("Latest-reading query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "failed to query sensor data"})
		return
	}

	h.auditor.Record(c.Request.Context(), identity.UserID, models.ActionViewedSensorData, map[string]any{
		"sensor_id": sensorID,
	}, c.ClientIP())

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data":   record,
	})
}

// sensorTimeseries returns the raw points for a sensor in a time range,
// defaulting to the last 24 hours.
func (h *handlers) sensorTimeseries(c *gin.Context) {
	identity := identityFrom(c)
	sensorID := c.Param("sensorId")
	start, end := timeRange(c)

	readings, err := h.timeseries.QueryRange(c.Request.Context(), sensorID, start, end)
	if err != nil {
		h.logger.Error().Err(err).Str("sensor_id", sensorID).Msg("Time-series query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "failed to query sensor data"})
		return
	}

	h.auditor.Record(c.Request.Context(), identity.UserID, models.ActionViewedSensorData, map[string]any{
		"sensor_id":       sensorID,
		"start_timestamp": start.Unix(),
		"end_timestamp":   end.Unix(),
	}, c.ClientIP())

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data": gin.H{
			"sensor_id":  sensorID,
			"start_time": start.Unix(),
			"end_time":   end.Unix(),
			"readings":   readings,
		},
	})
}

// sensorAnalytics returns the windowed mean of one field for a sensor.
func (h *handlers) sensorAnalytics(c *gin.Context) {
	identity := identityFrom(c)
	sensorID := c.Param("sensorId")

	field := c.Query("field")
	if field == "" {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "field parameter is required"})
		return
	}
	window := c.DefaultQuery("window", "1h")
	start, end := timeRange(c)

	analytics, err := h.timeseries.QueryAggregate(c.Request.Context(), sensorID, field, window, start, end)
	if err != nil {
		h.logger.Error().Err(err).Str("sensor_id", sensorID).Msg("Aggregation query failed")
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}

	h.auditor.Record(c.Request.Context(), identity.UserID, models.ActionViewedSensorData, map[string]any{
		"sensor_id":       sensorID,
		"field":           field,
		"window":          window,
		"start_timestamp": start.Unix(),
		"end_timestamp":   end.Unix(),
	}, c.ClientIP())

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data": gin.H{
			"sensor_id":  sensorID,
			"field":      field,
			"window":     window,
			"start_time": start.Unix(),
			"end_time":   end.Unix(),
			"analytics":  analytics,
		},
	})
}

// timeRange reads start/end unix-second query parameters, defaulting to
// the last 24 hours.
func timeRange(c *gin.Context) (time.Time, time.Time) {
	end := time.Now()
	start := end.Add(-24 * time.Hour)

	if raw := c.Query("start"); raw != "" {
		if seconds, err := strconv.ParseInt(raw, 10, 64); err == nil {
			start = time.Unix(seconds, 0)
		}
	}
	if raw := c.Query("end"); raw != "" {
		if seconds, err := strconv.ParseInt(raw, 10, 64); err == nil {
			end = time.Unix(seconds, 0)
		}
	}
	return start, end
}
