package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"github.com/sensortrack/telemetry-hub/internal/models"
)

// LogStore is the subset of the relational store the recorder appends to.
type LogStore interface {
	AppendLog(ctx context.Context, entry *models.UserLog) error
}

// Recorder writes append-only audit entries. A failure to record audit data
// is logged and swallowed: it must never abort the operation being audited.
type Recorder struct {
	store  LogStore
	logger zerolog.Logger
}

// NewRecorder initializes a new Recorder.
func NewRecorder(store LogStore, logger zerolog.Logger) *Recorder {
	return &Recorder{store: store, logger: logger}
}

// Record appends one audit entry for the given actor and action.
func (r *Recorder) Record(ctx context.Context, userID int, action models.LogAction, details map[string]any, sourceAddress string) {
	payload, err := json.Marshal(details)
	if err != nil {
		r.logger.Error().Err(err).Str("action", string(action)).Msg("Failed to encode audit details")
		payload = []byte("{}")
	}

	entry := &models.UserLog{
		UserID:    userID,
		Action:    string(action),
		Details:   datatypes.JSON(payload),
		IPAddress: sourceAddress,
		Timestamp: time.Now().UTC(),
	}

	if err := r.store.AppendLog(ctx, entry); err != nil {
		r.logger.Error().Err(err).
			Str("action", string(action)).
			Int("user_id", userID).
			Msg("Failed to append audit entry")
	}
}
