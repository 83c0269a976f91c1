package audit

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"
)

// Recorder is the best-effort front services use after a commit. Failures are
// logged and never returned; a nil Recorder records nothing.
type Recorder struct {
	logger Logger
	log    *logrus.Logger
}

// NewRecorder creates a recorder writing to logger
func NewRecorder(logger Logger, log *logrus.Logger) *Recorder {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Recorder{logger: logger, log: log}
}

// Activity records a tenant activity entry
func (r *Recorder) Activity(ctx context.Context, entry ActivityLog) {
	if r == nil || r.logger == nil {
		return
	}
	if err := r.logger.LogActivity(ctx, &entry); err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{
			"action":        entry.Action,
			"resource_type": entry.ResourceType,
			"resource_id":   entry.ResourceID,
		}).Warn("Failed to record activity")
	}
}

// Admin records an administrative action
func (r *Recorder) Admin(ctx context.Context, entry AdminAuditLog) {
	if r == nil || r.logger == nil {
		return
	}
	if err := r.logger.LogAdminAction(ctx, &entry); err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{
			"action":       entry.Action,
			"target_model": entry.TargetModel,
			"target_id":    entry.TargetID,
		}).Warn("Failed to record admin action")
	}
}

// Snapshot converts v into the generic map stored as old/new values
func Snapshot(v interface{}) map[string]interface{} {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}
