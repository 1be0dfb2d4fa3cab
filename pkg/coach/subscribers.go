package coach

import (
	"encoding/json"

	"github.com/sirupsen/logrus"
)

// SnapshotLogger is a simple subscriber that logs aggregate snapshots.
type SnapshotLogger struct {
	Logger *logrus.Logger
}

func (s *SnapshotLogger) OnAggregate(sessionID string, snapshot *Aggregate) {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		s.Logger.WithError(err).Error("Aggregate snapshot marshal failed")
		return
	}
	s.Logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"snapshot":   string(payload),
	}).Debug("Aggregate snapshot")
}

// SubscriberFunc adapts a function to the Subscriber interface.
type SubscriberFunc func(sessionID string, snapshot *Aggregate)

func (f SubscriberFunc) OnAggregate(sessionID string, snapshot *Aggregate) {
	f(sessionID, snapshot)
}
