package nats

import (
	"errors"
	"time"

	nc "github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// SnapshotStreamName retains the latest snapshot per owner when JetStream is on
const SnapshotStreamName = "TASK_SNAPSHOTS"

// StreamManager manages JetStream streams for the document service
type StreamManager struct {
	js     nc.JetStreamContext
	logger zerolog.Logger
}

// NewStreamManager creates a StreamManager on the client's connection
func NewStreamManager(client *Client, logger zerolog.Logger) (*StreamManager, error) {
	js, err := client.JetStream()
	if err != nil {
		return nil, err
	}

	return &StreamManager{
		js:     js,
		logger: logger.With().Str("component", "nats-streams").Logger(),
	}, nil
}

// SetupStreams creates or updates the snapshot stream
func (sm *StreamManager) SetupStreams() error {
	return sm.createOrUpdateStream(nc.StreamConfig{
		Name:              SnapshotStreamName,
		Description:       "Latest task snapshot per owner",
		Subjects:          []string{SubjectAllSnapshots},
		Storage:           nc.FileStorage,
		MaxMsgsPerSubject: 1,
		MaxAge:            7 * 24 * time.Hour,
		Retention:         nc.LimitsPolicy,
	})
}

// createOrUpdateStream creates a new stream or updates an existing one
func (sm *StreamManager) createOrUpdateStream(cfg nc.StreamConfig) error {
	_, err := sm.js.StreamInfo(cfg.Name)
	if errors.Is(err, nc.ErrStreamNotFound) {
		if _, err := sm.js.AddStream(&cfg); err != nil {
			return err
		}
		sm.logger.Info().Str("stream", cfg.Name).Strs("subjects", cfg.Subjects).Msg("stream created")
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := sm.js.UpdateStream(&cfg); err != nil {
		return err
	}
	sm.logger.Debug().Str("stream", cfg.Name).Msg("stream updated")
	return nil
}

// LastSnapshot returns the retained snapshot payload for an owner
func (sm *StreamManager) LastSnapshot(ownerID string) ([]byte, error) {
	msg, err := sm.js.GetLastMsg(SnapshotStreamName, SnapshotSubject(ownerID))
	if err != nil {
		return nil, err
	}
	return msg.Data, nil
}

// StreamInfo returns information about a specific stream
func (sm *StreamManager) StreamInfo(name string) (*nc.StreamInfo, error) {
	return sm.js.StreamInfo(name)
}
