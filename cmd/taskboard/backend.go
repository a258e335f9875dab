package main

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/taskboard/internal/auth"
	"github.com/taskboard/internal/config"
	"github.com/taskboard/internal/database"
	"github.com/taskboard/internal/docstore"
	natsc "github.com/taskboard/internal/nats"
	"github.com/taskboard/internal/tasks"
)

// broker is a NATS connection plus the embedded server behind it, if any
type broker struct {
	embedded *natsc.EmbeddedServer
	client   *natsc.Client
}

// connectBroker connects to nats.url, starting an embedded server when it is empty
func connectBroker(cfg *config.Config, name string, logger zerolog.Logger) (*broker, error) {
	b := &broker{}
	url := cfg.NATS.URL

	if url == "" {
		emb, err := natsc.NewEmbeddedServer(natsc.EmbeddedServerConfig{
			Port:      cfg.NATS.Port,
			JetStream: cfg.NATS.StoreDir != "",
			DataDir:   cfg.NATS.StoreDir,
		})
		if err != nil {
			return nil, err
		}
		if err := emb.Start(); err != nil {
			return nil, fmt.Errorf("failed to start embedded NATS: %w", err)
		}
		b.embedded = emb
		url = emb.URL()
		logger.Info().Str("url", url).Bool("jetstream", cfg.NATS.StoreDir != "").Msg("embedded NATS started")
	}

	client, err := natsc.NewClient(url, name, logger.With().Str("component", "nats").Logger())
	if err != nil {
		b.Close()
		return nil, err
	}
	b.client = client

	if cfg.NATS.StoreDir != "" {
		sm, err := natsc.NewStreamManager(client, logger)
		if err == nil {
			err = sm.SetupStreams()
		}
		if err != nil {
			logger.Warn().Err(err).Msg("snapshot retention unavailable")
		}
	}
	return b, nil
}

// Close disconnects and stops the embedded server
func (b *broker) Close() {
	if b.client != nil {
		b.client.Close()
	}
	if b.embedded != nil {
		b.embedded.Shutdown()
	}
}

// openStores opens the SQLite database and prepares the task and user tables
func openStores(path string) (*sql.DB, *tasks.Store, *auth.Store, error) {
	db, err := database.Open(path)
	if err != nil {
		return nil, nil, nil, err
	}

	taskStore := tasks.NewStore(db)
	if err := taskStore.Init(); err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("failed to init task store: %w", err)
	}
	users := auth.NewStore(db)
	if err := users.Init(); err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("failed to init user store: %w", err)
	}
	return db, taskStore, users, nil
}

// startService runs the document service on client. The returned func stops
// it and closes the database.
func startService(cfg *config.Config, client *natsc.Client, logger zerolog.Logger) (func(), error) {
	db, taskStore, users, err := openStores(cfg.Docstore.DBPath)
	if err != nil {
		return nil, err
	}

	svc := docstore.NewService(client, taskStore, users, logger)
	if err := svc.Start(); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info().Str("db", cfg.Docstore.DBPath).Msg("document service started")

	return func() {
		svc.Stop()
		db.Close()
	}, nil
}
