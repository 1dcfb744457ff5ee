// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ankitjain91/opspilot-sub000/services/investigator/agent"
	"github.com/ankitjain91/opspilot-sub000/services/investigator/agent/events"
	"github.com/ankitjain91/opspilot-sub000/services/investigator/config"
	"github.com/ankitjain91/opspilot-sub000/services/investigator/discovery"
	"github.com/ankitjain91/opspilot-sub000/services/investigator/executor"
	"github.com/ankitjain91/opspilot-sub000/services/investigator/knowledge"
	"github.com/ankitjain91/opspilot-sub000/services/investigator/oracle"
	"github.com/ankitjain91/opspilot-sub000/services/investigator/server"
	"github.com/ankitjain91/opspilot-sub000/services/investigator/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the investigation API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(flagConfig)
		if err != nil {
			return err
		}

		if cfg.Telemetry.Enabled {
			cleanup, err := initTracer(cfg.Telemetry)
			if err != nil {
				return err
			}
			defer cleanup(context.Background())
		}

		loop, store, broker, cache, err := buildLoop(cfg)
		if err != nil {
			return err
		}
		if store != nil {
			defer store.Close()
		}

		srv := server.New(loop, broker, cfg.AgentConfig())

		ctx, stop := signal.NotifyContext(context.Background(),
			syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cache.Start(ctx)
		defer cache.Stop()

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Start(cfg.Server.Addr, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
			slog.Info("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		}
	},
}

// buildLoop assembles the loop and its collaborators from configuration.
func buildLoop(cfg *config.Config) (*agent.DefaultLoop, *session.Store, *events.Broker, *discovery.Cache, error) {
	oracleOpts := []oracle.Option{
		oracle.WithRateLimit(cfg.Oracle.RequestsPerSecond, cfg.Oracle.Burst),
	}
	if cfg.Oracle.Model != "" {
		oracleOpts = append(oracleOpts, oracle.WithModel(cfg.Oracle.Model))
	}
	if cfg.Oracle.BaseURL != "" {
		oracleOpts = append(oracleOpts, oracle.WithBaseURL(cfg.Oracle.BaseURL))
	}
	oracleClient, err := oracle.NewClient(cfg.Oracle.APIKey, oracleOpts...)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	exec := executor.NewCommandExecutor(
		executor.WithConcurrency(cfg.AgentConfig().BatchConcurrency),
	)
	cache := discovery.NewCache(exec)

	broker := events.NewBroker()
	loopOpts := []agent.LoopOption{
		agent.WithEmitter(broker),
		agent.WithEntitySource(cache),
	}

	if cfg.Knowledge.Enabled {
		kb, err := knowledge.NewRetriever(knowledge.Config{
			Host:   cfg.Knowledge.Host,
			Scheme: cfg.Knowledge.Scheme,
			APIKey: cfg.Knowledge.APIKey,
		})
		if err != nil {
			// Knowledge retrieval is optional; run without it.
			slog.Warn("Knowledge base unavailable", "error", err)
		} else {
			loopOpts = append(loopOpts, agent.WithKnowledge(kb))
		}
	}

	var store *session.Store
	store, err = session.NewStore(session.Config{
		Path:          cfg.Storage.Path,
		TTL:           cfg.Storage.TTL,
		HistoryWindow: cfg.Storage.HistoryWindow,
	})
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("open session store: %w", err)
	}
	loopOpts = append(loopOpts, agent.WithSessionStore(store))

	loop := agent.NewDefaultLoop(oracleClient, exec, loopOpts...)
	return loop, store, broker, cache, nil
}
