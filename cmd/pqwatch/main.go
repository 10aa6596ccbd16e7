/*
Copyright 2025 The pqsession Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// pqwatch opens a session to a PostgreSQL server, subscribes to one or more
// notification channels and prints every notification it receives until
// interrupted. It doubles as a smoke test for the connection settings: pass
// --dump-config to see the effective configuration and exit.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/pqsession/pqsession/go/config"
	"github.com/pqsession/pqsession/go/pgwire/client"
	"github.com/pqsession/pqsession/go/session"
)

type printingReceiver struct {
	channel string
	logger  *slog.Logger
}

func (r *printingReceiver) Channel() string { return r.channel }

func (r *printingReceiver) Notify(payload string, backendPID int) error {
	r.logger.Info("notification",
		"channel", r.channel,
		"payload", payload,
		"backend_pid", backendPID,
	)
	return nil
}

func main() {
	fs := pflag.NewFlagSet("pqwatch", pflag.ContinueOnError)
	channels := fs.StringSlice("channel", nil, "Notification channel to LISTEN on (repeatable)")
	dumpConfig := fs.Bool("dump-config", false, "Print the effective configuration and exit")
	logLevel := fs.String("log-level", "info", "Log level (debug, info, warn, error)")

	cfg, err := config.Load(fs, os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if *dumpConfig {
		if err := config.Dump(os.Stdout, cfg); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}
	if len(*channels) == 0 {
		fmt.Fprintln(os.Stderr, "no channels given: pass --channel at least once")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sess := session.New(client.NewPolicy(cfg), session.WithLogger(logger))
	for _, ch := range *channels {
		if err := sess.AddReceiver(&printingReceiver{channel: ch, logger: logger}); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	if err := sess.Init(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer sess.Close()

	logger.Info("listening",
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.Database,
		"backend_pid", sess.BackendPID(),
		"channels", *channels,
	)

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down pqwatch")
			return
		default:
		}
		n, err := sess.AwaitNotificationTimeout(time.Second)
		if err != nil {
			logger.Error("await failed", "error", err)
			os.Exit(1)
		}
		logger.Debug("poll complete", "dispatched", n)
	}
}
