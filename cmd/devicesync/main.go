// Package main runs a device replica's sync loop against the central service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"keepsake/internal/device"
	"keepsake/internal/platform/logger"
	id "keepsake/pkg/domain"
)

func main() {
	dbPath := flag.String("db", "replica.db", "SQLite file holding the replica")
	deviceID := flag.String("device", "", "Device ID the replica was enrolled with")
	subject := flag.String("subject", "", "Subject ID (UUID) the device serves")
	server := flag.String("server", "http://localhost:8080", "Central service base URL")
	token := flag.String("token", os.Getenv("KEEPSAKE_TOKEN"), "Actor token for the subject. Defaults to KEEPSAKE_TOKEN.")
	interval := flag.Duration("interval", 0, "Sync every interval; 0 syncs once and exits")
	level := flag.String("log-level", "info", "Log level")
	flag.Parse()

	log := logger.New(*level)
	if *deviceID == "" || *token == "" {
		fmt.Fprintln(os.Stderr, "-device and -token are required")
		flag.Usage()
		os.Exit(1)
	}
	sid, err := id.ParseSubjectID(*subject)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -subject: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	replica, err := device.Open(ctx, *dbPath, id.DeviceID(*deviceID), sid, device.WithLogger(log))
	if err != nil {
		log.Error("open replica", "path", *dbPath, "error", err)
		os.Exit(1)
	}
	defer replica.Close() //nolint:errcheck // process exit

	client := device.NewClient(*server, *token)
	if *interval <= 0 {
		if err := syncOnce(ctx, replica, client, log); err != nil {
			os.Exit(1)
		}
		return
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		// Failures are retried on the next tick; the replica keeps capturing offline.
		_ = syncOnce(ctx, replica, client, log) //nolint:errcheck // logged
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func syncOnce(ctx context.Context, replica *device.Replica, client *device.Client, log *slog.Logger) error {
	if res, err := replica.Verify(ctx); err != nil || !res.Valid {
		log.ErrorContext(ctx, "local chain does not verify; not shipping", "stream", replica.Stream(), "reason", res.Reason, "error", err)
		return fmt.Errorf("local chain invalid")
	}

	res, err := replica.Sync(ctx, client)
	switch {
	case errors.Is(err, device.ErrAwaitingReview):
		log.WarnContext(ctx, "stream is waiting for fork review", "stream", replica.Stream())
		return err
	case err != nil:
		log.ErrorContext(ctx, "sync failed", "stream", replica.Stream(), "error", err)
		return err
	}
	if res.Batches > 0 || res.Rechained > 0 {
		log.InfoContext(ctx, "sync finished",
			"stream", replica.Stream(),
			"batches", res.Batches,
			"events_merged", res.EventsMerged,
			"imported", res.Imported,
			"locked", res.Locked,
			"rechained", res.Rechained,
		)
	}
	return nil
}
