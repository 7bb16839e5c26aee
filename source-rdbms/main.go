package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/logshipper/connectors/go/checkpoint"
	cerrors "github.com/logshipper/connectors/go/connector-errors"
	"github.com/logshipper/connectors/go/logging"
	schemagen "github.com/logshipper/connectors/go/schema-gen"
	"github.com/logshipper/connectors/go/sink"
	log "github.com/sirupsen/logrus"
)

// How long buffered events may take to drain on shutdown.
const sinkDrainTimeout = 30 * time.Second

type cmdOptions struct {
	PrintSchema bool `long:"print-schema" description:"Print the JSON schema of the configuration file and exit"`

	Args struct {
		Config string `positional-arg-name:"CONFIG" description:"Path of the configuration file"`
	} `positional-args:"yes"`
}

func main() {
	var opts cmdOptions
	var parser = flags.NewParser(&opts, flags.Default)
	parser.Usage = "[--print-schema] CONFIG"
	if _, err := parser.Parse(); err != nil {
		// Parse has already printed the error or the help text, since
		// flags.Default includes flags.PrintErrors.
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if opts.PrintSchema {
		var enc = json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(configSchema()); err != nil {
			cerrors.HandleFinalError(err)
		}
		os.Exit(0)
	}

	var ctx, stop = signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	cerrors.HandleFinalError(run(ctx, opts.Args.Config))
}

func configSchema() any {
	return schemagen.GenerateSchema("RDBMS Log Shipper", Config{})
}

// run loads the configuration at configPath and captures until ctx is
// cancelled or the capture fails.
func run(ctx context.Context, configPath string) error {
	var cfg, err = loadConfig(configPath)
	if err != nil {
		return err
	}

	logFile, err := logging.Configure(logging.Config{
		Level:          string(cfg.Connector.LogLevel),
		FilePath:       cfg.Connector.LogFilePath,
		MaxBytes:       cfg.Connector.LogMaxBytes,
		MaxBackupCount: cfg.Connector.LogMaxBackupCount,
	})
	if err != nil {
		return cerrors.NewConfigError(err)
	}
	defer logFile.Close()

	log.WithFields(log.Fields{
		"name":     cfg.name,
		"mode":     cfg.Database.ConnectionMode,
		"column":   cfg.Database.FieldName,
		"bookmark": cfg.Connector.BookmarkPath,
		"level":    log.GetLevel().String(),
	}).Info("configuration received")

	if err := exportDriverPath(&cfg.Database); err != nil {
		return err
	}
	serveDebug(cfg.Connector.DebugAddress)

	store, err := checkpoint.NewStore(cfg.Connector.BookmarkPath)
	if err != nil {
		return err
	}
	events, err := sink.New(ctx, cfg.Forwarding)
	if err != nil {
		return err
	}

	var captureErr = newCapture(cfg, store, events).Run(ctx)

	var drainCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), sinkDrainTimeout)
	defer cancel()
	if err := events.Close(drainCtx); err != nil {
		log.WithField("err", err).Error("failed to drain event sink")
		if captureErr == nil {
			captureErr = fmt.Errorf("draining event sink: %w", err)
		}
	}
	return captureErr
}
