package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"logsift/internal/config"
	"logsift/internal/logparse"
	"logsift/internal/model"
	"logsift/internal/storage"
)

// maxLineBytes bounds a single physical log line. Stack traces arrive as
// separate lines, so this only has to cover one line, not one entry.
const maxLineBytes = 1024 * 1024

func runParse(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadParse(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.In == "" {
		return fmt.Errorf("input file is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}

	file, err := os.Open(cfg.In)
	if err != nil {
		return fmt.Errorf("open input file: %w", err)
	}
	defer file.Close()

	sink := storage.NewJsonlStorage(cfg.Out)
	parser := logparse.New(cfg.LogPattern)
	reassembler := logparse.NewReassembler()

	batch := make([]model.LogEntry, 0, cfg.BatchSize)
	var total int

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := sink.PutEntryBatch(batch); err != nil {
			return fmt.Errorf("write parsed batch: %w", err)
		}
		total += len(batch)
		batch = batch[:0]
		return nil
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		raw, ok := reassembler.Feed(scanner.Text())
		if !ok {
			continue
		}
		batch = append(batch, parser.Parse(raw))
		if len(batch) >= cfg.BatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input file: %w", err)
	}

	if raw, ok := reassembler.Flush(); ok {
		batch = append(batch, parser.Parse(raw))
	}
	if err := flush(); err != nil {
		return err
	}

	logger.Info("parse complete",
		zap.String("in", cfg.In),
		zap.String("out", cfg.Out),
		zap.Int("entries", total),
	)
	return nil
}
