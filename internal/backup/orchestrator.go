// Package backup orchestrates snapshot and restore of the price store through
// external database tooling invoked as a subprocess.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fuelwatcher/internal/config"
	"fuelwatcher/internal/storage"
)

var (
	// ErrBusy indicates another backup or restore is already in flight.
	ErrBusy = errors.New("backup: operation already in flight")
	// ErrStoreBusy indicates a scheduler pass currently holds the store.
	ErrStoreBusy = errors.New("backup: store busy, refusing restore during an active pass")
)

// Archive identifies a completed backup on disk.
type Archive struct {
	Path      string
	CreatedAt time.Time
}

// Orchestrator serializes backup and restore operations. Both are
// operator-initiated; failures propagate to the caller and are never
// silently retried, since a retry could corrupt store state.
type Orchestrator struct {
	cfg     config.BackupConfig
	dsn     string
	runner  CommandRunner
	gate    *storage.Gate
	locker  storage.AdvisoryLocker
	lockKey int64
	logger  zerolog.Logger

	mu sync.Mutex // single-flight across backup and restore
}

// New constructs an Orchestrator. The gate excludes same-process callers; the
// advisory locker excludes a scheduler pass running in another process, since
// the CLI runs restore and the daemon as separate processes.
func New(cfg config.BackupConfig, dsn string, runner CommandRunner, gate *storage.Gate, locker storage.AdvisoryLocker, lockKey int64, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		dsn:     dsn,
		runner:  runner,
		gate:    gate,
		locker:  locker,
		lockKey: lockKey,
		logger:  logger.With().Str("component", "backup").Logger(),
	}
}

// Backup snapshots the store into the configured directory. Single-flight:
// a concurrent backup or restore fails with ErrBusy.
func (o *Orchestrator) Backup(ctx context.Context) (Archive, error) {
	if !o.mu.TryLock() {
		return Archive{}, ErrBusy
	}
	defer o.mu.Unlock()

	if o.dsn == "" {
		return Archive{}, errors.New("backup: database.dsn not configured")
	}

	now := time.Now().UTC()
	if err := os.MkdirAll(o.cfg.Directory, 0o755); err != nil {
		return Archive{}, fmt.Errorf("backup: create directory: %w", err)
	}
	path := filepath.Join(o.cfg.Directory, fmt.Sprintf("fuelwatcher_%s.dump", now.Format("20060102_150405")))

	args := []string{
		"--format=custom",
		"--file=" + path,
		"--table=price_points",
		"--dbname=" + o.dsn,
	}

	o.logger.Info().Str("archive", path).Msg("starting backup")

	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	exitCode, stderrTail, err := o.runner.Run(ctx, o.cfg.BackupTool, args)
	if err != nil {
		return Archive{}, fmt.Errorf("backup: run %s: %w", o.cfg.BackupTool, err)
	}
	if exitCode != 0 {
		return Archive{}, fmt.Errorf("backup: %s exited with code %d: %s", o.cfg.BackupTool, exitCode, stderrTail)
	}

	o.logger.Info().Str("archive", path).Msg("backup completed")
	return Archive{Path: path, CreatedAt: now}, nil
}

// Restore replaces the store's content from an archive. It refuses to run
// while another backup/restore is in flight (ErrBusy) or while a scheduler
// pass holds the store (ErrStoreBusy). A failure leaves the store in whatever
// state the external tool left it; that is surfaced, not masked.
func (o *Orchestrator) Restore(ctx context.Context, archivePath string) error {
	if !o.mu.TryLock() {
		return ErrBusy
	}
	defer o.mu.Unlock()

	if o.dsn == "" {
		return errors.New("restore: database.dsn not configured")
	}
	if _, err := os.Stat(archivePath); err != nil {
		return fmt.Errorf("restore: archive not readable: %w", err)
	}

	release, ok := o.gate.TryAcquire()
	if !ok {
		return ErrStoreBusy
	}
	defer release()

	// A scheduler pass in another process holds the same advisory lock for
	// its full duration, so taking it here refuses a mid-pass restore.
	if o.locker != nil && o.lockKey != 0 {
		unlock, acquired, err := o.locker.TryAdvisoryLock(ctx, o.lockKey)
		if err != nil {
			return fmt.Errorf("restore: acquire store lock: %w", err)
		}
		if !acquired {
			return ErrStoreBusy
		}
		defer unlock()
	}

	args := []string{
		"--clean",
		"--if-exists",
		"--dbname=" + o.dsn,
		archivePath,
	}

	o.logger.Warn().Str("archive", archivePath).Msg("starting destructive restore")

	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	exitCode, stderrTail, err := o.runner.Run(ctx, o.cfg.RestoreTool, args)
	if err != nil {
		return fmt.Errorf("restore: run %s: %w", o.cfg.RestoreTool, err)
	}
	if exitCode != 0 {
		return fmt.Errorf("restore: %s exited with code %d: %s", o.cfg.RestoreTool, exitCode, stderrTail)
	}

	o.logger.Info().Str("archive", archivePath).Msg("restore completed")
	return nil
}

func (o *Orchestrator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, o.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}
