package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"coursehub/internal/core/ports"
	"coursehub/pkg/backup"

	"go.uber.org/zap"
)

const (
	OutcomeCreated = "created"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// Lock is a single-use lease shared between instances.
type Lock interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// Observer receives the outcome of every scheduled run.
type Observer interface {
	RecordBackup(outcome string)
}

// Config contains scheduler configuration
type Config struct {
	Interval  time.Duration
	Retention time.Duration
	Timeout   time.Duration
}

// Scheduler periodically writes a roster snapshot through the backup service.
type Scheduler struct {
	backupService *backup.BackupService
	source        ports.Snapshotter
	newLock       func() Lock
	observer      Observer
	cfg           Config
	logger        *zap.SugaredLogger
	now           func() time.Time
	stopChan      chan struct{}
}

func NewScheduler(backupService *backup.BackupService, source ports.Snapshotter, cfg Config, logger *zap.SugaredLogger) *Scheduler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	return &Scheduler{
		backupService: backupService,
		source:        source,
		cfg:           cfg,
		logger:        logger,
		now:           time.Now,
		stopChan:      make(chan struct{}),
	}
}

// SetLockFactory makes every run take a fresh lease first; runs that cannot
// get it are skipped. Without a factory every run proceeds.
func (s *Scheduler) SetLockFactory(f func() Lock) { s.newLock = f }

func (s *Scheduler) SetObserver(o Observer) { s.observer = o }

// Start runs a backup immediately and then every Interval until Stop or ctx
// is done. It blocks.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.runBackup(ctx)
	for {
		select {
		case <-ticker.C:
			s.runBackup(ctx)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) Stop() {
	close(s.stopChan)
}

func (s *Scheduler) runBackup(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	outcome := OutcomeCreated
	name, err := s.RunOnce(ctx)
	switch {
	case err != nil:
		outcome = OutcomeFailed
		s.logger.Errorw("scheduled backup failed", "error", err)
	case name == "":
		outcome = OutcomeSkipped
		s.logger.Debugw("scheduled backup skipped, another instance holds the lock")
	}
	if s.observer != nil {
		s.observer.RecordBackup(outcome)
	}
}

// RunOnce takes one snapshot and prunes expired backups. It returns "" without
// an error when another instance holds the lock.
func (s *Scheduler) RunOnce(ctx context.Context) (string, error) {
	if s.newLock != nil {
		lock := s.newLock()
		ok, err := lock.TryLock(ctx)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", nil
		}
		defer func() {
			if err := lock.Unlock(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warnw("failed to release backup lock", "error", err)
			}
		}()
	}

	snap, err := s.source.Snapshot(ctx)
	if err != nil {
		return "", fmt.Errorf("snapshot roster: %w", err)
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("encode roster snapshot: %w", err)
	}

	name, err := s.backupService.CreateBackup(ctx, &backup.BackupData{
		Payload: payload,
		Metadata: map[string]interface{}{
			"course_count":     len(snap.Courses),
			"membership_count": len(snap.Memberships),
			"event_count":      len(snap.Events),
			"user_count":       len(snap.Users),
		},
	})
	if err != nil {
		return "", err
	}
	s.logger.Infow("backup created", "backup_name", name, "courses", len(snap.Courses))

	if s.cfg.Retention > 0 {
		deleted, err := s.backupService.Prune(ctx, s.now().Add(-s.cfg.Retention))
		if err != nil {
			s.logger.Warnw("failed to prune old backups", "error", err)
		}
		for _, old := range deleted {
			s.logger.Infow("deleted old backup", "backup_name", old)
		}
	}
	return name, nil
}
