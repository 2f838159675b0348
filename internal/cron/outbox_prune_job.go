package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/NorikGo/tailormp-sub002/pkg/logger"
)

const (
	outboxPruneJobName  = "outbox-prune"
	defaultRetentionDay = 30
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type publishedPruner interface {
	DeletePublishedBefore(tx *gorm.DB, cutoff time.Time) (int64, error)
}

// OutboxPruneJobParams configure the outbox retention job.
type OutboxPruneJobParams struct {
	Logger        *logger.Logger
	DB            txRunner
	Repository    publishedPruner
	RetentionDays int
	Clock         func() time.Time
}

type outboxPruneJob struct {
	logg      *logger.Logger
	db        txRunner
	repo      publishedPruner
	retention time.Duration
	now       func() time.Time
}

// NewOutboxPruneJob builds the job that deletes outbox rows already
// delivered to Pub/Sub and older than the retention window.
func NewOutboxPruneJob(params OutboxPruneJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	days := params.RetentionDays
	if days <= 0 {
		days = defaultRetentionDay
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &outboxPruneJob{
		logg:      params.Logger,
		db:        params.DB,
		repo:      params.Repository,
		retention: time.Duration(days) * 24 * time.Hour,
		now:       clock,
	}, nil
}

func (j *outboxPruneJob) Name() string { return outboxPruneJobName }

func (j *outboxPruneJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	var deleted int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := j.repo.DeletePublishedBefore(tx, cutoff)
		deleted = rows
		return err
	})
	if err != nil {
		return fmt.Errorf("prune outbox: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"rows_deleted": deleted,
	}), "outbox prune complete")
	return nil
}
