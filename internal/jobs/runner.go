// Package jobs runs imports in the background, one at a time per channel, and
// reports their status.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rpattn/replay/internal/domain"
	"github.com/rpattn/replay/internal/importer"
	"github.com/rpattn/replay/internal/logging"
	"github.com/rpattn/replay/internal/notify"
	"github.com/rpattn/replay/internal/repository"
)

// ErrRunInFlight is returned when a run is submitted while another one on the
// same channel is queued or processing.
var ErrRunInFlight = errors.New("an import is already in progress")

// Importer executes a single import run.
type Importer interface {
	Call(ctx context.Context, req importer.Request) (importer.Result, error)
}

// Submission is a request to start a run.
type Submission struct {
	ActorID     int64
	ContentType string
	Data        []byte
	Validate    bool
}

// Snapshot is the current state of a channel.
type Snapshot struct {
	Status Status
	Run    *domain.ImportRun
	Result *importer.Result
}

// Config tunes a Runner.
type Config struct {
	Channel string
	LockTTL time.Duration
}

// Runner accepts submissions and executes them on background goroutines.
type Runner struct {
	importer Importer
	status   StatusStore
	runs     repository.ImportRunRepository
	locker   Locker
	notifier notify.Notifier
	cfg      Config
	logger   logrus.FieldLogger
	now      func() time.Time
	wg       sync.WaitGroup
}

// NewRunner creates a new Runner.
func NewRunner(
	importer Importer,
	status StatusStore,
	runs repository.ImportRunRepository,
	locker Locker,
	notifier notify.Notifier,
	cfg Config,
	logger logrus.FieldLogger,
) *Runner {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	return &Runner{
		importer: importer,
		status:   status,
		runs:     runs,
		locker:   locker,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Submit queues a run and starts it. ErrRunInFlight is returned while the
// channel's current run has not finished.
func (r *Runner) Submit(ctx context.Context, sub Submission) (domain.ImportRun, error) {
	unlock, err := r.locker.Obtain(ctx, "lock:import:"+r.cfg.Channel, r.cfg.LockTTL)
	if err != nil {
		return domain.ImportRun{}, err
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			r.logger.WithError(err).Warn("failed to release import lock")
		}
	}()

	current, err := r.status.Current(ctx, r.cfg.Channel)
	if err != nil {
		return domain.ImportRun{}, err
	}
	if current != nil && !current.Status.Finished() {
		return domain.ImportRun{}, ErrRunInFlight
	}

	run := domain.ImportRun{
		ID:          uuid.New(),
		Channel:     r.cfg.Channel,
		ActorID:     sub.ActorID,
		ContentType: sub.ContentType,
		Validate:    sub.Validate,
		Status:      domain.ImportRunQueued,
		EnqueuedAt:  r.now().UTC(),
	}
	if err := r.status.Save(ctx, run); err != nil {
		return domain.ImportRun{}, err
	}
	if err := r.runs.Record(ctx, run); err != nil {
		r.logger.WithError(err).WithField("run_id", run.ID).Warn("failed to persist queued run")
	}

	r.wg.Add(1)
	go r.execute(context.WithoutCancel(ctx), run, sub.Data)

	return run, nil
}

// Wait blocks until every started run has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Status returns the current state of the channel together with the result
// of its last finished run.
func (r *Runner) Status(ctx context.Context) (Snapshot, error) {
	current, err := r.status.Current(ctx, r.cfg.Channel)
	if err != nil {
		return Snapshot{}, err
	}
	if current == nil {
		latest, err := r.runs.Latest(ctx, r.cfg.Channel)
		switch {
		case err == nil:
			current = &latest
		case !errors.Is(err, repository.ErrNotFound):
			return Snapshot{}, err
		}
	}

	snapshot := Snapshot{Status: StatusOf(current), Run: current}
	if current != nil && len(current.Result) > 0 {
		var result importer.Result
		if err := json.Unmarshal(current.Result, &result); err != nil {
			return Snapshot{}, fmt.Errorf("decode run result: %w", err)
		}
		snapshot.Result = &result
	}
	return snapshot, nil
}

// History lists past runs of the channel, newest first.
func (r *Runner) History(ctx context.Context, limit, offset int) ([]domain.ImportRun, error) {
	return r.runs.List(ctx, r.cfg.Channel, limit, offset)
}

func (r *Runner) execute(ctx context.Context, run domain.ImportRun, data []byte) {
	defer r.wg.Done()

	logger := r.logger.WithFields(logrus.Fields{"run_id": run.ID.String(), "channel": run.Channel})
	ctx = logging.WithContext(ctx, logger)

	started := r.now().UTC()
	run.Status = domain.ImportRunProcessing
	run.StartedAt = &started
	r.save(ctx, logger, run)
	logger.Info("import started")

	result, err := r.call(ctx, run, data)

	completed := r.now().UTC()
	run.CompletedAt = &completed
	switch {
	case err != nil:
		run.Status = domain.ImportRunFailure
		run.Error = err.Error()
		logger.WithError(err).Error("import aborted")
	case result.Success:
		run.Status = domain.ImportRunSuccess
	default:
		run.Status = domain.ImportRunFailure
	}
	if err == nil {
		encoded, encodeErr := json.Marshal(result)
		if encodeErr != nil {
			logger.WithError(encodeErr).Error("failed to encode import result")
		} else {
			run.Result = encoded
		}
	}
	r.save(ctx, logger, run)
	logger.WithField("status", run.Status).Info("import finished")

	r.announce(ctx, logger, run, result)
}

func (r *Runner) call(ctx context.Context, run domain.ImportRun, data []byte) (result importer.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("import panicked: %v", p)
		}
	}()
	return r.importer.Call(ctx, importer.Request{
		ContentType: run.ContentType,
		Data:        data,
		Validate:    run.Validate,
		InitiatorID: run.ActorID,
	})
}

func (r *Runner) save(ctx context.Context, logger logrus.FieldLogger, run domain.ImportRun) {
	if err := r.status.Save(ctx, run); err != nil {
		logger.WithError(err).Error("failed to store import status")
	}
	if err := r.runs.Record(ctx, run); err != nil {
		logger.WithError(err).Error("failed to persist import run")
	}
}

func (r *Runner) announce(ctx context.Context, logger logrus.FieldLogger, run domain.ImportRun, result importer.Result) {
	if r.notifier == nil {
		return
	}
	event := notify.Event{
		Kind:       notify.ImportFailed,
		ActorID:    run.ActorID,
		OccurredAt: r.now().UTC(),
		Payload:    map[string]any{"run_id": run.ID.String()},
	}
	if run.Status == domain.ImportRunSuccess {
		event.Kind = notify.ImportSucceeded
		event.Payload["entities"] = len(result.Entities)
		event.Payload["attachments"] = len(result.Attachments)
		event.Payload["relations"] = len(result.Relations)
	} else {
		event.Payload["errors"] = len(result.Errors)
		if run.Error != "" {
			event.Payload["error"] = run.Error
		}
	}
	if err := r.notifier.Notify(ctx, event); err != nil {
		logger.WithError(err).Warn("failed to deliver import notification")
	}
}
