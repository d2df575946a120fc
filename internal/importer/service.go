// Package importer replays a time ordered history of work item changes from a
// tabular source. A run reconciles every record into a create or update call,
// then relates the resolved entities, and removes everything it created when
// any record fails.
package importer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rpattn/replay/internal/domain"
	"github.com/rpattn/replay/internal/logging"
	"github.com/rpattn/replay/internal/metrics"
	"github.com/rpattn/replay/internal/repository"
	"github.com/rpattn/replay/internal/workitem"
)

// Config tunes template fetching.
type Config struct {
	FetchAttempts int
	FetchBackoff  time.Duration
}

// Request describes one import run.
type Request struct {
	ContentType string
	Data        []byte
	// Validate enables business rules in the entity calls.
	Validate bool
	// InitiatorID is the actor on whose behalf compensation runs.
	InitiatorID int64
}

// Service is the import orchestrator.
type Service struct {
	registry      *Registry
	actors        ActorFinder
	entities      EntityService
	templates     TemplatePool
	books         Bookkeeping
	notifications NotificationSwitch
	cfg           Config
	logger        logrus.FieldLogger
}

// NewService creates a new import orchestrator.
func NewService(
	registry *Registry,
	actors ActorFinder,
	entities EntityService,
	templates TemplatePool,
	books Bookkeeping,
	notifications NotificationSwitch,
	cfg Config,
	logger logrus.FieldLogger,
) *Service {
	if cfg.FetchAttempts < 1 {
		cfg.FetchAttempts = 1
	}
	return &Service{
		registry:      registry,
		actors:        actors,
		entities:      entities,
		templates:     templates,
		books:         books,
		notifications: notifications,
		cfg:           cfg,
		logger:        logger,
	}
}

// run is the state of one Call.
type run struct {
	records   *Records
	initiator domain.Actor
	// latest known version of each entity created by the run
	created      map[int64]domain.Entity
	createdOrder []int64
}

func (r *run) track(entity domain.Entity, created bool) {
	if created {
		if _, ok := r.created[entity.ID]; !ok {
			r.createdOrder = append(r.createdOrder, entity.ID)
		}
		r.created[entity.ID] = entity
		return
	}
	if _, ok := r.created[entity.ID]; ok {
		r.created[entity.ID] = entity
	}
}

// Call parses req and runs both phases. Record failures yield a failed Result
// with a nil error; run-scoped failures are returned as errors after every
// entity created by the run has been removed.
func (s *Service) Call(ctx context.Context, req Request) (result Result, err error) {
	started := time.Now()
	logger := s.logger.WithFields(logrus.Fields{
		"content_type": req.ContentType,
		"initiator_id": req.InitiatorID,
		"validate":     req.Validate,
	})
	ctx = logging.WithContext(ctx, logger)

	defer func() {
		outcome := "success"
		switch {
		case err != nil:
			outcome = "error"
		case !result.Success:
			outcome = "failure"
		}
		metrics.ObserveRun(outcome, time.Since(started))
	}()

	parser, err := s.registry.ForContentType(req.ContentType)
	if err != nil {
		return Result{}, err
	}
	records, err := parser.Parse(ctx, bytes.NewReader(req.Data))
	if err != nil {
		return Result{}, fmt.Errorf("parse import: %w", err)
	}
	logger.WithFields(logrus.Fields{
		"records": records.Len(),
		"groups":  records.GroupCount(),
	}).Info("import parsed")

	restore := s.notifications.Suppress()
	defer restore()

	r := &run{
		records:   records,
		initiator: domain.Actor{ID: req.InitiatorID},
		created:   map[int64]domain.Entity{},
	}

	defer func() {
		if p := recover(); p != nil {
			logger.WithField("panic", p).Error("import panicked, compensating")
			if compErr := s.compensate(ctx, r, logger); compErr != nil {
				logger.WithError(compErr).Error("compensation incomplete")
			}
			panic(p)
		}
	}()

	if err := s.importEntities(ctx, r, req.Validate, logger); err != nil {
		return Result{}, errors.Join(err, s.compensate(ctx, r, logger))
	}
	logger.Info("entity phase finished")

	if records.Valid() {
		if err := s.importRelations(ctx, r); err != nil {
			return Result{}, errors.Join(err, s.compensate(ctx, r, logger))
		}
		logger.Info("relation phase finished")
	}

	if !records.Valid() {
		result := failureResult(records)
		logger.WithField("invalid_records", len(result.Errors)).Warn("import failed, compensating")
		if compErr := s.compensate(ctx, r, logger); compErr != nil {
			return result, compErr
		}
		return result, nil
	}

	result = successResult(records)
	logger.WithFields(logrus.Fields{
		"entities":    len(result.Entities),
		"attachments": len(result.Attachments),
		"relations":   len(result.Relations),
	}).Info("import succeeded")
	return result, nil
}

func (s *Service) importEntities(ctx context.Context, r *run, validate bool, logger logrus.FieldLogger) error {
	entityImporter := &EntityImporter{
		actors:        s.actors,
		entities:      s.entities,
		templates:     newTemplateResolver(s.templates),
		fetchAttempts: s.cfg.FetchAttempts,
		fetchBackoff:  s.cfg.FetchBackoff,
		logger:        logger,
	}
	fixer := &TimestampFixer{books: s.books}

	return r.records.ScanWithEarlyStop(func(record *Record) (bool, error) {
		if !record.Invalid() {
			err := entityImporter.Import(ctx, record, r.records.IDs, validate)
			// the entity call may have succeeded before a later attachment call failed
			if entity, ok := record.Entity(); ok {
				r.records.IDs[record.ID] = entity.ID
				r.track(entity, record.Created())
			}
			if err != nil {
				return true, err
			}
		}

		if !record.Invalid() {
			entity, err := fixer.Fix(ctx, record)
			if err != nil {
				return true, err
			}
			r.track(entity, false)
		}

		if record.Invalid() {
			metrics.ObserveRecord("invalid")
			logger.WithFields(logrus.Fields{
				"id":       record.ID,
				"line":     record.Line,
				"messages": record.Messages(),
			}).Debug("record rejected")
			return true, nil
		}
		metrics.ObserveRecord("valid")
		return false, nil
	})
}

func (s *Service) importRelations(ctx context.Context, r *run) error {
	relationImporter := &RelationImporter{entities: s.entities}
	return r.records.EachLast(func(record *Record) error {
		return relationImporter.Import(ctx, record, r.records.IDs)
	})
}

// compensate deletes every entity created by the run, newest first. Entities
// that are already gone are skipped.
func (s *Service) compensate(ctx context.Context, r *run, logger logrus.FieldLogger) error {
	ctx = context.WithoutCancel(ctx)

	var (
		errs    []error
		removed int
	)
	for i := len(r.createdOrder) - 1; i >= 0; i-- {
		entity := r.created[r.createdOrder[i]]
		err := s.entities.Delete(ctx, r.initiator, entity)
		switch {
		case err == nil:
			removed++
		case errors.Is(err, workitem.ErrGone):
			s.checkGone(ctx, entity, logger)
		default:
			logger.WithError(err).WithField("entity_id", entity.ID).Error("failed to remove entity")
			errs = append(errs, err)
		}
	}

	metrics.ObserveCompensation(removed)
	logger.WithField("removed", removed).Info("compensation finished")
	return errors.Join(errs...)
}

// checkGone tells a vanished entity apart from one that changed under a newer
// lock version and is therefore kept.
func (s *Service) checkGone(ctx context.Context, entity domain.Entity, logger logrus.FieldLogger) {
	entityLogger := logger.WithField("entity_id", entity.ID)
	current, err := s.entities.Get(ctx, entity.ID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		entityLogger.Debug("entity already removed")
	case err != nil:
		entityLogger.WithError(err).Warn("could not confirm removal of entity")
	default:
		entityLogger.WithFields(logrus.Fields{
			"lock_version":         entity.LockVersion,
			"current_lock_version": current.LockVersion,
		}).Warn("entity changed during compensation and was kept")
	}
}
