package publish

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/rednote-publisher/internal/browser"
	"github.com/shehryarbajwa/rednote-publisher/internal/media"
	"github.com/shehryarbajwa/rednote-publisher/internal/metrics"
	"github.com/shehryarbajwa/rednote-publisher/pkg/models"
)

// SessionStates reports the login state of a user's session.
type SessionStates interface {
	StateFor(username string) (models.SessionState, bool)
}

// Service publishes notes on behalf of users, reusing their browser handle
// when one is running.
type Service struct {
	pool     *browser.Pool
	sessions SessionStates
	resolver *media.Resolver
	orch     *Orchestrator
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func NewService(pool *browser.Pool, sessions SessionStates, resolver *media.Resolver, orch *Orchestrator, m *metrics.Metrics, logger *zap.Logger) *Service {
	return &Service{
		pool:     pool,
		sessions: sessions,
		resolver: resolver,
		orch:     orch,
		metrics:  m,
		logger:   logger.Named("publish"),
	}
}

// Publish runs job for username. Failures are returned both as an *Error
// and inside the Result.
func (s *Service) Publish(ctx context.Context, username string, job Job, progress ProgressFunc) (Result, error) {
	start := time.Now()
	res, err := s.publish(ctx, username, job, progress)

	outcome := "success"
	if !res.Success {
		outcome = string(res.ErrorKind)
	}
	s.metrics.RecordPublish(string(job.Mode()), outcome, time.Since(start))
	for _, t := range res.Tags {
		s.metrics.RecordTag(t.Canonical)
	}
	return res, err
}

func (s *Service) publish(ctx context.Context, username string, job Job, progress ProgressFunc) (Result, error) {
	logger := s.logger.With(zap.String("username", username))

	if username == "" {
		return fail(validationError("username is required"))
	}
	if err := job.Validate(s.orch.Profile()); err != nil {
		return fail(classify(StageValidate, err))
	}
	if state, ok := s.sessions.StateFor(username); ok && state.Pending() {
		return fail(&Error{Kind: KindAuthInvalid, Stage: StageValidate, Msg: "login still in progress for " + username})
	}

	batch, err := s.resolver.Resolve(ctx, job.Images, job.Video, job.Cover)
	if err != nil {
		return fail(classify(StageValidate, err))
	}
	defer batch.Cleanup()

	resolved := job
	resolved.Images = batch.Images
	resolved.Video = batch.Video
	resolved.Cover = batch.Cover

	h, created, err := s.pool.Acquire(username)
	if err != nil {
		return fail(classify(StageNavigate, err))
	}
	if err := h.EnsureStarted(ctx); err != nil {
		if created {
			s.pool.Release(h, false)
		}
		return fail(classify(StageNavigate, err))
	}

	logger.Info("Publishing note",
		zap.String("mode", string(job.Mode())),
		zap.Int("images", len(job.Images)),
		zap.Int("tags", len(job.Tags)),
		zap.Bool("new_browser", created),
	)

	var res Result
	ran := false
	err = h.Do(ctx, func(page browser.Page) error {
		ran = true
		var runErr error
		res, runErr = s.orch.Run(ctx, page, resolved, progress)
		return runErr
	})

	if created {
		s.pool.Release(h, err == nil)
	}

	if err == nil {
		return res, nil
	}
	var perr *Error
	if !ran || !errors.As(err, &perr) {
		return fail(classify(StageNavigate, err))
	}
	return res, perr
}

func fail(err *Error) (Result, error) {
	return FailedResult(err), err
}
