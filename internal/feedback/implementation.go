// internal/feedback/implementation.go
package feedback

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"readhub/internal/apperrors"
	"readhub/internal/observability"
)

// store is the slice of Repository the service needs.
type store interface {
	Insert(ctx context.Context, f *Feedback) (bool, error)
	Get(ctx context.Context, id uuid.UUID) (*Feedback, error)
	List(ctx context.Context, filter Filter) ([]*Feedback, error)
	update(ctx context.Context, id uuid.UUID, set goqu.Record, actor string, now time.Time) error
	delete(ctx context.Context, id uuid.UUID) error
	countByStatus(ctx context.Context) ([]statusCount, error)
}

// service implements the Service interface.
type service struct {
	repo    store
	outbox  *Outbox
	breaker *gobreaker.CircuitBreaker
	metrics *observability.Metrics
	now     func() time.Time

	// flushing guards against two flushes replaying the same items.
	flushing sync.Mutex
}

// NewService creates a new feedback service instance. outbox may be nil, in
// which case failed submissions are reported instead of queued.
func NewService(repo *Repository, outbox *Outbox, metrics *observability.Metrics) Service {
	return newService(repo, outbox, metrics)
}

func newService(repo store, outbox *Outbox, metrics *observability.Metrics) *service {
	if metrics == nil {
		metrics = &observability.Metrics{}
	}
	return &service{
		repo:   repo,
		outbox: outbox,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "feedback-store",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				observability.LoggerFromContext(context.Background()).Warn().
					Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
					Msg("circuit breaker state changed")
			},
		}),
		metrics: metrics,
		now:     time.Now,
	}
}

// Submit validates and stores a contact-form submission. If the store cannot
// be reached the submission is queued locally and still succeeds.
func (s *service) Submit(ctx context.Context, form ContactForm) (*SubmitResult, error) {
	if err := validateContact(form); err != nil {
		return nil, err
	}

	f := &Feedback{
		ID:             uuid.New(),
		IdempotencyKey: uuid.NewString(),
		Subject:        strings.TrimSpace(form.Subject),
		Message:        strings.TrimSpace(form.Message),
		Type:           Classify(form.Subject, form.Message),
		Status:         StatusNew,
		Priority:       PriorityMedium,
		UserName:       strings.TrimSpace(form.FirstName) + " " + strings.TrimSpace(form.LastName),
		UserEmail:      strings.ToLower(strings.TrimSpace(form.Email)),
		UserPhone:      strings.TrimSpace(form.Phone),
		CreatedAt:      s.now().UTC(),
	}

	logger := observability.LoggerFromContext(ctx)
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return s.repo.Insert(ctx, f)
	})
	if err == nil {
		logger.Info().Str("feedback_id", f.ID.String()).Str("type", f.Type).Msg("feedback received")
		return &SubmitResult{Feedback: f}, nil
	}

	if s.outbox == nil {
		return nil, apperrors.NewExternalError("failed to save feedback", err)
	}
	logger.Warn().Err(err).Str("idempotency_key", f.IdempotencyKey).Msg("feedback store unavailable, queueing locally")
	if qerr := s.outbox.Enqueue(ctx, f); qerr != nil {
		return nil, apperrors.NewExternalError("failed to save feedback", qerr)
	}
	observability.Add(ctx, s.metrics.FeedbackQueued, 1)
	return &SubmitResult{Feedback: f, Queued: true}, nil
}

// Flush replays queued submissions into the store. Items that fail stay
// queued for the next flush. A flush that finds another one running returns
// immediately.
func (s *service) Flush(ctx context.Context) (*FlushResult, error) {
	if s.outbox == nil {
		return &FlushResult{}, nil
	}
	if !s.flushing.TryLock() {
		return &FlushResult{InProgress: true}, nil
	}
	defer s.flushing.Unlock()

	pending, err := s.outbox.Pending(ctx)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to read pending feedback", err)
	}

	logger := observability.LoggerFromContext(ctx)
	res := &FlushResult{}
	for _, f := range pending {
		_, err := s.breaker.Execute(func() (interface{}, error) {
			return s.repo.Insert(ctx, f)
		})
		if err != nil {
			logger.Warn().Err(err).Str("idempotency_key", f.IdempotencyKey).Msg("failed to flush feedback")
			res.Failed++
			continue
		}
		if err := s.outbox.Remove(ctx, f.IdempotencyKey); err != nil {
			logger.Error().Err(err).Str("idempotency_key", f.IdempotencyKey).Msg("flushed feedback left in outbox")
			res.Failed++
			continue
		}
		res.Flushed++
	}
	res.Remaining = len(pending) - res.Flushed

	if res.Flushed > 0 {
		observability.Add(ctx, s.metrics.FeedbackFlushed, int64(res.Flushed))
		logger.Info().Int("flushed", res.Flushed).Int("remaining", res.Remaining).Msg("pending feedback flushed")
	}
	return res, nil
}

func (s *service) List(ctx context.Context, filter Filter) ([]*Feedback, error) {
	filter.Search = strings.TrimSpace(filter.Search)
	items, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*Feedback{}
	}
	return items, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*Feedback, error) {
	return s.repo.Get(ctx, id)
}

// UpdateStatus moves a submission through triage.
func (s *service) UpdateStatus(ctx context.Context, id uuid.UUID, status, actor string) (*Feedback, error) {
	if !validStatus(status) {
		return nil, apperrors.NewFieldErrors(map[string]string{"status": "unknown status " + status})
	}
	if err := s.repo.update(ctx, id, goqu.Record{"status": status}, actor, s.now().UTC()); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// Respond records an admin reply together with the new status and priority.
func (s *service) Respond(ctx context.Context, id uuid.UUID, in ResponseInput, actor string) (*Feedback, error) {
	fields := map[string]string{}
	if !validStatus(in.Status) {
		fields["status"] = "unknown status " + in.Status
	}
	if !validPriority(in.Priority) {
		fields["priority"] = "unknown priority " + in.Priority
	}
	if strings.TrimSpace(in.AdminResponse) == "" {
		fields["adminResponse"] = "Response is required"
	}
	if len(fields) > 0 {
		return nil, apperrors.NewFieldErrors(fields)
	}

	set := goqu.Record{
		"status":         in.Status,
		"priority":       in.Priority,
		"admin_response": strings.TrimSpace(in.AdminResponse),
	}
	if err := s.repo.update(ctx, id, set, actor, s.now().UTC()); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

func (s *service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.delete(ctx, id)
}

// Stats counts submissions per status.
func (s *service) Stats(ctx context.Context) (*Stats, error) {
	counts, err := s.repo.countByStatus(ctx)
	if err != nil {
		return nil, err
	}
	stats := &Stats{}
	for _, c := range counts {
		stats.Total += c.Count
		switch c.Status {
		case StatusNew:
			stats.New = c.Count
		case StatusInProgress:
			stats.InProgress = c.Count
		case StatusResolved:
			stats.Resolved = c.Count
		case StatusClosed:
			stats.Closed = c.Count
		}
	}
	return stats, nil
}
