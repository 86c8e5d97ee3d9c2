package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/ferrobene/avalia/internal/cache"
	"github.com/ferrobene/avalia/internal/metrics"
	"github.com/ferrobene/avalia/internal/models"
	"github.com/ferrobene/avalia/internal/notify"
	"github.com/ferrobene/avalia/internal/store"
)

// Submission errors the caller is expected to handle. A version conflict
// means a concurrent editor won the race: the caller should refetch the
// record and re-present it, never auto-retry. An empty evaluation is
// rejected before any I/O.
var (
	ErrEmptyEvaluation  = errors.New("evaluation text is empty")
	ErrVersionConflict  = store.ErrVersionConflict
	ErrReviewerNotFound = errors.New("reviewer not found")
)

// ReadCache is what the service needs from the cache layer: memoized read
// views and study-scoped invalidation.
type ReadCache interface {
	Get(ctx context.Context, key string, dest interface{}) bool
	Set(ctx context.Context, key string, value interface{})
	InvalidateStudy(ctx context.Context, studyID int64) error
	Close() error
}

type Service struct {
	Config    *Config
	Store     store.DeviationStore
	Cache     ReadCache
	Directory *notify.Directory
	Mailer    *notify.Mailer

	asyncNotify bool
	fanouts     sync.WaitGroup
}

func NewService(configPath string) (*Service, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	st, err := NewStore(config)
	if err != nil {
		return nil, fmt.Errorf("failed to init store: %w", err)
	}

	readCache, err := cache.New(config.Cache.RedisURL, config.CacheTTL())
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to init cache: %w", err)
	}

	var mailer *notify.Mailer
	if config.Notify.Enabled {
		sender, err := notify.NewShoutrrrSender(config.Notify.URLTemplate, config.NotifyTimeout())
		if err != nil {
			st.Close()
			readCache.Close()
			return nil, fmt.Errorf("failed to init notifier: %w", err)
		}
		mailer = notify.NewMailer(sender)
	}

	return &Service{
		Config:      config,
		Store:       st,
		Cache:       readCache,
		Directory:   notify.NewDirectory(st),
		Mailer:      mailer,
		asyncNotify: !config.Notify.SyncDelivery,
	}, nil
}

// SubmitEvaluation is the single entry point of the evaluation pipeline.
// Terminal states: nil error (committed), ErrEmptyEvaluation,
// ErrVersionConflict, or a storage error with the transaction rolled back.
// Cache invalidation and notification happen strictly after commit and never
// alter the returned result.
func (s *Service) SubmitEvaluation(ctx context.Context, sub models.Submission) (*models.SubmitResult, error) {
	sub.Evaluation = strings.TrimSpace(sub.Evaluation)
	if sub.Evaluation == "" {
		metrics.SubmissionsTotal.WithLabelValues("validation_error").Inc()
		return nil, ErrEmptyEvaluation
	}
	if err := sub.Validate(); err != nil {
		metrics.SubmissionsTotal.WithLabelValues("validation_error").Inc()
		return nil, fmt.Errorf("invalid submission: %w", err)
	}

	result, err := s.Store.SubmitEvaluation(ctx, sub)
	if errors.Is(err, store.ErrVersionConflict) {
		metrics.SubmissionsTotal.WithLabelValues("conflict").Inc()
		return nil, ErrVersionConflict
	}
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	metrics.SubmissionsTotal.WithLabelValues("committed").Inc()

	// The transaction is durable from here on. Invalidation and fan-out are
	// best effort: their failures are logged, never surfaced to the caller.
	if err := s.Cache.InvalidateStudy(context.WithoutCancel(ctx), result.StudyID); err != nil {
		logger.Error.Printf("Cache invalidation failed for study %d: %v", result.StudyID, err)
	}

	if s.asyncNotify {
		s.fanouts.Add(1)
		go func() {
			defer s.fanouts.Done()
			s.fanOut(result, sub)
		}()
	} else {
		s.fanOut(result, sub)
	}

	return result, nil
}

func (s *Service) fanOut(result *models.SubmitResult, sub models.Submission) {
	if s.Mailer == nil {
		return
	}

	recipients, err := s.Directory.Resolve(result.StudyID, sub.ActorEmail)
	if err != nil {
		logger.Error.Printf("Recipient resolution failed for study %d: %v", result.StudyID, err)
		return
	}
	if len(recipients) == 0 {
		logger.Info.Printf("No monitors configured for study %d, skipping notification", result.StudyID)
		return
	}

	study, err := s.studyHeader(result.StudyID)
	if err != nil {
		logger.Error.Printf("Failed to load study %d for notification: %v", result.StudyID, err)
		return
	}
	if study == nil {
		logger.Error.Printf("Study %d not found for notification", result.StudyID)
		return
	}

	report := s.Mailer.Notify(notify.Message{
		StudyCode:   study.Code,
		StudyName:   study.Name,
		SeqNumber:   result.SeqNumber,
		ActorName:   sub.ActorName,
		Evaluation:  sub.Evaluation,
		SubmittedAt: result.SubmittedAt,
	}, recipients)

	metrics.NotificationsTotal.WithLabelValues("sent").Add(float64(len(report.Sent)))
	metrics.NotificationsTotal.WithLabelValues("failed").Add(float64(len(report.Failed)))
	for _, failure := range report.Failed {
		logger.Error.Printf("Notification to %s failed: %v", failure.Recipient, failure.Err)
	}
	logger.Debug.Printf("Notification fan-out for deviation #%d: %d sent, %d failed",
		result.SeqNumber, len(report.Sent), len(report.Failed))
}

// studyHeader fetches code and name for notification rendering. The study
// list query is reviewer-scoped, so this is a dedicated lookup by id.
func (s *Service) studyHeader(studyID int64) (*models.Study, error) {
	return s.Store.GetStudy(studyID)
}

func (s *Service) Login(email string) (*models.Reviewer, error) {
	reviewer, err := s.Store.GetReviewerByEmail(email)
	if err != nil {
		return nil, err
	}
	if reviewer == nil {
		return nil, ErrReviewerNotFound
	}
	return reviewer, nil
}

func (s *Service) ListStudies(ctx context.Context, reviewerEmail string) ([]models.StudySummary, error) {
	key := cache.StudyListKey(reviewerEmail)

	var studies []models.StudySummary
	if s.Cache.Get(ctx, key, &studies) {
		return studies, nil
	}

	studies, err := s.Store.ListStudiesForReviewer(reviewerEmail)
	if err != nil {
		return nil, err
	}

	s.Cache.Set(ctx, key, studies)
	return studies, nil
}

func (s *Service) GetSummary(ctx context.Context, reviewerEmail string) (*models.ReviewerSummary, error) {
	key := cache.SummaryKey(reviewerEmail)

	var summary models.ReviewerSummary
	if s.Cache.Get(ctx, key, &summary) {
		return &summary, nil
	}

	result, err := s.Store.GetReviewerSummary(reviewerEmail)
	if err != nil {
		return nil, err
	}

	s.Cache.Set(ctx, key, result)
	return result, nil
}

func (s *Service) ListDeviations(ctx context.Context, studyID int64, filter string) ([]models.Deviation, error) {
	if filter == "" {
		filter = store.FilterPending
	}
	key := cache.DeviationListKey(studyID, filter)

	var deviations []models.Deviation
	if s.Cache.Get(ctx, key, &deviations) {
		return deviations, nil
	}

	deviations, err := s.Store.ListDeviations(studyID, filter)
	if err != nil {
		return nil, err
	}

	s.Cache.Set(ctx, key, deviations)
	return deviations, nil
}

// GetDeviation always bypasses the cache: this is the read-after-write path
// the edit form uses to pick up the current version token.
func (s *Service) GetDeviation(id int64) (*models.Deviation, error) {
	return s.Store.GetDeviation(id)
}

func (s *Service) Close() error {
	s.fanouts.Wait()

	var errs []error

	if err := s.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}
	if err := s.Cache.Close(); err != nil {
		errs = append(errs, fmt.Errorf("cache: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors while closing: %v", errs)
	}
	return nil
}
