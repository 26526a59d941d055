// Package matching computes which translators may be offered a job.
package matching

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/cuongbtq/booking-dispatch/internal/booking/domain"
	"github.com/cuongbtq/booking-dispatch/internal/booking/ledger"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds parallel per-candidate checks when the caller
// does not configure one.
const DefaultConcurrency = 8

// Directory is the subset of the user directory the engine needs.
type Directory interface {
	BlacklistedTranslators(ctx context.Context, customerID int64) ([]int64, error)
	FindTranslators(ctx context.Context, q domain.TranslatorQuery) ([]domain.User, error)
}

// OverlapChecker reports whether a translator already holds a conflicting
// active assignment. *ledger.Ledger implements it.
type OverlapChecker interface {
	HasOverlap(ctx context.Context, translatorID int64, job *domain.Job) (bool, error)
}

var _ OverlapChecker = (*ledger.Ledger)(nil)

// Engine evaluates translator eligibility for jobs.
type Engine struct {
	directory   Directory
	overlaps    OverlapChecker
	concurrency int
	logger      *slog.Logger
}

// NewEngine creates a new matching engine
func NewEngine(directory Directory, overlaps OverlapChecker, concurrency int, logger *slog.Logger) *Engine {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Engine{
		directory:   directory,
		overlaps:    overlaps,
		concurrency: concurrency,
		logger:      logger,
	}
}

var translatorTypes = map[domain.JobType]domain.TranslatorType{
	domain.JobTypePaid:   domain.TranslatorProfessional,
	domain.JobTypeRWS:    domain.TranslatorRWS,
	domain.JobTypeUnpaid: domain.TranslatorVolunteer,
}

var allLevels = []string{
	domain.LevelCertified,
	domain.LevelCertifiedLaw,
	domain.LevelCertifiedHealth,
	domain.LevelLayman,
	domain.LevelReadTranslationCourses,
}

var certificationLevels = map[domain.Certification][]string{
	domain.CertificationCertified: {domain.LevelCertified, domain.LevelCertifiedLaw, domain.LevelCertifiedHealth},
	domain.CertificationBoth:      {domain.LevelCertified, domain.LevelCertifiedLaw, domain.LevelCertifiedHealth},
	domain.CertificationLaw:       {domain.LevelCertifiedLaw},
	domain.CertificationNLaw:      {domain.LevelCertifiedLaw},
	domain.CertificationHealth:    {domain.LevelCertifiedHealth},
	domain.CertificationNHealth:   {domain.LevelCertifiedHealth},
	domain.CertificationNormal:    {domain.LevelLayman, domain.LevelReadTranslationCourses},
	domain.CertificationNone:      allLevels,
}

// TranslatorType maps a job type to the pool it is offered to.
func TranslatorType(jobType domain.JobType) (domain.TranslatorType, error) {
	t, ok := translatorTypes[jobType]
	if !ok {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidJobType, jobType)
	}
	return t, nil
}

// AllowedLevels maps a certification requirement to the translator levels
// that satisfy it. An unknown requirement allows no level.
func AllowedLevels(c domain.Certification) []string {
	levels, ok := certificationLevels[c.Canonical()]
	if !ok {
		return []string{}
	}
	return append([]string(nil), levels...)
}

// FindEligibleTranslators returns the ids of translators that may be
// offered job, sorted ascending. exclude removes specific translators, for
// example one who just withdrew from the job. An empty result is not an
// error.
func (e *Engine) FindEligibleTranslators(ctx context.Context, job *domain.Job, exclude ...int64) ([]int64, error) {
	translatorType, err := TranslatorType(job.JobType)
	if err != nil {
		e.logger.Error("Job has no translator pool",
			slog.Int64("job_id", job.ID),
			slog.String("job_type", string(job.JobType)),
		)
		return nil, err
	}

	levels := AllowedLevels(job.Certification)
	if len(levels) == 0 {
		e.logger.Warn("Unknown certification requirement, no translator qualifies",
			slog.Int64("job_id", job.ID),
			slog.String("certified", string(job.Certification)),
		)
		return []int64{}, nil
	}

	blacklisted, err := e.directory.BlacklistedTranslators(ctx, job.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load blacklist: %w", err)
	}

	candidates, err := e.directory.FindTranslators(ctx, domain.TranslatorQuery{
		TranslatorType: translatorType,
		Levels:         levels,
		LanguageID:     job.FromLanguageID,
		Gender:         job.Gender,
		ExcludeIDs:     append(append([]int64(nil), blacklisted...), exclude...),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find translators: %w", err)
	}

	eligible := make([]bool, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i := range candidates {
		g.Go(func() error {
			ok, err := e.eligible(gctx, job, &candidates[i])
			if err != nil {
				return err
			}
			eligible[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[int64]struct{}, len(candidates))
	ids := make([]int64, 0, len(candidates))
	for i, c := range candidates {
		if !eligible[i] {
			continue
		}
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}
		ids = append(ids, c.ID)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })

	e.logger.Debug("Eligible translators computed",
		slog.Int64("job_id", job.ID),
		slog.Int("candidates", len(candidates)),
		slog.Int("eligible", len(ids)),
	)
	return ids, nil
}

// eligible applies the per-candidate rules the directory query cannot.
func (e *Engine) eligible(ctx context.Context, job *domain.Job, u *domain.User) (bool, error) {
	if job.RequiresSameTown() && !strings.EqualFold(strings.TrimSpace(u.Town), strings.TrimSpace(job.Town)) {
		return false, nil
	}
	busy, err := e.overlaps.HasOverlap(ctx, u.ID, job)
	if err != nil {
		return false, fmt.Errorf("failed to check translator %d bookings: %w", u.ID, err)
	}
	return !busy, nil
}
