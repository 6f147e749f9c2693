// Package followup reminds the business owner about warm and hot leads that
// nobody has contacted yet.
package followup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/leadflow-ai/internal/leads"
	"github.com/wolfman30/leadflow-ai/internal/notify"
	"github.com/wolfman30/leadflow-ai/internal/observability/metrics"
	"github.com/wolfman30/leadflow-ai/pkg/logging"
)

const (
	defaultInterval  = 30 * time.Minute
	defaultHotAfter  = 12 * time.Hour
	defaultWarmAfter = 24 * time.Hour
	defaultBatchSize = 50
)

// Config tunes the sweep. Zero values fall back to the defaults.
type Config struct {
	Interval  time.Duration
	HotAfter  time.Duration
	WarmAfter time.Duration
	// Cooldown is the minimum gap between reminders for one lead. A tier
	// never reminds more often than its own idle threshold.
	Cooldown  time.Duration
	BatchSize int
}

// Sweeper finds idle uncontacted leads and reminds the owner once per tier
// threshold: every 12h for hot leads and every 24h for warm ones by default.
type Sweeper struct {
	repo    leads.FollowUpRepository
	sender  notify.Sender
	cfg     Config
	metrics *metrics.ConversationMetrics
	logger  *logging.Logger
	now     func() time.Time
}

func NewSweeper(repo leads.FollowUpRepository, sender notify.Sender, cfg Config, m *metrics.ConversationMetrics, logger *logging.Logger) *Sweeper {
	if repo == nil {
		panic("followup: repository cannot be nil")
	}
	if sender == nil {
		panic("followup: sender cannot be nil")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.HotAfter <= 0 {
		cfg.HotAfter = defaultHotAfter
	}
	if cfg.WarmAfter <= 0 {
		cfg.WarmAfter = defaultWarmAfter
	}
	if cfg.Cooldown < 0 {
		cfg.Cooldown = 0
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Sweeper{
		repo:    repo,
		sender:  sender,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source, for tests.
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("starting follow-up sweeper",
		"interval", s.cfg.Interval.String(),
		"hot_after", s.cfg.HotAfter.String(),
		"warm_after", s.cfg.WarmAfter.String(),
	)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("follow-up sweeper shutting down")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	sent, err := s.RunOnce(ctx)
	if err != nil && ctx.Err() == nil {
		s.logger.Error("follow-up sweep failed", "error", err, "sent", sent)
		return
	}
	if sent > 0 {
		s.logger.Info("follow-up sweep finished", "sent", sent)
	}
}

// RunOnce sends reminders for every qualifying lead and returns how many
// went out. A failure for one lead does not stop the others.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	now := s.now()
	var (
		sent int
		errs []error
	)
	for _, tier := range []struct {
		status leads.Status
		after  time.Duration
	}{
		{leads.StatusHot, s.cfg.HotAfter},
		{leads.StatusWarm, s.cfg.WarmAfter},
	} {
		gap := max(tier.after, s.cfg.Cooldown)
		due, err := s.repo.ListNeedingFollowUp(ctx, leads.FollowUpQuery{
			Status:           tier.status,
			IdleSince:        now.Add(-tier.after),
			NotRemindedSince: now.Add(-gap),
			Limit:            s.cfg.BatchSize,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("followup: list %s leads: %w", tier.status, err))
			continue
		}
		for _, lead := range due {
			if err := s.remind(ctx, lead, now); err != nil {
				errs = append(errs, err)
				continue
			}
			sent++
		}
	}
	return sent, errors.Join(errs...)
}

func (s *Sweeper) remind(ctx context.Context, lead *leads.Lead, now time.Time) error {
	idle := now.Sub(lead.LastInteractionAt).Truncate(time.Minute)
	err := s.sender.Send(ctx, notify.Notification{
		Lead:     lead,
		Priority: notify.PriorityForStatus(lead.Status),
		Kind:     notify.KindFollowUp,
		Reason:   fmt.Sprintf("sin contactar hace %s", idle),
	})
	s.metrics.ObserveFollowUp(string(lead.Status), err == nil)
	if err != nil {
		s.logger.Warn("follow-up reminder failed", "lead_id", lead.ID, "status", string(lead.Status), "error", err)
		return fmt.Errorf("followup: remind %s: %w", lead.ID, err)
	}
	if err := s.repo.RecordFollowUp(ctx, lead.ID, now); err != nil {
		return fmt.Errorf("followup: record reminder for %s: %w", lead.ID, err)
	}
	s.logger.Info("follow-up reminder sent", "lead_id", lead.ID, "status", string(lead.Status), "idle", idle.String())
	return nil
}
