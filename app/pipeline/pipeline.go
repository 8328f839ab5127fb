package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lysyi3m/rss-relay/app/feed"
	"github.com/lysyi3m/rss-relay/app/metrics"
	"github.com/lysyi3m/rss-relay/app/settings"
	"github.com/lysyi3m/rss-relay/app/store"
)

const releaseTimeout = 5 * time.Second

// Pipeline runs every configured source through dedup, keyword filter,
// classifier and notifier, one item at a time.
type Pipeline struct {
	fetcher    Fetcher
	parser     Parser
	classifier Classifier
	notifier   Notifier
	store      Store
	clock      Clock
	newOwner   func() string
	retention  time.Duration
	leaseTTL   time.Duration
}

func New(deps Deps) *Pipeline {
	p := &Pipeline{
		fetcher:    deps.Fetcher,
		parser:     deps.Parser,
		classifier: deps.Classifier,
		notifier:   deps.Notifier,
		store:      deps.Store,
		clock:      deps.Clock,
		newOwner:   deps.NewOwner,
		retention:  deps.Retention,
		leaseTTL:   deps.LeaseTTL,
	}

	if p.clock == nil {
		p.clock = time.Now
	}
	if p.newOwner == nil {
		p.newOwner = uuid.NewString
	}
	if p.retention <= 0 {
		p.retention = store.DefaultRetention
	}
	if p.leaseTTL <= 0 {
		p.leaseTTL = store.DefaultLeaseTTL
	}

	return p
}

func (p *Pipeline) validateDeps() error {
	if p.fetcher == nil || p.parser == nil || p.notifier == nil || p.store == nil {
		return ErrNotConfigured
	}
	return nil
}

// RunOnce performs one full run under the run lease. Cancelling ctx stops
// the run between items; a network call already in flight finishes or times
// out on its own. A cancelled run returns its partial summary and ctx.Err().
func (p *Pipeline) RunOnce(ctx context.Context, s settings.Settings) (Summary, error) {
	if err := p.validateDeps(); err != nil {
		return Summary{}, err
	}

	summary := Summary{
		StartedAt: p.clock(),
		Outcomes:  make(map[Outcome]int),
	}

	owner := p.newOwner()
	acquired, err := p.store.Acquire(ctx, store.RunLeaseKey, owner, p.leaseTTL)
	if err != nil {
		metrics.ObserveRun("failed", 0)
		return summary, fmt.Errorf("failed to acquire run lease: %w", err)
	}
	if !acquired {
		metrics.ObserveRun("skipped", 0)
		return summary, ErrRunInProgress
	}
	defer p.releaseLease(owner)

	p.purgeExpired(ctx)

	rule := feed.CompileKeywords(s.Keywords)
	if s.EnableKeyword {
		slog.Debug("Keyword filter enabled", "rule", rule.String())
	}

	for _, source := range s.Sources() {
		if ctx.Err() != nil {
			summary.Cancelled = true
			break
		}

		summary.Sources++
		p.processSource(ctx, source, s, rule, &summary)

		if summary.Cancelled {
			break
		}
	}

	summary.Duration = p.clock().Sub(summary.StartedAt)

	if summary.Cancelled {
		metrics.ObserveRun("cancelled", summary.Duration)
		return summary, ctx.Err()
	}

	metrics.ObserveRun("completed", summary.Duration)
	return summary, nil
}

func (p *Pipeline) processSource(ctx context.Context, source string, s settings.Settings, rule feed.KeywordRule, summary *Summary) {
	// In-flight calls are bounded by their own timeouts, not by run cancellation.
	callCtx := context.WithoutCancel(ctx)

	items, err := p.loadItems(callCtx, source)
	if err != nil {
		slog.Warn("Failed to load feed", "feed", source, "error", err)
		summary.SourcesFailed++
		metrics.ObserveSourceFailure(source)
		return
	}
	slog.Debug("Feed parsed", "feed", source, "items", len(items))

	for _, item := range items {
		if ctx.Err() != nil {
			summary.Cancelled = true
			return
		}

		outcome := p.processItem(callCtx, item, s, rule)
		summary.Items++
		summary.Outcomes[outcome]++
		metrics.ObserveItem(string(outcome))
	}
}

// loadItems fetches and parses one source. A panic in either step is
// returned as an error so it fails only this source.
func (p *Pipeline) loadItems(ctx context.Context, source string) (items []feed.Item, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Feed loading panicked", "feed", source, "panic", r)
			items, err = nil, fmt.Errorf("panic while loading feed: %v", r)
		}
	}()

	data, err := p.fetcher.Fetch(ctx, source)
	if err != nil {
		return nil, err
	}

	return p.parser.Run(data), nil
}

func (p *Pipeline) processItem(ctx context.Context, item feed.Item, s settings.Settings, rule feed.KeywordRule) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Item processing panicked", "item", item.Identity(), "panic", r)
			outcome = OutcomeErrored
		}
	}()

	id := item.Identity()
	if id == "" {
		slog.Warn("Skipping item without link, guid or title")
		return OutcomeUnidentifiable
	}

	seen, err := p.store.Seen(ctx, id)
	if err != nil {
		slog.Error("Failed to check dedup record", "item", id, "error", err)
		return OutcomeStoreError
	}
	if seen {
		return OutcomeDeduped
	}

	if !rule.Allows(s.EnableKeyword, item) {
		slog.Debug("Item rejected by keywords", "item", id)
		return OutcomeKeywordRejected
	}

	if s.EnableAI && p.classifier != nil && !p.classifier.Classify(ctx, item, s.AI) {
		slog.Debug("Item rejected by classifier", "item", id)
		return OutcomeClassifierRejected
	}

	if !p.notifier.Send(ctx, p.notifier.Format(item)) {
		return OutcomeSendFailed
	}

	if err := p.store.MarkSent(ctx, id, p.retention); err != nil {
		slog.Error("Failed to record sent item", "item", id, "error", err)
	}

	slog.Info("Item sent", "item", id, "title", item.Title)
	return OutcomeSent
}

func (p *Pipeline) purgeExpired(ctx context.Context) {
	purger, ok := p.store.(store.Purger)
	if !ok {
		return
	}

	purged, err := purger.Purge(ctx)
	if err != nil {
		slog.Warn("Failed to purge expired records", "error", err)
		return
	}
	if purged > 0 {
		slog.Debug("Purged expired records", "count", purged)
	}
}

func (p *Pipeline) releaseLease(owner string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	if err := p.store.Release(ctx, store.RunLeaseKey, owner); err != nil {
		slog.Error("Failed to release run lease", "error", err)
	}
}
