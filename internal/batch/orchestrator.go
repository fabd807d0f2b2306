// Package batch contains the orchestration control loop that drives one
// submission from admission through generation to finalization.
package batch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"scenebatch/internal/budget"
	"scenebatch/internal/domain"
	"scenebatch/internal/idempotency"
	"scenebatch/internal/ledger"
	"scenebatch/internal/money"
	"scenebatch/internal/pricing"
	"scenebatch/internal/providers/image"
	"scenebatch/internal/ratelimit"
	"scenebatch/internal/refurl"
	"scenebatch/internal/retry"
	"scenebatch/internal/sheets"
)

// Mode selects between a real run and a cost estimate.
type Mode string

const (
	ModeLive   Mode = "live"
	ModeDryRun Mode = "dry_run"
)

// Rejection codes surfaced to the caller.
const (
	CodeRateLimited = "RATE_LIMITED"
	CodeInvalidItem = "INVALID_ITEM"
	CodeDuplicate   = "DUPLICATE"
)

const summaryMaxLen = 80

// SubmitRequest is one batch submission from the routing layer.
type SubmitRequest struct {
	UserID     string
	Items      []domain.BatchItem
	References []refurl.Reference
	Mode       Mode
}

// Rejection explains why the batch, or a single item, was not processed.
// SceneID is empty for batch-level admission rejections.
type Rejection struct {
	SceneID string `json:"scene_id,omitempty"`
	Code    string `json:"code"`
	Reason  string `json:"reason"`
}

// SubmitResult is the structured outcome of Submit. Callers never see a bare
// error for admission failures; they see rejections with reasons.
type SubmitResult struct {
	BatchID            string           `json:"batch_id,omitempty"`
	Accepted           []string         `json:"accepted,omitempty"`
	Rejected           []Rejection      `json:"rejected,omitempty"`
	Cached             bool             `json:"cached,omitempty"`
	DryRun             bool             `json:"dry_run,omitempty"`
	EstimatedCostUSD   string           `json:"estimated_cost_usd,omitempty"`
	ActualCostUSD      string           `json:"actual_cost_usd,omitempty"`
	RemainingBudgetUSD string           `json:"remaining_budget_usd,omitempty"`
	RetryAfter         time.Duration    `json:"-"`
	RetryAfterSeconds  int              `json:"retry_after_seconds,omitempty"`
	State              *domain.JobState `json:"state,omitempty"`
}

// Deps wires the orchestrator. Sink may be nil; everything else is required.
type Deps struct {
	Limiter        *ratelimit.Limiter
	Idempotency    idempotency.Store
	Budget         *budget.Guard
	Pricing        *pricing.Book
	Jobs           *ledger.Ledger
	Costs          *ledger.CostLog
	Retry          *retry.Executor
	Generator      image.Generator
	Refresher      *refurl.Refresher
	Sink           sheets.RowSink
	IdempotencyTTL time.Duration
	Model          string
	Logger         zerolog.Logger
}

// Orchestrator runs each admitted batch to completion within the lifetime of
// the submitting request: admission (rate limit, idempotency, budget), then
// one item at a time through the retry executor, then spend finalization.
// Items are deliberately sequential to bound concurrent upstream calls and
// keep backoff timing predictable.
type Orchestrator struct {
	limiter   *ratelimit.Limiter
	idem      idempotency.Store
	guard     *budget.Guard
	prices    *pricing.Book
	jobs      *ledger.Ledger
	costs     *ledger.CostLog
	retry     *retry.Executor
	generator image.Generator
	refresher *refurl.Refresher
	sink      sheets.RowSink
	ttl       time.Duration
	model     string
	logger    zerolog.Logger

	now func() time.Time
}

func New(deps Deps) *Orchestrator {
	ttl := deps.IdempotencyTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Orchestrator{
		limiter:   deps.Limiter,
		idem:      deps.Idempotency,
		guard:     deps.Budget,
		prices:    deps.Pricing,
		jobs:      deps.Jobs,
		costs:     deps.Costs,
		retry:     deps.Retry,
		generator: deps.Generator,
		refresher: deps.Refresher,
		sink:      deps.Sink,
		ttl:       ttl,
		model:     deps.Model,
		logger:    deps.Logger,
		now:       time.Now,
	}
}

// Status returns the ledger state for a batch, or domain.ErrNotFound.
func (o *Orchestrator) Status(ctx context.Context, batchID string) (*domain.JobState, error) {
	return o.jobs.Get(ctx, batchID)
}

// Submit drives one batch. Admission order is fixed: rate limit first (it is
// the cheapest check and sheds load), idempotency second (prevents double
// execution and double billing), budget last (it needs the estimate). An
// error return means an infrastructure failure; admission was rejected
// closed, not open.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, fmt.Errorf("submit: user id: %w", domain.ErrInvalidRequest)
	}

	valid, rejected := splitValid(req.Items)
	if len(valid) == 0 {
		return &SubmitResult{Rejected: append(rejected, Rejection{
			Code:   CodeInvalidItem,
			Reason: "no valid items in submission",
		})}, nil
	}

	fingerprint := Fingerprint(req.UserID, valid)
	estimate := o.prices.EstimateBatch(o.model, valid)
	result := &SubmitResult{
		BatchID:          fingerprint,
		Rejected:         rejected,
		EstimatedCostUSD: estimate.String(),
	}

	if req.Mode == ModeDryRun {
		return o.dryRun(ctx, req, valid, result)
	}

	// Admitting.
	decision, reservation := o.limiter.CheckAndReserve(req.UserID)
	if !decision.Allowed {
		// A resubmission of a batch that already ran is not new load: it is
		// answered from the idempotency record even while the cooldown runs.
		// Only genuinely new work gets the rate-limit rejection.
		existing, lookupErr := o.idem.Lookup(ctx, fingerprint)
		if lookupErr != nil {
			o.logger.Warn().Err(lookupErr).Str("batch_id", fingerprint).Msg("batch: idempotency lookup during cooldown failed")
		}
		if existing != nil {
			return o.answerCached(ctx, req, result, existing), nil
		}
		result.BatchID = ""
		result.RetryAfter = decision.RetryAfter
		result.RetryAfterSeconds = ceilSeconds(decision.RetryAfter)
		result.Rejected = append(result.Rejected, Rejection{
			Code:   CodeRateLimited,
			Reason: fmt.Sprintf("cooldown active, retry in %ds", result.RetryAfterSeconds),
		})
		return result, nil
	}

	now := o.now().UTC()
	record := idempotency.Record{
		Fingerprint: fingerprint,
		CreatedAt:   now,
		ExpiresAt:   now.Add(o.ttl),
		OwnerUserID: req.UserID,
		ItemSummary: summarize(valid),
	}
	existing, inserted, err := o.idem.PutIfAbsent(ctx, record)
	if err != nil {
		o.limiter.Rollback(reservation)
		return nil, fmt.Errorf("submit: idempotency check: %w: %v", domain.ErrStoreUnavailable, err)
	}
	if !inserted {
		// Lost the insert race or resubmitted inside the dedup window: the
		// caller gets the winner's batch id, not an error.
		o.limiter.Rollback(reservation)
		return o.answerCached(ctx, req, result, existing), nil
	}

	budgetDecision := o.guard.Check(req.UserID, estimate)
	result.RemainingBudgetUSD = budgetDecision.Remaining.String()
	if !budgetDecision.Allowed {
		o.rollbackAdmission(ctx, fingerprint, reservation)
		result.BatchID = ""
		result.Rejected = append(result.Rejected, Rejection{
			Code: budgetDecision.Code,
			Reason: fmt.Sprintf("estimated cost $%s exceeds remaining daily budget $%s (limit $%s)",
				estimate.String(), budgetDecision.Remaining.String(), budgetDecision.DailyLimit.String()),
		})
		return result, nil
	}

	state, err := o.jobs.CreateJob(ctx, fingerprint, req.UserID, valid)
	if err != nil {
		o.rollbackAdmission(ctx, fingerprint, reservation)
		return nil, fmt.Errorf("submit: init ledger: %w: %v", domain.ErrStoreUnavailable, err)
	}

	// Running. A per-item failure never aborts the loop; the item gets a
	// terminal failed status and processing continues with its siblings.
	refs := req.References
	produced := 0
	for _, item := range valid {
		if err := o.jobs.UpdateItem(ctx, state, item.SceneID, domain.ItemStatusRunning, "", nil); err != nil {
			o.logger.Error().Err(err).Str("batch_id", fingerprint).Str("scene_id", item.SceneID).Msg("batch: ledger update failed")
		}

		refs = o.refresher.Refresh(ctx, state.StartedAt, refs)
		keys, itemErr := o.runItem(ctx, fingerprint, item, refs)
		produced += len(keys)

		status := domain.ItemStatusCompleted
		errMsg := ""
		if len(keys) == 0 {
			status = domain.ItemStatusFailed
			errMsg = "generation failed"
			if itemErr != nil {
				errMsg = itemErr.Error()
			}
			o.logger.Warn().Str("batch_id", fingerprint).Str("scene_id", item.SceneID).Str("error", errMsg).Msg("batch: item failed")
		}
		if err := o.jobs.UpdateItem(ctx, state, item.SceneID, status, errMsg, keys); err != nil {
			o.logger.Error().Err(err).Str("batch_id", fingerprint).Str("scene_id", item.SceneID).Msg("batch: ledger update failed")
		}
		result.Accepted = append(result.Accepted, item.SceneID)
		o.notify(ctx, fingerprint, item.SceneID, *state.Item(item.SceneID))
	}

	// Finalizing. Actual cost counts images produced, not images requested;
	// spend is recorded exactly once per batch.
	actual := money.MulInt(o.prices.PerImage(o.model), produced)
	o.guard.RecordSpend(req.UserID, actual)
	result.ActualCostUSD = actual.String()
	result.RemainingBudgetUSD = money.ClampZero(money.Sub(budgetDecision.DailyLimit, o.guard.SpentToday(req.UserID))).String()

	if err := o.costs.Append(ctx, ledger.CostLine{
		UserID:        req.UserID,
		BatchID:       fingerprint,
		PromptSummary: summarize(valid),
		ImageCount:    produced,
		CostUSD:       actual.String(),
	}); err != nil {
		// Audit trail only; the batch outcome stands.
		o.logger.Error().Err(err).Str("batch_id", fingerprint).Msg("batch: cost log append failed")
	}

	// The batch is completed once the loop finishes, even when individual
	// items failed; failures stay visible at item granularity.
	if err := o.jobs.Finalize(ctx, state, domain.BatchStatusCompleted); err != nil {
		o.logger.Error().Err(err).Str("batch_id", fingerprint).Msg("batch: finalize failed")
	}
	result.State = state

	o.logger.Info().
		Str("batch_id", fingerprint).
		Str("user_id", req.UserID).
		Int("items", len(valid)).
		Int("images", produced).
		Str("cost_usd", actual.String()).
		Msg("batch: completed")
	return result, nil
}

// runItem generates every variant of one item sequentially, each wrapped by
// the retry executor. It returns the stored image keys; the item counts as
// failed only when no variant produced an image. A panic inside a provider
// becomes that item's failure, never the batch's.
func (o *Orchestrator) runItem(ctx context.Context, batchID string, item domain.BatchItem, refs []refurl.Reference) (keys []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("item %s panicked: %v", item.SceneID, r)
		}
	}()

	var lastErr error
	for variant := 0; variant < item.Variants; variant++ {
		var res image.Result
		attemptErr := o.retry.Do(ctx, func(ctx context.Context) error {
			var genErr error
			res, genErr = o.generator.Generate(ctx, image.GenerateRequest{
				BatchID:       batchID,
				SceneID:       item.SceneID,
				Prompt:        item.Prompt,
				ReferenceURLs: refurl.URLs(refs),
				VariantIndex:  variant,
			})
			return genErr
		})
		if attemptErr != nil {
			lastErr = attemptErr
			continue
		}
		keys = append(keys, res.ImageLocation)
	}
	if len(keys) == 0 {
		return nil, lastErr
	}
	return keys, nil
}

// dryRun answers what admission would decide without reserving, recording or
// generating anything.
func (o *Orchestrator) dryRun(ctx context.Context, req SubmitRequest, valid []domain.BatchItem, result *SubmitResult) (*SubmitResult, error) {
	result.DryRun = true

	if decision := o.limiter.Peek(req.UserID); !decision.Allowed {
		result.RetryAfter = decision.RetryAfter
		result.RetryAfterSeconds = ceilSeconds(decision.RetryAfter)
		result.Rejected = append(result.Rejected, Rejection{
			Code:   CodeRateLimited,
			Reason: fmt.Sprintf("cooldown active, retry in %ds", result.RetryAfterSeconds),
		})
		return result, nil
	}

	existing, err := o.idem.Lookup(ctx, result.BatchID)
	if err != nil {
		return nil, fmt.Errorf("dry run: idempotency lookup: %w: %v", domain.ErrStoreUnavailable, err)
	}
	if existing != nil {
		result.Cached = true
		if state, err := o.jobs.Get(ctx, result.BatchID); err == nil {
			result.State = state
		}
		return result, nil
	}

	estimate := o.prices.EstimateBatch(o.model, valid)
	decision := o.guard.Check(req.UserID, estimate)
	result.RemainingBudgetUSD = decision.Remaining.String()
	if !decision.Allowed {
		result.Rejected = append(result.Rejected, Rejection{
			Code: decision.Code,
			Reason: fmt.Sprintf("estimated cost $%s exceeds remaining daily budget $%s (limit $%s)",
				estimate.String(), decision.Remaining.String(), decision.DailyLimit.String()),
		})
	}
	return result, nil
}

// answerCached fills result from the winning submission's ledger entry. The
// duplicate caller sees the winner's batch id and state, never an error.
func (o *Orchestrator) answerCached(ctx context.Context, req SubmitRequest, result *SubmitResult, existing *idempotency.Record) *SubmitResult {
	result.Cached = true
	if state, err := o.jobs.Get(ctx, result.BatchID); err == nil {
		result.State = state
	}
	owner := req.UserID
	if existing != nil {
		owner = existing.OwnerUserID
	}
	o.logger.Info().
		Str("batch_id", result.BatchID).
		Str("user_id", req.UserID).
		Str("owner_user_id", owner).
		Msg("batch: duplicate submission answered from idempotency record")
	return result
}

// rollbackAdmission undoes the reservation and the idempotency record after
// a post-insert admission failure, so a corrected resubmission is not
// answered from a batch that never ran.
func (o *Orchestrator) rollbackAdmission(ctx context.Context, fingerprint string, reservation *ratelimit.Reservation) {
	o.limiter.Rollback(reservation)
	if err := o.idem.Delete(ctx, fingerprint); err != nil {
		o.logger.Error().Err(err).Str("batch_id", fingerprint).Msg("batch: idempotency rollback failed")
	}
}

func (o *Orchestrator) notify(ctx context.Context, batchID, sceneID string, state domain.ItemState) {
	if o.sink == nil {
		return
	}
	fields := map[string]string{
		"batch_id": batchID,
		"status":   string(state.Status),
		"error":    state.Error,
	}
	if len(state.ImageKeys) > 0 {
		fields["image"] = state.ImageKeys[0]
	}
	if err := o.sink.UpdateRowStatus(ctx, sceneID, fields); err != nil {
		o.logger.Warn().Err(err).Str("batch_id", batchID).Str("scene_id", sceneID).Msg("batch: sheet update failed")
	}
}

func splitValid(items []domain.BatchItem) (valid []domain.BatchItem, rejected []Rejection) {
	for _, item := range items {
		switch {
		case strings.TrimSpace(item.SceneID) == "":
			rejected = append(rejected, Rejection{Code: CodeInvalidItem, Reason: "missing scene id"})
		case strings.TrimSpace(item.Prompt) == "":
			rejected = append(rejected, Rejection{SceneID: item.SceneID, Code: CodeInvalidItem, Reason: "missing prompt"})
		case item.Variants < 1:
			rejected = append(rejected, Rejection{SceneID: item.SceneID, Code: CodeInvalidItem, Reason: "variants must be >= 1"})
		default:
			valid = append(valid, item)
		}
	}
	return valid, rejected
}

// ceilSeconds rounds up so a denied caller never sees "retry in 0s".
func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

func summarize(items []domain.BatchItem) string {
	variants := 0
	for _, item := range items {
		variants += item.Variants
	}
	summary := fmt.Sprintf("%d scenes, %d variants", len(items), variants)
	if len(items) > 0 {
		first := strings.TrimSpace(items[0].Prompt)
		if len(first) > summaryMaxLen {
			first = first[:summaryMaxLen] + "…"
		}
		summary += ": " + first
	}
	return summary
}
