package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"

	"github.com/dreamimg/backend/internal/ledger"
	"github.com/dreamimg/backend/internal/models"
	"github.com/dreamimg/backend/internal/providers"
)

const (
	// MaxWait caps how long a single slot may wait for its provider.
	MaxWait             = 180 * time.Second
	defaultPollInterval = time.Second
)

// Ledger is the credit surface the orchestrator charges against.
type Ledger interface {
	Balance(ctx context.Context, accountID uuid.UUID) (int, error)
	Charge(ctx context.Context, accountID uuid.UUID, amount int, reference string, hook ledger.TxHook) (int, error)
}

// WorkRecorder stores generation history. RecordTx enqueues inside the
// charge transaction; Record enqueues on its own.
type WorkRecorder interface {
	RecordTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, provider, prompt string, images []string) error
	Record(ctx context.Context, accountID uuid.UUID, provider, prompt string, images []string) error
}

type Config struct {
	// Costs is the credit cost of one slot per paid provider. Missing
	// entries cost 1.
	Costs   map[providers.Kind]int
	MaxWait time.Duration
}

type Orchestrator struct {
	registry *providers.Registry
	ledger   Ledger
	works    WorkRecorder
	clock    Clock
	cfg      Config
	log      *slog.Logger
}

func NewOrchestrator(registry *providers.Registry, l Ledger, works WorkRecorder, clock Clock, cfg Config, log *slog.Logger) *Orchestrator {
	if clock == nil {
		clock = NewClock()
	}
	if cfg.MaxWait <= 0 || cfg.MaxWait > MaxWait {
		cfg.MaxWait = MaxWait
	}
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{registry: registry, ledger: l, works: works, clock: clock, cfg: cfg, log: log}
}

// Cost returns the per-slot credit cost of kind. Free providers cost 0.
func (o *Orchestrator) Cost(kind providers.Kind) int {
	p, err := o.registry.Get(kind)
	if err != nil || !p.Paid() {
		return 0
	}
	if c, ok := o.cfg.Costs[kind]; ok {
		return c
	}
	return 1
}

func (o *Orchestrator) provider(kind providers.Kind) (providers.Provider, error) {
	p, err := o.registry.Get(kind)
	if err != nil {
		return nil, Errorf(CodeValidation, "unknown provider %q", kind)
	}
	return p, nil
}

// Submit validates req and submits it once. Failures are not retried.
func (o *Orchestrator) Submit(ctx context.Context, kind providers.Kind, req Request) (*JobHandle, error) {
	p, err := o.provider(kind)
	if err != nil {
		return nil, err
	}
	preq, err := resolve(req)
	if err != nil {
		return nil, err
	}
	return o.submit(ctx, p, preq)
}

func (o *Orchestrator) submit(ctx context.Context, p providers.Provider, preq providers.Request) (*JobHandle, error) {
	sub, err := p.Submit(ctx, preq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, Classify(err)
	}
	return &JobHandle{Provider: p.Kind(), JobID: sub.JobID, Images: sub.Images}, nil
}

// AwaitResult polls the handle's job until it reaches a terminal state or the
// budget runs out. Sleeps and polls share one deadline, so a slow poll cannot
// carry the call past the budget. Poll errors are tolerated until then; the
// last one is attached to the TimeoutError.
func (o *Orchestrator) AwaitResult(ctx context.Context, h *JobHandle, timeout time.Duration) ([]string, error) {
	if h.JobID == "" {
		if len(h.Images) == 0 {
			return nil, Errorf(CodeUpstream, "%s returned no images", h.Provider)
		}
		return h.Images, nil
	}
	p, err := o.provider(h.Provider)
	if err != nil {
		return nil, err
	}

	policy := p.PollPolicy()
	budget := o.cfg.MaxWait
	if timeout > 0 && timeout < budget {
		budget = timeout
	}
	if policy.Timeout > 0 && policy.Timeout < budget {
		budget = policy.Timeout
	}
	interval := policy.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	deadline := o.clock.Now().Add(budget)
	pollCtx, cancel := o.clock.WithDeadline(ctx, deadline)
	defer cancel()

	var lastErr error
	for attempt := 1; policy.MaxAttempts == 0 || attempt <= policy.MaxAttempts; attempt++ {
		remaining := deadline.Sub(o.clock.Now())
		if remaining <= 0 {
			break
		}
		if err := o.clock.Sleep(pollCtx, min(interval, remaining)); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			break
		}

		st, err := p.Poll(pollCtx, h.JobID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if pollCtx.Err() != nil {
				break
			}
			lastErr = err
			o.log.Warn("poll failed", "provider", h.Provider, "job_id", h.JobID, "attempt", attempt, "error", err)
			continue
		}

		switch st.State {
		case providers.JobSucceeded:
			if len(st.Images) == 0 {
				return nil, Errorf(CodeUpstream, "%s job %s finished without images", h.Provider, h.JobID)
			}
			return st.Images, nil
		case providers.JobFailed:
			if st.Censored {
				return nil, Errorf(CodeContentCensored, "%s", orDefault(st.Reason, "generated image was censored"))
			}
			return nil, Errorf(CodeUpstream, "%s job failed: %s", h.Provider, orDefault(st.Reason, "unknown reason"))
		}
	}

	return nil, &Error{
		Code:    CodeTimeout,
		Message: fmt.Sprintf("%s job %s did not finish within %s", h.Provider, h.JobID, budget),
		Err:     lastErr,
	}
}

// JobView is the result of a single poll of a deferred job.
type JobView struct {
	Provider providers.Kind     `json:"provider"`
	JobID    string             `json:"job_id"`
	Status   providers.JobState `json:"status"`
	Images   []string           `json:"images,omitempty"`
	Error    *Error             `json:"error,omitempty"`
}

// PollOnce reports the current state of a deferred job with one provider call.
func (o *Orchestrator) PollOnce(ctx context.Context, h *JobHandle) (*JobView, error) {
	p, err := o.provider(h.Provider)
	if err != nil {
		return nil, err
	}
	st, err := p.Poll(ctx, h.JobID)
	if err != nil {
		if errors.Is(err, providers.ErrNotPollable) {
			return nil, Errorf(CodeValidation, "%s jobs cannot be polled", h.Provider)
		}
		return nil, Classify(err)
	}
	view := &JobView{Provider: h.Provider, JobID: h.JobID, Status: st.State, Images: st.Images}
	if st.State == providers.JobFailed {
		if st.Censored {
			view.Error = Errorf(CodeContentCensored, "%s", orDefault(st.Reason, "generated image was censored"))
		} else {
			view.Error = Errorf(CodeUpstream, "%s", orDefault(st.Reason, "generation failed"))
		}
	}
	return view, nil
}

// SubmitDeferred is Submit restricted to unpaid providers, for clients that
// poll the job themselves.
func (o *Orchestrator) SubmitDeferred(ctx context.Context, kind providers.Kind, req Request) (*JobHandle, error) {
	p, err := o.provider(kind)
	if err != nil {
		return nil, err
	}
	if p.Paid() {
		return nil, Errorf(CodeValidation, "%s does not support deferred jobs", kind)
	}
	return o.Submit(ctx, kind, req)
}

const (
	SlotSucceeded = "succeeded"
	SlotFailed    = "failed"
	SlotTimedOut  = "timed_out"
)

// SlotResult is the outcome of one submission slot.
type SlotResult struct {
	Slot   int      `json:"slot"`
	Status string   `json:"status"`
	Images []string `json:"images,omitempty"`
	Error  *Error   `json:"error,omitempty"`
}

// Batch is the result of Generate. Items is indexed by slot.
type Batch struct {
	Provider providers.Kind `json:"provider"`
	Images   []string       `json:"images"`
	Items    []SlotResult   `json:"items"`
	Charged  int            `json:"charged,omitempty"`
	// Balance is the balance after the charge, set for paid generations.
	Balance *int `json:"balance,omitempty"`
}

// Generate runs in.Count independent submit+await cycles in parallel. A paid
// provider requires an account with enough credits for every slot up front;
// only succeeded slots are charged, atomically, before results are returned.
func (o *Orchestrator) Generate(ctx context.Context, in GenerateInput) (*Batch, error) {
	p, err := o.provider(in.Provider)
	if err != nil {
		return nil, err
	}
	preq, err := resolve(in.Request)
	if err != nil {
		return nil, err
	}
	count, err := resolveCount(in.Count)
	if err != nil {
		return nil, err
	}

	cost := o.Cost(in.Provider)
	if p.Paid() {
		if in.AccountID == nil {
			return nil, Errorf(CodeAuth, "sign in to use %s", in.Provider)
		}
		balance, err := o.ledger.Balance(ctx, *in.AccountID)
		if err != nil {
			return nil, &Error{Code: CodePersistence, Message: "could not read balance", Err: err}
		}
		if balance < cost*count {
			return nil, Errorf(CodeInsufficientCredits, "need %d credits, have %d", cost*count, balance)
		}
	}

	items := make([]SlotResult, count)
	var g errgroup.Group
	g.SetLimit(MaxCount)
	for i := range items {
		g.Go(func() error {
			items[i] = o.runSlot(ctx, p, preq, i)
			return nil
		})
	}
	g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch := &Batch{Provider: in.Provider, Images: []string{}, Items: items}
	succeeded := 0
	for _, it := range items {
		if it.Status == SlotSucceeded {
			succeeded++
			batch.Images = append(batch.Images, it.Images...)
		}
	}
	if succeeded == 0 {
		return nil, items[0].Error
	}

	if p.Paid() && cost > 0 {
		amount := cost * succeeded
		reference := fmt.Sprintf("%s:%s", in.Provider, uuid.NewString())
		balance, err := o.ledger.Charge(ctx, *in.AccountID, amount, reference, func(ctx context.Context, tx pgx.Tx, _ *models.CreditLedger) error {
			if o.works == nil {
				return nil
			}
			return o.works.RecordTx(ctx, tx, *in.AccountID, string(in.Provider), preq.Prompt, batch.Images)
		})
		if err != nil {
			if errors.Is(err, ledger.ErrInsufficientCredits) {
				return nil, Errorf(CodeInsufficientCredits, "balance dropped below %d credits", amount)
			}
			return nil, &Error{Code: CodePersistence, Message: "could not record charge", Err: err}
		}
		batch.Charged = amount
		batch.Balance = &balance
		return batch, nil
	}

	if in.AccountID != nil && o.works != nil {
		if err := o.works.Record(ctx, *in.AccountID, string(in.Provider), preq.Prompt, batch.Images); err != nil {
			o.log.Warn("record works failed", "account_id", *in.AccountID, "provider", in.Provider, "error", err)
		}
	}
	return batch, nil
}

func (o *Orchestrator) runSlot(ctx context.Context, p providers.Provider, preq providers.Request, slot int) SlotResult {
	res := SlotResult{Slot: slot}
	h, err := o.submit(ctx, p, preq)
	if err == nil {
		res.Images, err = o.AwaitResult(ctx, h, o.cfg.MaxWait)
	}
	if err != nil {
		e := Classify(err)
		res.Error = e
		res.Status = SlotFailed
		if e.Code == CodeTimeout {
			res.Status = SlotTimedOut
		}
		o.log.Warn("generation slot failed", "provider", p.Kind(), "slot", slot, "code", e.Code, "error", err)
		return res
	}
	res.Status = SlotSucceeded
	return res
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
