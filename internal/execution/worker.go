package execution

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

// RecordWorksArgs stores the images of one finished generation in the
// account's history.
type RecordWorksArgs struct {
	AccountID uuid.UUID `json:"account_id"`
	Provider  string    `json:"provider"`
	Prompt    string    `json:"prompt"`
	Images    []string  `json:"images"`
}

func (RecordWorksArgs) Kind() string { return "record_works" }

// WorksStore is the history table the worker writes to.
type WorksStore interface {
	InsertWorks(ctx context.Context, accountID uuid.UUID, provider, prompt string, images []string) error
}

type RecordWorksWorker struct {
	river.WorkerDefaults[RecordWorksArgs]
	works WorksStore
}

func NewRecordWorksWorker(works WorksStore) *RecordWorksWorker {
	return &RecordWorksWorker{works: works}
}

func (w *RecordWorksWorker) Work(ctx context.Context, job *river.Job[RecordWorksArgs]) error {
	args := job.Args
	if len(args.Images) == 0 {
		return nil
	}
	if err := w.works.InsertWorks(ctx, args.AccountID, args.Provider, args.Prompt, args.Images); err != nil {
		return fmt.Errorf("insert works: %w", err)
	}
	return nil
}

// JobInserter is the subset of *river.Client[pgx.Tx] used to enqueue jobs.
type JobInserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
	InsertTx(ctx context.Context, tx pgx.Tx, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// Recorder enqueues record_works jobs.
type Recorder struct {
	client JobInserter
}

func NewRecorder(client JobInserter) *Recorder {
	return &Recorder{client: client}
}

// RecordTx enqueues inside tx, so the job exists only if tx commits.
func (r *Recorder) RecordTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, provider, prompt string, images []string) error {
	_, err := r.client.InsertTx(ctx, tx, RecordWorksArgs{AccountID: accountID, Provider: provider, Prompt: prompt, Images: images}, nil)
	return err
}

func (r *Recorder) Record(ctx context.Context, accountID uuid.UUID, provider, prompt string, images []string) error {
	_, err := r.client.Insert(ctx, RecordWorksArgs{AccountID: accountID, Provider: provider, Prompt: prompt, Images: images}, nil)
	return err
}
