package pyrus

import (
	"context"
	"iter"

	"github.com/rs/zerolog"
)

// FormsClient composes the base client and the pagination handler into the
// task-streaming surface the sync service consumes.
type FormsClient struct {
	client *Client
	pager  *PaginationHandler
}

func NewFormsClient(client *Client, pagination PaginationConfig, logger zerolog.Logger) *FormsClient {
	return &FormsClient{
		client: client,
		pager:  NewPaginationHandler(client, pagination, logger),
	}
}

// RegisterTasks streams every task in the form register, lazily.
func (f *FormsClient) RegisterTasks(ctx context.Context, formID int, opts IterOptions) iter.Seq2[Task, error] {
	return f.pager.Tasks(ctx, formID, opts)
}

// FormStats counts total/archived/active tasks with a full register scan.
func (f *FormsClient) FormStats(ctx context.Context, formID int) (FormStats, error) {
	return f.pager.Stats(ctx, formID)
}

// FormExists probes whether the form is reachable.
func (f *FormsClient) FormExists(ctx context.Context, formID int) bool {
	return f.pager.FormExists(ctx, formID)
}

// Healthy reports whether the remote API accepts our credentials.
func (f *FormsClient) Healthy(ctx context.Context) bool {
	return f.client.Healthy(ctx)
}
