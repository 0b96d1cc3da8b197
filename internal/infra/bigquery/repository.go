package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	bq "github.com/dvloznov/finance-insights/internal/bigquery"
	"github.com/dvloznov/finance-insights/internal/domain"
)

// Re-export shared types so callers only import this package.
type (
	TransactionRepository  = bq.TransactionRepository
	AnalyzeCacheRepository = bq.AnalyzeCacheRepository
	AnalyzeUsageRepository = bq.AnalyzeUsageRepository
	ModelOutputRepository  = bq.ModelOutputRepository

	TransactionRow  = bq.TransactionRow
	AnalyzeCacheRow = bq.AnalyzeCacheRow
	AnalyzeUsageRow = bq.AnalyzeUsageRow
	ModelOutputRow  = bq.ModelOutputRow
)

const (
	transactionsTable = "transactions"
	analyzeCacheTable = "analyze_cache"
	analyzeUsageTable = "analyze_usage"
	modelOutputsTable = "model_outputs"
)

// Dataset identifies the BigQuery project and dataset holding the tables.
type Dataset struct {
	ProjectID string
	DatasetID string
}

// Table returns the backquoted fully qualified name of a table.
func (d Dataset) Table(name string) string {
	return "`" + d.ProjectID + "." + d.DatasetID + "." + name + "`"
}

// Repository implements every repository interface over one shared BigQuery
// client, avoiding a new connection per operation.
type Repository struct {
	client *bigquery.Client
	ds     Dataset
}

// NewRepository creates a Repository for the given project and dataset.
func NewRepository(ctx context.Context, projectID, datasetID string) (*Repository, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewRepository: creating client: %w", err)
	}
	return &Repository{
		client: client,
		ds:     Dataset{ProjectID: projectID, DatasetID: datasetID},
	}, nil
}

// Close closes the BigQuery client connection. This should be called when
// the repository is no longer needed to release resources.
func (r *Repository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Dataset returns the dataset the repository writes to.
func (r *Repository) Dataset() Dataset {
	return r.ds
}

// ListRawTransactions delegates to ListRawTransactionsWithClient with the shared client.
func (r *Repository) ListRawTransactions(ctx context.Context, companyID string, since time.Time) ([]domain.RawRecord, error) {
	return ListRawTransactionsWithClient(ctx, r.client, r.ds, companyID, since)
}

// InsertTransactions delegates to InsertTransactionsWithClient with the shared client.
func (r *Repository) InsertTransactions(ctx context.Context, rows []*TransactionRow) error {
	return InsertTransactionsWithClient(ctx, r.client, r.ds, rows)
}

// GetAnalyzeCache delegates to GetAnalyzeCacheWithClient with the shared client.
func (r *Repository) GetAnalyzeCache(ctx context.Context, key string) (*AnalyzeCacheRow, error) {
	return GetAnalyzeCacheWithClient(ctx, r.client, r.ds, key)
}

// UpsertAnalyzeCache delegates to UpsertAnalyzeCacheWithClient with the shared client.
func (r *Repository) UpsertAnalyzeCache(ctx context.Context, row *AnalyzeCacheRow) error {
	return UpsertAnalyzeCacheWithClient(ctx, r.client, r.ds, row)
}

// GetUsage delegates to GetUsageWithClient with the shared client.
func (r *Repository) GetUsage(ctx context.Context, companyID, userID string, day civil.Date) (int64, error) {
	return GetUsageWithClient(ctx, r.client, r.ds, companyID, userID, day)
}

// IncrementUsage delegates to IncrementUsageWithClient with the shared client.
func (r *Repository) IncrementUsage(ctx context.Context, companyID, userID string, day civil.Date) error {
	return IncrementUsageWithClient(ctx, r.client, r.ds, companyID, userID, day)
}

// InsertModelOutput delegates to InsertModelOutputWithClient with the shared client.
func (r *Repository) InsertModelOutput(ctx context.Context, row *ModelOutputRow) error {
	return InsertModelOutputWithClient(ctx, r.client, r.ds, row)
}

// DeleteCompanyData delegates to DeleteCompanyDataWithClient with the shared client.
func (r *Repository) DeleteCompanyData(ctx context.Context, companyID string) error {
	return DeleteCompanyDataWithClient(ctx, r.client, r.ds, companyID)
}

// runDML runs a DML statement and waits for it to finish.
func runDML(ctx context.Context, q *bigquery.Query, op string) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("%s: running query: %w", op, err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("%s: waiting for job: %w", op, err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("%s: job error: %w", op, err)
	}
	return nil
}
