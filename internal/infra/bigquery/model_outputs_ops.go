package bigquery

import (
	"context"

	"cloud.google.com/go/bigquery"
)

// InsertModelOutputWithClient inserts a single ModelOutputRow into model_outputs
// using the provided BigQuery client. Uses DML INSERT to avoid streaming buffer issues.
func InsertModelOutputWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, row *ModelOutputRow) error {
	q := client.Query(`
		INSERT INTO ` + ds.Table(modelOutputsTable) + ` (
			output_id, company_id, cache_key,
			model_name, model_version, raw_json,
			created_ts, notes, metadata
		)
		VALUES (
			@output_id, @company_id, @cache_key,
			@model_name, @model_version, @raw_json,
			@created_ts, @notes, @metadata
		)
	`)

	q.Parameters = []bigquery.QueryParameter{
		{Name: "output_id", Value: row.OutputID},
		{Name: "company_id", Value: row.CompanyID},
		{Name: "cache_key", Value: row.CacheKey},
		{Name: "model_name", Value: row.ModelName},
		{Name: "model_version", Value: row.ModelVersion},
		{Name: "raw_json", Value: row.RawJSON},
		{Name: "created_ts", Value: row.CreatedTS},
		{Name: "notes", Value: row.Notes},
		{Name: "metadata", Value: row.Metadata},
	}

	return runDML(ctx, q, "InsertModelOutput")
}
