package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
)

// GetAnalyzeCacheWithClient returns the cached insights for key, or nil when
// no row exists. Expired rows are returned too; callers decide on staleness.
func GetAnalyzeCacheWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, key string) (*AnalyzeCacheRow, error) {
	q := client.Query(`
		SELECT
			cache_key,
			company_id,
			TO_JSON_STRING(payload) AS payload,
			TO_JSON_STRING(data) AS data,
			expires_at,
			created_at,
			updated_at
		FROM ` + ds.Table(analyzeCacheTable) + `
		WHERE cache_key = @cache_key
		LIMIT 1
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "cache_key", Value: key},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetAnalyzeCache: query read: %w", err)
	}

	var row AnalyzeCacheRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetAnalyzeCache: iter next: %w", err)
	}

	return &row, nil
}

// UpsertAnalyzeCacheWithClient inserts the cache row or, when the key exists,
// replaces its data and expiry. The payload of the first insert is kept.
func UpsertAnalyzeCacheWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, row *AnalyzeCacheRow) error {
	q := client.Query(`
		MERGE ` + ds.Table(analyzeCacheTable) + ` T
		USING (SELECT @cache_key AS cache_key) S
		ON T.cache_key = S.cache_key
		WHEN MATCHED THEN
			UPDATE SET
				data = PARSE_JSON(@data),
				expires_at = @expires_at,
				updated_at = CURRENT_TIMESTAMP()
		WHEN NOT MATCHED THEN
			INSERT (cache_key, company_id, payload, data, expires_at, created_at, updated_at)
			VALUES (@cache_key, @company_id, PARSE_JSON(@payload), PARSE_JSON(@data), @expires_at,
				CURRENT_TIMESTAMP(), CURRENT_TIMESTAMP())
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "cache_key", Value: row.CacheKey},
		{Name: "company_id", Value: row.CompanyID},
		{Name: "payload", Value: row.Payload},
		{Name: "data", Value: row.Data},
		{Name: "expires_at", Value: row.ExpiresAt},
	}

	return runDML(ctx, q, "UpsertAnalyzeCache")
}
