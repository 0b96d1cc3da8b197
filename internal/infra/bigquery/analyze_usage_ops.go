package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"google.golang.org/api/iterator"
)

// GetUsageWithClient returns how many narratives were generated for the
// company and user on day. A missing row counts as zero.
func GetUsageWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, companyID, userID string, day civil.Date) (int64, error) {
	q := client.Query(`
		SELECT company_id, user_id, day, count
		FROM ` + ds.Table(analyzeUsageTable) + `
		WHERE company_id = @company_id
		  AND user_id = @user_id
		  AND day = @day
		LIMIT 1
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "company_id", Value: companyID},
		{Name: "user_id", Value: userID},
		{Name: "day", Value: day},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return 0, fmt.Errorf("GetUsage: query read: %w", err)
	}

	var row AnalyzeUsageRow
	err = it.Next(&row)
	if err == iterator.Done {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("GetUsage: iter next: %w", err)
	}

	return row.Count, nil
}

// IncrementUsageWithClient adds one to the counter, creating the row on first use.
func IncrementUsageWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, companyID, userID string, day civil.Date) error {
	q := client.Query(`
		MERGE ` + ds.Table(analyzeUsageTable) + ` T
		USING (SELECT @company_id AS company_id, @user_id AS user_id, @day AS day) S
		ON T.company_id = S.company_id AND T.user_id = S.user_id AND T.day = S.day
		WHEN MATCHED THEN
			UPDATE SET count = T.count + 1
		WHEN NOT MATCHED THEN
			INSERT (company_id, user_id, day, count)
			VALUES (@company_id, @user_id, @day, 1)
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "company_id", Value: companyID},
		{Name: "user_id", Value: userID},
		{Name: "day", Value: day},
	}

	return runDML(ctx, q, "IncrementUsage")
}
