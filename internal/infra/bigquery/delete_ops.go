package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
)

// DeleteCompanyDataWithClient deletes every row belonging to a company:
// transactions, cached insights, usage counters and model outputs.
func DeleteCompanyDataWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, companyID string) error {
	// Derived tables go first.
	for _, table := range []string{modelOutputsTable, analyzeUsageTable, analyzeCacheTable, transactionsTable} {
		if err := deleteByCompany(ctx, client, ds, table, companyID); err != nil {
			return fmt.Errorf("DeleteCompanyData: deleting %s: %w", table, err)
		}
	}
	return nil
}

func deleteByCompany(ctx context.Context, client *bigquery.Client, ds Dataset, table, companyID string) error {
	q := client.Query(`
		DELETE FROM ` + ds.Table(table) + `
		WHERE company_id = @company_id
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "company_id", Value: companyID},
	}

	return runDML(ctx, q, "delete "+table)
}
