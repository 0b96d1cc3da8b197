package bigquery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/finance-insights/internal/domain"
)

// InsertTransactionsWithClient inserts a batch of TransactionRow into the
// transactions table using the provided BigQuery client.
func InsertTransactionsWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, rows []*TransactionRow) error {
	if len(rows) == 0 {
		return nil
	}

	table := client.DatasetInProject(ds.ProjectID, ds.DatasetID).Table(transactionsTable)
	inserter := table.Inserter()
	if err := inserter.Put(ctx, rows); err != nil {
		return fmt.Errorf("InsertTransactions: inserting rows: %w", err)
	}

	return nil
}

// ListRawTransactionsWithClient reads every column of a company's transactions
// created at or after since. Rows are returned untyped so that the normalizer
// sees the real field names of whichever source wrote them.
func ListRawTransactionsWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, companyID string, since time.Time) ([]domain.RawRecord, error) {
	q := client.Query(`
		SELECT *
		FROM ` + ds.Table(transactionsTable) + `
		WHERE company_id = @company_id
		  AND created_at >= @since
		ORDER BY created_at
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "company_id", Value: companyID},
		{Name: "since", Value: since},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListRawTransactions: query read: %w", err)
	}

	var records []domain.RawRecord
	for {
		row := map[string]bigquery.Value{}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListRawTransactions: iter next: %w", err)
		}
		records = append(records, RawRecordFromRow(row))
	}

	return records, nil
}

// RawRecordFromRow converts a BigQuery row into a raw record. Each snake_case
// column is also exposed under its camelCase name, and the fields of the
// "extra" JSON column are merged in without overriding real columns.
func RawRecordFromRow(row map[string]bigquery.Value) domain.RawRecord {
	rec := make(domain.RawRecord, len(row)*2)
	for k, v := range row {
		rec[k] = v
	}
	for k, v := range row {
		if camel := snakeToCamel(k); camel != k {
			if _, exists := rec[camel]; !exists {
				rec[camel] = v
			}
		}
	}

	if s, ok := row["extra"].(string); ok && s != "" {
		var extra map[string]any
		if err := json.Unmarshal([]byte(s), &extra); err == nil {
			for k, v := range extra {
				if _, exists := rec[k]; !exists {
					rec[k] = v
				}
			}
		}
	}
	if id, ok := row["transaction_id"]; ok {
		if _, exists := rec["id"]; !exists {
			rec["id"] = id
		}
	}
	return rec
}

func snakeToCamel(s string) string {
	if !strings.Contains(s, "_") {
		return s
	}
	parts := strings.Split(s, "_")
	var b strings.Builder
	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		r := []rune(p)
		r[0] = unicode.ToUpper(r[0])
		b.WriteString(string(r))
	}
	return b.String()
}
