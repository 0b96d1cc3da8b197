package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dvloznov/finance-insights/internal/domain"
	"github.com/dvloznov/finance-insights/internal/gcsuploader"
)

// staticSource serves a fixed record set for every company.
type staticSource []domain.RawRecord

func (s staticSource) ListRawTransactions(ctx context.Context, companyID string, since time.Time) ([]domain.RawRecord, error) {
	return s, nil
}

// loadRecords reads a JSON array of records from a local file or a gs:// URI.
func loadRecords(ctx context.Context, path string) ([]domain.RawRecord, error) {
	var (
		data []byte
		err  error
	)
	if strings.HasPrefix(path, "gs://") {
		data, err = gcsuploader.FetchFromGCS(ctx, path)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return parseRecords(data)
}

// parseRecords decodes a JSON array of objects, keeping numbers exact.
func parseRecords(data []byte) ([]domain.RawRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var objs []map[string]any
	if err := dec.Decode(&objs); err != nil {
		return nil, fmt.Errorf("parsing records: expected a JSON array of objects: %w", err)
	}

	records := make([]domain.RawRecord, 0, len(objs))
	for _, obj := range objs {
		if obj == nil {
			continue
		}
		records = append(records, domain.RawRecord(obj))
	}
	return records, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
