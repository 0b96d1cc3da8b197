package gcsuploader

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dvloznov/finance-insights/internal/gcs"
)

// Archive object names under <base>/<company>/<timestamp>/.
const (
	ReportObjectName = "report.json"
	ChartObjectName  = "chart.png"
)

// ArchiveResult lists the URIs written by ArchiveReport.
type ArchiveResult struct {
	ReportURI string `json:"reportUri"`
	ChartURI  string `json:"chartUri,omitempty"`
}

// Archiver writes report snapshots below a base gs:// URI.
type Archiver struct {
	store ObjectStore
	base  gcs.URI
	now   func() time.Time
}

// NewArchiver validates baseURI and returns an Archiver writing through store.
func NewArchiver(store ObjectStore, baseURI string) (*Archiver, error) {
	base, err := gcs.ParseURI(baseURI)
	if err != nil {
		return nil, fmt.Errorf("NewArchiver: %w", err)
	}
	return &Archiver{store: store, base: base, now: time.Now}, nil
}

// ArchiveReport stores report as indented JSON and, when chartPNG is not
// empty, the chart next to it.
func (a *Archiver) ArchiveReport(ctx context.Context, companyID string, report any, chartPNG []byte) (*ArchiveResult, error) {
	if companyID == "" {
		return nil, fmt.Errorf("ArchiveReport: company id is required")
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("ArchiveReport: marshal report: %w", err)
	}

	dir := a.base.Join(companyID, a.now().UTC().Format("20060102T150405Z"))

	reportURI := dir.Join(ReportObjectName)
	if err := a.store.WriteObject(ctx, reportURI.Bucket, reportURI.Object, "application/json", data); err != nil {
		return nil, fmt.Errorf("ArchiveReport: writing report: %w", err)
	}
	res := &ArchiveResult{ReportURI: reportURI.String()}

	if len(chartPNG) > 0 {
		chartURI := dir.Join(ChartObjectName)
		if err := a.store.WriteObject(ctx, chartURI.Bucket, chartURI.Object, "image/png", chartPNG); err != nil {
			return res, fmt.Errorf("ArchiveReport: writing chart: %w", err)
		}
		res.ChartURI = chartURI.String()
	}

	return res, nil
}

// ArchiveReport is a convenience wrapper using the real GCS service.
func ArchiveReport(ctx context.Context, baseURI, companyID string, report any, chartPNG []byte) (*ArchiveResult, error) {
	a, err := NewArchiver(NewGCSStorageService(), baseURI)
	if err != nil {
		return nil, err
	}
	return a.ArchiveReport(ctx, companyID, report, chartPNG)
}
