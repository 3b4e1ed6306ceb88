package repository

import (
	"context"

	"notes-sync-indexer/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

const lastReportDocID = "sync:last"

// ReportRepository keeps the outcome of the most recent sync run.
type ReportRepository interface {
	Save(ctx context.Context, report *domain.SyncReport) error
	// Last returns domain.ErrNotFound before the first run completes.
	Last(ctx context.Context) (*domain.SyncReport, error)
}

type reportDoc struct {
	ID   string `json:"_id"`
	Rev  string `json:"_rev,omitempty"`
	Type string `json:"type"`
	domain.SyncReport
}

type reportRepository struct {
	client *kivik.Client
	dbName string
}

func NewReportRepository(client *kivik.Client, dbName string) ReportRepository {
	return &reportRepository{
		client: client,
		dbName: dbName,
	}
}

func (r *reportRepository) Save(ctx context.Context, report *domain.SyncReport) error {
	db := r.client.DB(r.dbName)

	doc := reportDoc{ID: lastReportDocID, Type: "sync_report", SyncReport: *report}

	rev, err := db.GetRev(ctx, lastReportDocID)
	if err != nil && !isNotFound(err) {
		return storageError("save report", report.RunID, err)
	}
	doc.Rev = rev

	if _, err := db.Put(ctx, lastReportDocID, doc); err != nil {
		return storageError("save report", report.RunID, err)
	}
	return nil
}

func (r *reportRepository) Last(ctx context.Context) (*domain.SyncReport, error) {
	db := r.client.DB(r.dbName)

	var doc reportDoc
	if err := db.Get(ctx, lastReportDocID).ScanDoc(&doc); err != nil {
		if isNotFound(err) {
			return nil, domain.ErrNotFound
		}
		return nil, storageError("load report", lastReportDocID, err)
	}

	report := doc.SyncReport
	return &report, nil
}
