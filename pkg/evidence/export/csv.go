package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"time"

	"jobmail-hq/governor/pkg/evidence"
)

// CSVExporter exports audit records as CSV. Metadata is written as a JSON
// object in a single column.
type CSVExporter struct {
	// IncludeHeader includes a header row with column names.
	IncludeHeader bool
}

// NewCSVExporter creates a new CSV exporter.
func NewCSVExporter(includeHeader bool) *CSVExporter {
	return &CSVExporter{IncludeHeader: includeHeader}
}

// Header is the CSV column order.
var Header = []string{
	"id", "created_at", "actor", "event", "outcome",
	"action_id", "bundle_version", "error", "evidence_ref",
	"supersedes", "metadata",
}

// Export writes records to w.
func (e *CSVExporter) Export(ctx context.Context, records []*evidence.AuditRecord, w io.Writer) error {
	writer := csv.NewWriter(w)

	if e.IncludeHeader {
		if err := writer.Write(Header); err != nil {
			return evidence.NewExportError("csv", len(records), err)
		}
	}
	for _, record := range records {
		if err := writer.Write(recordToRow(record)); err != nil {
			return evidence.NewExportError("csv", len(records), err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return evidence.NewExportError("csv", len(records), err)
	}
	return nil
}

// ExportStream writes records from recordsCh until the channel is closed,
// flushing every 100 rows.
func (e *CSVExporter) ExportStream(ctx context.Context, recordsCh <-chan *evidence.AuditRecord, w io.Writer) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if e.IncludeHeader {
		if err := writer.Write(Header); err != nil {
			return evidence.NewExportError("csv", 0, err)
		}
	}

	recordCount := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case record, ok := <-recordsCh:
			if !ok {
				writer.Flush()
				if err := writer.Error(); err != nil {
					return evidence.NewExportError("csv", recordCount, err)
				}
				return nil
			}

			if err := writer.Write(recordToRow(record)); err != nil {
				return evidence.NewExportError("csv", recordCount, err)
			}
			recordCount++

			if recordCount%100 == 0 {
				writer.Flush()
				if err := writer.Error(); err != nil {
					return evidence.NewExportError("csv", recordCount, err)
				}
			}
		}
	}
}

func recordToRow(record *evidence.AuditRecord) []string {
	metadata := ""
	if len(record.Metadata) > 0 {
		// map[string]string always marshals
		data, _ := json.Marshal(record.Metadata)
		metadata = string(data)
	}

	createdAt := ""
	if !record.CreatedAt.IsZero() {
		createdAt = record.CreatedAt.UTC().Format(time.RFC3339Nano)
	}

	return []string{
		record.ID,
		createdAt,
		record.Actor,
		string(record.Event),
		string(record.Outcome),
		record.ActionID,
		record.BundleVersion,
		record.Error,
		record.EvidenceRef,
		record.Supersedes,
		metadata,
	}
}
