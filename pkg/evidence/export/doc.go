// Package export writes audit records as JSON or CSV.
//
//	exporter := export.NewCSVExporter(true)
//	err := exporter.Export(ctx, records, os.Stdout)
//
// Both exporters also consume the channel returned by
// evidence.Storage.QueryStream, so large trails are written without being
// held in memory. Failures are reported as *evidence.ExportError.
package export
