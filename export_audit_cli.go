package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// AuditExportOptions contains options for exporting an audit trail
type AuditExportOptions struct {
	IntentID  string
	OutputDir string
}

// AuditExporter handles exporting audit trails to CSV
type AuditExporter struct {
	ledger *Ledger
}

// NewAuditExporter creates a new audit trail exporter
func NewAuditExporter(ledger *Ledger) *AuditExporter {
	return &AuditExporter{ledger: ledger}
}

// ExportToCSV exports the audit trail of one intent to CSV format
func (e *AuditExporter) ExportToCSV(ctx context.Context, writer io.Writer, options AuditExportOptions) error {
	events, err := e.ledger.GetTrail(ctx, options.IntentID)
	if err != nil {
		return fmt.Errorf("failed to get audit trail: %w", err)
	}

	csvWriter := csv.NewWriter(writer)
	defer csvWriter.Flush()

	// Write header
	header := []string{"ID", "Timestamp", "IntentID", "Event", "Data"}
	if err := csvWriter.Write(header); err != nil {
		return fmt.Errorf("failed to write header to CSV: %w", err)
	}

	// Write events
	for _, event := range events {
		row := []string{
			fmt.Sprintf("%d", event.ID),
			time.UnixMilli(event.Timestamp).UTC().Format(time.RFC3339Nano),
			event.IntentID,
			event.Event,
			string(event.Data),
		}
		if err := csvWriter.Write(row); err != nil {
			return fmt.Errorf("failed to write row to CSV: %w", err)
		}
	}
	return nil
}

// ExportToFile exports the audit trail to a CSV file
func (e *AuditExporter) ExportToFile(ctx context.Context, options AuditExportOptions) (string, error) {
	if err := os.MkdirAll(options.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", options.OutputDir, err)
	}

	fileName := filepath.Join(options.OutputDir, fmt.Sprintf("audit_%s.csv", options.IntentID))
	file, err := os.Create(fileName)
	if err != nil {
		return "", fmt.Errorf("failed to create CSV file %s: %w", fileName, err)
	}
	defer file.Close()

	if err := e.ExportToCSV(ctx, file, options); err != nil {
		return "", fmt.Errorf("failed to export to CSV: %w", err)
	}

	return fileName, nil
}

func runExportAuditCli(logger Logger) {
	logger = logger.NewSystem("export-audit")
	if len(os.Args) != 3 {
		logger.Fatal("Usage: signet export-audit <intentID>")
	}

	intentID := os.Args[2]

	config, err := LoadConfig(logger)
	if err != nil {
		logger.Fatal("Failed to load configuration", "error", err)
	}

	db, err := ConnectToDB(config.dbConf)
	if err != nil {
		logger.Fatal("Failed to setup database", "error", err)
	}

	exporter := NewAuditExporter(NewLedger(db))
	options := AuditExportOptions{
		IntentID:  intentID,
		OutputDir: "csv_export",
	}

	fileName, err := exporter.ExportToFile(context.Background(), options)
	if err != nil {
		logger.Fatal("Failed to export audit trail", "error", err)
	}
	logger.Info("Successfully exported audit trail", "file", fileName)
}
