package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
)

const exportSheet = "Sheet1"

var exportHeader = []any{"File", "Receiver", "Size (bytes)", "Message", "Status", "Sent at", "Delivered at", "Viewed at"}

// ExportSent writes an XLSX workbook listing the caller's sent transfers.
func (s *FileShareService) ExportSent(ctx context.Context, senderID string, w io.Writer) error {
	transfers, err := s.transfers.ListSentTransfers(ctx, senderID, maxExportedTransfers)
	if err != nil {
		return fmt.Errorf("failed to list sent transfers: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	if err := f.SetSheetRow(exportSheet, "A1", &exportHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if err := f.SetCellStyle(exportSheet, "A1", "H1", bold); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	for i, t := range transfers {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{
			t.OriginalName,
			t.ReceiverUsername,
			t.Size,
			t.Message,
			string(t.Status),
			t.SentAt.UTC().Format(time.RFC3339),
			formatOptionalTime(t.DeliveredAt),
			formatOptionalTime(t.ViewedAt),
		}
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if err := f.SetColWidth(exportSheet, "A", "H", 22); err != nil {
		return fmt.Errorf("failed to size columns: %w", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
