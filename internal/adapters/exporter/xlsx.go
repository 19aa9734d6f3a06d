package exporter

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"secret-lounge/internal/domain"
	"secret-lounge/internal/ports"
)

// RosterSheet — имя листа с участниками.
const RosterSheet = "Participants"

// ExcelExporter выгружает участников в xlsx-файл. Идентификаторы Telegram
// и @handle в выгрузку не попадают.
type ExcelExporter struct {
	now func() time.Time
}

// NewExcelExporter создает новый экземпляр ExcelExporter.
func NewExcelExporter() ports.Exporter {
	return &ExcelExporter{now: time.Now}
}

// Export формирует книгу с одним листом участников.
func (e *ExcelExporter) Export(participants []domain.Participant) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	index, err := f.NewSheet(RosterSheet)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to delete default sheet: %w", err)
	}

	headers := []interface{}{"Export date", "Display name", "Role", "State", "Joined"}
	if err := f.SetSheetRow(RosterSheet, "A1", &headers); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	exportDate := e.now().UTC().Format(time.RFC3339)
	for i, p := range participants {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		row := []interface{}{
			exportDate,
			p.DisplayName,
			string(p.Role),
			string(p.State),
			p.CreatedAt.UTC().Format("2006-01-02"),
		}
		if err := f.SetSheetRow(RosterSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write excel to buffer: %w", err)
	}
	return buf.Bytes(), nil
}
