package storage

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"listing-wizard/internal/wizard"
)

var exportHeaders = []string{
	"ID", "Submission ID", "Vehicle", "Brand", "Model", "Variant", "Year",
	"Fuel", "KMs Driven", "Expected Price", "City", "Seller", "Phone",
	"Status", "Created At",
}

// ExportListingsToExcel renders every listing of the given vehicle type
// (or of both when empty) into an xlsx workbook.
func (s *PostgresStorage) ExportListingsToExcel(ctx context.Context, vehicle wizard.VehicleType) ([]byte, error) {
	schemas, err := schemasFor(vehicle)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	style, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for i, sc := range schemas {
		var rows []ListingSummary
		query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY created_at DESC`, summaryColumns, sc.Table)
		if err := s.db.SelectContext(ctx, &rows, query); err != nil {
			return nil, fmt.Errorf("failed to fetch %s: %w", sc.Table, err)
		}

		sheet := sheetName(sc.Vehicle)
		if i == 0 {
			err = f.SetSheetName("Sheet1", sheet)
		} else {
			_, err = f.NewSheet(sheet)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create sheet: %w", err)
		}

		for col, header := range exportHeaders {
			cell, _ := excelize.CoordinatesToCellName(col+1, 1)
			f.SetCellValue(sheet, cell, header)
		}
		last, _ := excelize.CoordinatesToCellName(len(exportHeaders), 1)
		f.SetCellStyle(sheet, "A1", last, style)

		for row, l := range rows {
			data := []any{
				l.ID,
				l.SubmissionID,
				string(sc.Vehicle),
				deref(l.Brand),
				deref(l.Model),
				deref(l.Variant),
				deref(l.Year),
				deref(l.FuelType),
				deref(l.KmsDriven),
				deref(l.ExpectedPrice),
				deref(l.City),
				deref(l.SellerName),
				deref(l.SellerPhone),
				l.Status,
				l.CreatedAt.Format("2006-01-02 15:04"),
			}
			for col, value := range data {
				cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
				f.SetCellValue(sheet, cell, value)
			}
		}
	}

	f.SetActiveSheet(0)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func sheetName(v wizard.VehicleType) string {
	switch v {
	case wizard.VehicleBike:
		return "Bikes"
	default:
		return "Cars"
	}
}

func deref[T any](p *T) any {
	if p == nil {
		return ""
	}
	return *p
}
