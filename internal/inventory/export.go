package inventory

import (
	"encoding/csv"
	"io"
	"strconv"

	"stockia/backend/internal/domain"
)

var exportHeader = []string{"Product Name", "Category", "Quantity", "Confidence"}

// ExportCSV writes records as a spreadsheet-friendly table. It does not touch
// the store.
func ExportCSV(w io.Writer, records []domain.ProductRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}
	for _, rec := range records {
		row := []string{
			rec.Name,
			rec.Category,
			strconv.Itoa(rec.Quantity),
			strconv.Itoa(rec.Confidence) + "%",
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
