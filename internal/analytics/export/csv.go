package export

import (
	"encoding/csv"
	"io"

	"github.com/odyssey-erp/odyssey-pos/internal/analytics"
)

// WriteCSV serialises every section of the dataset. Each section starts with a one-column
// title row and ends with a blank line; money columns use two fixed decimals.
func WriteCSV(w io.Writer, ds analytics.Dataset) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	for i, section := range Sections(ds) {
		if i > 0 {
			if err := writer.Write([]string{}); err != nil {
				return err
			}
		}
		if err := writer.Write([]string{section.Title}); err != nil {
			return err
		}
		if err := writer.Write(section.Header); err != nil {
			return err
		}
		for _, row := range section.Rows {
			record := make([]string, len(row))
			for j, cell := range row {
				record[j] = plainText(cell)
			}
			if err := writer.Write(record); err != nil {
				return err
			}
		}
	}
	writer.Flush()
	return writer.Error()
}
