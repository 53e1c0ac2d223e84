// Package utils provides utility functions for the loan portfolio engine.
package utils

import (
	"bufio"
	"io"
	"strings"
)

// Table is one flat export: a header row plus data rows.
type Table struct {
	Name   string     `json:"name"`
	Header []string   `json:"header"`
	Rows   [][]string `json:"rows"`
}

// Filename returns the download name of the table.
func (t *Table) Filename() string {
	return t.Name + ".csv"
}

// WriteCSV writes the table with a UTF-8 byte-order mark, every value quoted
// and internal quotes doubled, rows separated by newlines.
func WriteCSV(w io.Writer, t *Table) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(utf8BOM); err != nil {
		return err
	}

	if err := writeCSVLine(bw, t.Header); err != nil {
		return err
	}
	for _, row := range t.Rows {
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
		if err := writeCSVLine(bw, row); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func writeCSVLine(bw *bufio.Writer, values []string) error {
	for i, v := range values {
		if i > 0 {
			if err := bw.WriteByte(','); err != nil {
				return err
			}
		}
		if _, err := bw.WriteString(`"` + strings.ReplaceAll(v, `"`, `""`) + `"`); err != nil {
			return err
		}
	}
	return nil
}
