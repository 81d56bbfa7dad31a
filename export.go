package querygrid

import (
	"compress/gzip"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ExportFormat defines the output format for table export.
type ExportFormat int

const (
	// ExportFormatCSV exports the table as CSV.
	ExportFormatCSV ExportFormat = iota
	// ExportFormatJSON exports the table as JSON lines, one object per row.
	ExportFormatJSON
)

// ExportOptions configures a table export.
type ExportOptions struct {
	// Format is the output format.
	Format ExportFormat

	// Compression enables gzip compression.
	Compression bool

	// IncludeHeaders includes the column header row (CSV).
	IncludeHeaders bool
}

// DefaultExportOptions returns CSV with headers, uncompressed.
func DefaultExportOptions() ExportOptions {
	return ExportOptions{Format: ExportFormatCSV, IncludeHeaders: true}
}

// validateExportPath validates that the output path is safe to write to.
// It prevents writes to sensitive system directories and ensures the path is
// absolute.
func validateExportPath(outputPath string) (string, error) {
	if outputPath == "" {
		return "", errors.New("output path required")
	}

	cleanPath := filepath.Clean(outputPath)
	absPath, err := filepath.Abs(cleanPath)
	if err != nil {
		return "", fmt.Errorf("invalid output path: %w", err)
	}

	// Prevent writes to common sensitive directories
	sensitivePatterns := []string{
		"/etc", "/bin", "/sbin", "/usr/bin", "/usr/sbin",
		"/boot", "/dev", "/proc", "/sys", "/root",
	}
	for _, pattern := range sensitivePatterns {
		if strings.HasPrefix(absPath, pattern+"/") || absPath == pattern {
			return "", fmt.Errorf("cannot write to sensitive directory: %s", pattern)
		}
	}

	return absPath, nil
}

// ExportTableFile writes a normalized table to a local file.
func ExportTableFile(table NormalizedTable, path string, opts ExportOptions) error {
	absPath, err := validateExportPath(path)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	f, err := os.Create(absPath)
	if err != nil {
		return fmt.Errorf("export: create %s: %w", absPath, err)
	}
	defer f.Close()

	if err := ExportTable(table, f, opts); err != nil {
		return err
	}
	return f.Sync()
}

// ExportTable writes a normalized table to w in the configured format.
func ExportTable(table NormalizedTable, w io.Writer, opts ExportOptions) error {
	if opts.Compression {
		gz := gzip.NewWriter(w)
		defer gz.Close()
		w = gz
	}
	switch opts.Format {
	case ExportFormatJSON:
		return exportJSON(table, w)
	default:
		return exportCSV(table, w, opts.IncludeHeaders)
	}
}

func exportCSV(table NormalizedTable, w io.Writer, headers bool) error {
	cw := csv.NewWriter(w)
	if headers {
		if err := cw.Write(table.Columns); err != nil {
			return fmt.Errorf("export: write header: %w", err)
		}
	}
	record := make([]string, len(table.Columns))
	for _, row := range table.Rows {
		for i := range record {
			if i < len(row) {
				record[i] = cellString(row[i])
			} else {
				record[i] = ""
			}
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("export: write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func exportJSON(table NormalizedTable, w io.Writer) error {
	enc := json.NewEncoder(w)
	for _, row := range table.Rows {
		obj := make(map[string]Cell, len(table.Columns))
		for i, col := range table.Columns {
			if i < len(row) {
				obj[col] = row[i]
			} else {
				obj[col] = nil
			}
		}
		if err := enc.Encode(obj); err != nil {
			return fmt.Errorf("export: encode row: %w", err)
		}
	}
	return nil
}

// cellString renders one cell for CSV output. Nulls become empty fields.
func cellString(c Cell) string {
	switch v := c.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
