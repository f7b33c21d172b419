// Package export writes advisory records as JSON, CSV, text or XLSX.
package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jonesrussell/north-cloud/avd-crawler/internal/domain"
)

// Formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatText = "text"
	FormatXLSX = "xlsx"
)

const (
	dateLayout   = "2006-01-02"
	listSep      = "; "
	textRefLimit = 3
	xlsxRefLimit = 5
)

// ErrUnknownFormat is returned for an unsupported export format.
var ErrUnknownFormat = errors.New("unknown export format")

// Columns is the header shared by the CSV and XLSX exports.
var Columns = []string{
	"cve_id", "severity", "cvss_score", "published_date", "modified_date",
	"description", "affected_products", "cwe_ids", "references",
}

// FormatFromPath infers the format from a file extension.
func FormatFromPath(path string) (string, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		return FormatJSON, nil
	case ".csv":
		return FormatCSV, nil
	case ".txt", ".text":
		return FormatText, nil
	case ".xlsx":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, ext)
	}
}

// Write encodes records to w in format. now stamps the JSON and text headers.
func Write(w io.Writer, format string, records []domain.NormalizedRecord, now time.Time) error {
	switch format {
	case FormatJSON:
		return JSON(w, records, now)
	case FormatCSV:
		return CSV(w, records)
	case FormatText:
		return Text(w, records, now)
	case FormatXLSX:
		return XLSX(w, records)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// WriteFile writes records to path, inferring the format from its extension.
func WriteFile(path string, records []domain.NormalizedRecord, now time.Time) error {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	if err = os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	if err = Write(f, format, records, now); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

type document struct {
	ExportTime time.Time                 `json:"export_time"`
	TotalCount int                       `json:"total_count"`
	Records    []domain.NormalizedRecord `json:"cves"`
}

// JSON writes an indented document with the export time and record count.
func JSON(w io.Writer, records []domain.NormalizedRecord, now time.Time) error {
	if records == nil {
		records = []domain.NormalizedRecord{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(document{ExportTime: now, TotalCount: len(records), Records: records}); err != nil {
		return fmt.Errorf("encode json export: %w", err)
	}
	return nil
}

// row renders rec in Columns order. refLimit caps the references; 0 keeps all.
func row(rec domain.NormalizedRecord, refLimit int) []string {
	refs := rec.References
	if refLimit > 0 && len(refs) > refLimit {
		refs = refs[:refLimit]
	}
	return []string{
		rec.CVEID,
		string(rec.Severity),
		strconv.FormatFloat(rec.CVSSScore, 'f', 1, 64),
		formatDate(rec.PublishedDate),
		formatDate(rec.LastModified),
		rec.Description,
		strings.Join(rec.AffectedProducts, listSep),
		strings.Join(rec.CWEIDs, listSep),
		strings.Join(refs, listSep),
	}
}

func formatDate(t time.Time) string {
	if domain.IsUnknownTime(t) {
		return ""
	}
	return t.Format(dateLayout)
}
