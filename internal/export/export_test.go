package export_test

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/jonesrussell/north-cloud/avd-crawler/internal/domain"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/export"
)

var testNow = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

func sampleRecords() []domain.NormalizedRecord {
	return []domain.NormalizedRecord{
		{
			CVEID:            "CVE-2024-0001",
			Title:            "Remote code execution",
			Severity:         domain.SeverityCritical,
			CVSSScore:        9.8,
			PublishedDate:    time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
			LastModified:     time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC),
			Description:      "A <crafted> request, with commas",
			AffectedProducts: []string{"nginx 1.25", "nginx 1.26"},
			CWEIDs:           []string{"CWE-94"},
			References: []string{
				"https://a.example", "https://b.example", "https://c.example",
				"https://d.example", "https://e.example", "https://f.example",
			},
		},
		{
			CVEID:            "CVE-2024-0002",
			Severity:         domain.SeverityLow,
			Description:      "No score yet",
			AffectedProducts: []string{},
			CWEIDs:           []string{},
			References:       []string{},
		},
	}
}

func TestJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, export.JSON(&buf, sampleRecords(), testNow))

	var doc struct {
		ExportTime time.Time                 `json:"export_time"`
		TotalCount int                       `json:"total_count"`
		Records    []domain.NormalizedRecord `json:"cves"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, 2, doc.TotalCount)
	assert.True(t, testNow.Equal(doc.ExportTime))
	assert.Equal(t, "CVE-2024-0001", doc.Records[0].CVEID)
	assert.Contains(t, buf.String(), "A <crafted> request", "HTML is not escaped")
}

func TestJSON_EmptyIsArray(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, export.JSON(&buf, nil, testNow))
	assert.Contains(t, buf.String(), `"cves": []`)
}

func TestCSV(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, export.CSV(&buf, sampleRecords()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, export.Columns, rows[0])
	assert.Equal(t, []string{
		"CVE-2024-0001", "CRITICAL", "9.8", "2024-06-01", "2024-06-03",
		"A <crafted> request, with commas", "nginx 1.25; nginx 1.26", "CWE-94",
		"https://a.example; https://b.example; https://c.example; https://d.example; https://e.example; https://f.example",
	}, rows[1])
	assert.Equal(t, "", rows[2][3], "unknown dates are blank")
	assert.Equal(t, "0.0", rows[2][2])
}

func TestText(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, export.Text(&buf, sampleRecords(), testNow))
	out := buf.String()

	assert.Contains(t, out, "Exported: 2024-06-10 12:00:00")
	assert.Contains(t, out, "Total: 2")
	assert.Contains(t, out, "1. CVE-2024-0001")
	assert.Contains(t, out, "   Severity: CRITICAL")
	assert.Contains(t, out, "   References: https://a.example; https://b.example; https://c.example...")
	assert.Contains(t, out, "2. CVE-2024-0002")
}

func TestXLSX(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, export.XLSX(&buf, sampleRecords()))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	assert.Equal(t, []string{export.SheetName}, f.GetSheetList())
	rows, err := f.GetRows(export.SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, export.Columns, rows[0])
	assert.Equal(t, "CVE-2024-0001", rows[1][0])
	assert.Equal(t, "9.8", rows[1][2])
	assert.Equal(t, "https://a.example; https://b.example; https://c.example; https://d.example; https://e.example", rows[1][8])
}

func TestWriteFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, name := range []string{"out.json", "out.csv", "out.txt", "nested/out.xlsx"} {
		path := filepath.Join(dir, name)
		require.NoError(t, export.WriteFile(path, sampleRecords(), testNow), name)
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}

	err := export.WriteFile(filepath.Join(dir, "out.pdf"), sampleRecords(), testNow)
	require.ErrorIs(t, err, export.ErrUnknownFormat)
}

func TestWrite_UnknownFormat(t *testing.T) {
	t.Parallel()

	err := export.Write(&bytes.Buffer{}, "yaml", nil, testNow)
	require.ErrorIs(t, err, export.ErrUnknownFormat)
}
