// Package monitor runs periodic incremental crawls and reports on what they find.
package monitor

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/jonesrussell/north-cloud/avd-crawler/internal/domain"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/engine"
)

// State file names under the state directory.
const (
	MarkerFileName = "last_check.json"
	AlertsFileName = "alerts.json"
	ReportsDirName = "reports"
	// MaxAlerts bounds the alert log.
	MaxAlerts = 100

	snapshotLayout = "20060102_150405"
	fileMode       = 0o644
	dirMode        = 0o755
)

// Marker records the most recent successful check.
type Marker struct {
	LastCheck time.Time `json:"last_check"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LookbackDays is days since the last check plus one, clamped to [1, 7].
// Without a marker it is 1.
func LookbackDays(now time.Time, m *Marker) int {
	if m == nil || m.LastCheck.IsZero() {
		return engine.MinLookbackDays
	}
	days := int(now.Sub(m.LastCheck).Hours() / 24)
	return engine.ClampLookback(days + 1)
}

// StateDir owns the files the monitor persists between checks.
type StateDir struct {
	root string
}

// NewStateDir creates root if needed.
func NewStateDir(root string) (*StateDir, error) {
	if err := os.MkdirAll(filepath.Join(root, ReportsDirName), dirMode); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &StateDir{root: root}, nil
}

// LoadMarker returns the last-check marker, or nil when none was written.
func (s *StateDir) LoadMarker() (*Marker, error) {
	data, err := os.ReadFile(filepath.Join(s.root, MarkerFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read marker: %w", err)
	}
	var m Marker
	if err = json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode marker: %w", err)
	}
	return &m, nil
}

// SaveMarker records now as the last successful check.
func (s *StateDir) SaveMarker(now time.Time) error {
	return s.writeJSON(MarkerFileName, Marker{LastCheck: now, UpdatedAt: now})
}

// Alert is one entry of the alert log.
type Alert struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"alert_type"`
	Reasons   []string  `json:"reasons"`
	Analysis  Analysis  `json:"analysis"`
}

// LoadAlerts returns the alert log, oldest first. An unreadable log is empty.
func (s *StateDir) LoadAlerts() ([]Alert, error) {
	data, err := os.ReadFile(filepath.Join(s.root, AlertsFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read alerts: %w", err)
	}
	var alerts []Alert
	if err = json.Unmarshal(data, &alerts); err != nil {
		return nil, nil
	}
	return alerts, nil
}

// AppendAlert adds a to the log and keeps the newest MaxAlerts entries.
func (s *StateDir) AppendAlert(a Alert) error {
	alerts, err := s.LoadAlerts()
	if err != nil {
		return err
	}
	alerts = append(alerts, a)
	if len(alerts) > MaxAlerts {
		alerts = alerts[len(alerts)-MaxAlerts:]
	}
	return s.writeJSON(AlertsFileName, alerts)
}

type snapshot struct {
	Timestamp string                    `json:"timestamp"`
	Count     int                       `json:"count"`
	Analysis  Analysis                  `json:"analysis"`
	Records   []domain.NormalizedRecord `json:"cves"`
}

// SaveSnapshot writes the records of one check with their analysis and
// returns the file path.
func (s *StateDir) SaveSnapshot(now time.Time, records []domain.NormalizedRecord, a Analysis) (string, error) {
	ts := now.Format(snapshotLayout)
	name := "cves_" + ts + ".json"
	err := s.writeJSON(name, snapshot{Timestamp: ts, Count: len(records), Analysis: a, Records: records})
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, name), nil
}

// SaveReport writes a markdown report and returns its path.
func (s *StateDir) SaveReport(now time.Time, a Analysis) (string, error) {
	path := filepath.Join(s.root, ReportsDirName, "report_"+now.Format(snapshotLayout)+".md")
	if err := os.WriteFile(path, []byte(RenderReport(now, a)), fileMode); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

func (s *StateDir) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	tmp := filepath.Join(s.root, name+".tmp")
	if err = os.WriteFile(tmp, data, fileMode); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err = os.Rename(tmp, filepath.Join(s.root, name)); err != nil {
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}
