package export

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/jonesrussell/north-cloud/avd-crawler/internal/domain"
)

// CSV writes a header row followed by one row per record. List fields are
// joined with "; ".
func CSV(w io.Writer, records []domain.NormalizedRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, rec := range records {
		if err := cw.Write(row(rec, 0)); err != nil {
			return fmt.Errorf("write csv row %s: %w", rec.CVEID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
