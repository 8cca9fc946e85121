package domain

import (
	"fmt"
	"time"
)

// RunID names a load run. Runs for the same pipeline and table stamped on the
// same day share an id, which the sink uses to skip repeated batches.
func RunID(pipeline, table string, stamp time.Time) string {
	return fmt.Sprintf("%s_%s_%s", pipeline, table, stamp.Format("2006-01-02"))
}

// LoadReport summarizes a finished load run.
type LoadReport struct {
	RunID    string        `json:"run_id"`
	Days     int           `json:"days"`
	Rows     int           `json:"rows"`
	Applied  bool          `json:"applied"`
	Duration time.Duration `json:"duration"`
}
