package task

import (
	"fmt"
	"time"

	fileutil "taskdeck/internal/file"
)

// Report is a point-in-time listing of the registry written at shutdown. It
// is never loaded back.
type Report struct {
	GeneratedAt time.Time `json:"generated_at"`
	Tasks       []Summary `json:"tasks"`
}

// WriteReport atomically writes the registry snapshot as JSON to path.
func (r *Registry) WriteReport(path string) error {
	rep := Report{GeneratedAt: time.Now().UTC(), Tasks: r.Snapshot()}
	if err := fileutil.WriteJSONAtomic(path, rep); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
