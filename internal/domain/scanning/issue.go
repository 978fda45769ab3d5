package scanning

import (
	"maps"
	"time"
)

// IssueDateLayout is the layout of the end_date field written with every issue.
const IssueDateLayout = "2006-01-02 15:04:05.000000"

// Issue is one finding exactly as the scanner service returned it.
type Issue map[string]any

// RunMetadata is the run-level data joined onto every issue before it is persisted.
type RunMetadata struct {
	ScanName   string
	ScanPolicy string
	EndDate    time.Time
}

// Annotate returns a new record holding the issue's fields plus scan_name,
// scan_policy and end_date. The issue itself is left untouched.
func (i Issue) Annotate(meta RunMetadata) map[string]any {
	out := make(map[string]any, len(i)+3)
	maps.Copy(out, i)
	out["scan_name"] = meta.ScanName
	out["scan_policy"] = meta.ScanPolicy
	out["end_date"] = meta.EndDate.Format(IssueDateLayout)
	return out
}
