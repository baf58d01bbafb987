package orchestrator

// Status is a table's position in the pipeline state machine
type Status string

// Pipeline states. Failed and QualityFlagged are terminal for the run;
// QualityFlagged is not an error, the table is simply held back.
const (
	StatusPending        Status = "pending"
	StatusValidating     Status = "validating"
	StatusQualityFlagged Status = "quality_flagged"
	StatusLoading        Status = "loading"
	StatusDone           Status = "done"
	StatusFailed         Status = "failed"
)

// Terminal reports whether no further transitions are possible
func (s Status) Terminal() bool {
	switch s {
	case StatusDone, StatusFailed, StatusQualityFlagged:
		return true
	case StatusPending, StatusValidating, StatusLoading:
		return false
	default:
		return false
	}
}
