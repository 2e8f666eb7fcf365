package importer

import (
	"fmt"
	"time"

	"github.com/classkit/roster/internal/roster"
)

// Mode selects the pipeline variant.
type Mode string

const (
	// ModeImport is the strict "import new roster" variant requiring name,
	// uid, and mobile on every row.
	ModeImport Mode = "import"

	// ModeEdit is the lenient "edit existing roster" variant requiring only
	// uid; rows update matching students field by field.
	ModeEdit Mode = "edit"
)

// Phase is the current stage of a job. A job moves
// parsing -> (parse_failed | preview_ready | nothing_to_do)
// and from preview_ready either to cancelled or to
// applying -> (applied | partially_failed).
type Phase string

const (
	PhaseParsing         Phase = "parsing"
	PhaseParseFailed     Phase = "parse_failed"
	PhasePreviewReady    Phase = "preview_ready"
	PhaseNothingToDo     Phase = "nothing_to_do"
	PhaseApplying        Phase = "applying"
	PhaseApplied         Phase = "applied"
	PhasePartiallyFailed Phase = "partially_failed"
	PhaseCancelled       Phase = "cancelled"
)

// Terminal reports whether a job in this phase will never change again.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseParseFailed, PhaseNothingToDo, PhaseApplied, PhasePartiallyFailed, PhaseCancelled:
		return true
	}
	return false
}

// ImportBatch is the validated strict-mode batch awaiting confirmation,
// plus everything the operator needs to judge it. It exists only between
// preview and commit and is never persisted.
type ImportBatch struct {
	Candidates      []Candidate        `json:"candidates"`
	InvalidRows     []RowError         `json:"invalidRows,omitempty"`
	DuplicateUIDs   []DuplicateGroup   `json:"duplicateUids,omitempty"`
	DuplicateRolls  []DuplicateGroup   `json:"duplicateRolls,omitempty"`
	ReassignedRolls []RollReassignment `json:"reassignedRolls,omitempty"`
}

// EditBatch is the edit-mode counterpart: the change sets to apply, rows
// that failed lenient parsing, and uids with no matching student.
type EditBatch struct {
	ChangeSets   []ChangeSet `json:"changeSets"`
	InvalidRows  []RowError  `json:"invalidRows,omitempty"`
	NotFoundUIDs []string    `json:"notFoundUids,omitempty"`
}

// Progress is a point-in-time snapshot of a job, pushed to subscribers on
// every phase change and periodically during commit.
type Progress struct {
	JobID      string `json:"jobId"`
	Mode       Mode   `json:"mode"`
	Phase      Phase  `json:"phase"`
	FileName   string `json:"fileName"`
	TotalItems int    `json:"totalItems"`
	Done       int    `json:"done"`
	Succeeded  int    `json:"succeeded"`
	Failed     int    `json:"failed"`
	Error      string `json:"error,omitempty"`
}

// ItemResult is the settled outcome of one commit request, indexed
// identically to the confirmed batch so failures trace back to their row.
type ItemResult struct {
	Index    int    `json:"index"`
	Row      int    `json:"row"`
	UID      string `json:"uid"`
	Error    string `json:"error,omitempty"`
	TimedOut bool   `json:"timedOut,omitempty"`
}

// Failed reports whether the item's request was rejected or timed out.
func (r ItemResult) Failed() bool {
	return r.Error != ""
}

// Result is the final outcome of a job after commit (or after a terminal
// parse failure, in which case Error is set and Items is empty).
type Result struct {
	JobID      string                   `json:"jobId"`
	Mode       Mode                     `json:"mode"`
	Phase      Phase                    `json:"phase"`
	FileName   string                   `json:"fileName"`
	TotalItems int                      `json:"totalItems"`
	Succeeded  int                      `json:"succeeded"`
	Failed     int                      `json:"failed"`
	Items      []ItemResult             `json:"items,omitempty"`
	Roster     []roster.ExistingStudent `json:"-"`
	Duration   time.Duration            `json:"durationMs"`
	Error      string                   `json:"error,omitempty"`
}

// Summary renders the "N succeeded, M failed" line with the first few
// failure reasons verbatim.
func (r Result) Summary() string {
	if r.Error != "" && len(r.Items) == 0 {
		return r.Error
	}
	msg := fmt.Sprintf("%d succeeded, %d failed", r.Succeeded, r.Failed)
	if r.Failed == 0 {
		return msg
	}
	var reasons []string
	for _, item := range r.Items {
		if item.Failed() {
			reasons = append(reasons, fmt.Sprintf("row %d: %s", item.Row, item.Error))
		}
	}
	return msg + ": " + AggregateReasons(reasons, maxPreviewReasons)
}
