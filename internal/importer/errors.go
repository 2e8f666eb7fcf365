package importer

import (
	"errors"
	"fmt"
	"strings"
)

// maxPreviewReasons bounds how many individual reasons appear in an
// aggregated error message. Fatal conditions always surface as a single
// message, never one dialog per error.
const maxPreviewReasons = 5

var (
	// ErrJobNotFound is returned for an unknown or expired job id.
	ErrJobNotFound = errors.New("import job not found")

	// ErrWrongPhase is returned when an operation is attempted in a phase
	// that does not allow it (e.g. confirming a job still parsing).
	ErrWrongPhase = errors.New("operation not allowed in current job phase")
)

// AggregateReasons joins the first max reasons with a trailing total when
// truncated: "a; b; c (and 7 more)".
func AggregateReasons(reasons []string, max int) string {
	if len(reasons) == 0 {
		return ""
	}
	if max <= 0 || len(reasons) <= max {
		return strings.Join(reasons, "; ")
	}
	shown := strings.Join(reasons[:max], "; ")
	return fmt.Sprintf("%s (and %d more)", shown, len(reasons)-max)
}

// formatRowErrors renders collected row failures as one aggregated message.
func formatRowErrors(errs []RowError) string {
	reasons := make([]string, len(errs))
	for i, e := range errs {
		reasons[i] = e.Error()
	}
	return AggregateReasons(reasons, maxPreviewReasons)
}

// formatDuplicates renders duplicate groups for one field as one message.
func formatDuplicates(label string, groups []DuplicateGroup) string {
	reasons := make([]string, len(groups))
	for i, g := range groups {
		rows := make([]string, len(g.Rows))
		for j, r := range g.Rows {
			rows[j] = fmt.Sprintf("%d", r)
		}
		reasons[i] = fmt.Sprintf("%s %q in rows %s", label, g.Value, strings.Join(rows, ", "))
	}
	return AggregateReasons(reasons, maxPreviewReasons)
}
