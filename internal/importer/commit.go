package importer

// commit.go is the apply half of the orchestrator: one backend request per
// confirmed record or change set, fired with bounded concurrency and
// settle-all semantics. A failed request never blocks its siblings, and
// the results slice is indexed identically to the input batch so every
// failure traces back to its spreadsheet row.

import (
	"context"
	"errors"
	"net"
	"time"

	"golang.org/x/sync/errgroup"
)

// runCommit applies the held batch and finishes the job.
func (s *Service) runCommit(ctx context.Context, j *job) {
	j.mu.Lock()
	importBatch := j.importBatch
	editBatch := j.editBatch
	j.mu.Unlock()

	var results []ItemResult
	switch {
	case importBatch != nil:
		results = s.commitImport(ctx, j, importBatch)
	case editBatch != nil:
		results = s.commitEdit(ctx, j, editBatch)
	}

	succeeded, failed := 0, 0
	for _, r := range results {
		if r.Failed() {
			failed++
		} else {
			succeeded++
		}
	}

	phase := PhaseApplied
	if failed > 0 {
		phase = PhasePartiallyFailed
	}

	result := &Result{
		JobID:      j.id,
		Mode:       j.mode,
		Phase:      phase,
		FileName:   j.fileName,
		TotalItems: len(results),
		Succeeded:  succeeded,
		Failed:     failed,
		Items:      results,
		Duration:   time.Since(j.started),
	}
	// Reload the authoritative roster after any success so callers see
	// ground truth rather than the optimistic local batch.
	if succeeded > 0 {
		reloadCtx, cancel := context.WithTimeout(context.Background(), s.requestTimeout)
		if students, err := s.backend.ListStudentsByDivision(reloadCtx, j.divisionID); err == nil {
			result.Roster = students
		}
		cancel()
	}

	j.mu.Lock()
	j.result = result
	j.progress.Succeeded = succeeded
	j.progress.Failed = failed
	j.progress.Done = len(results)
	j.mu.Unlock()

	s.finish(j, phase, "")
}

// commitImport creates one student per candidate.
func (s *Service) commitImport(ctx context.Context, j *job, batch *ImportBatch) []ItemResult {
	results := make([]ItemResult, len(batch.Candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.commitConcurrency)

	for i, c := range batch.Candidates {
		g.Go(func() error {
			reqCtx, cancel := context.WithTimeout(gctx, s.requestTimeout)
			defer cancel()

			_, err := s.backend.CreateStudent(reqCtx, *c.Student)
			results[i] = settle(i, c.Row, c.Student.UID, err)
			s.bumpCommitProgress(j)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// commitEdit applies one partial update per change set.
func (s *Service) commitEdit(ctx context.Context, j *job, batch *EditBatch) []ItemResult {
	results := make([]ItemResult, len(batch.ChangeSets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.commitConcurrency)

	for i, cs := range batch.ChangeSets {
		g.Go(func() error {
			reqCtx, cancel := context.WithTimeout(gctx, s.requestTimeout)
			defer cancel()

			_, err := s.backend.UpdateStudent(reqCtx, cs.Student.ID, cs.Update)
			results[i] = settle(i, cs.Row, cs.Student.UID, err)
			s.bumpCommitProgress(j)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// settle converts one request outcome into an ItemResult, distinguishing
// timeouts from rejections.
func settle(index, row int, uid string, err error) ItemResult {
	r := ItemResult{Index: index, Row: row, UID: uid}
	if err == nil {
		return r
	}
	r.Error = err.Error()
	r.TimedOut = isTimeout(err)
	return r
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// bumpCommitProgress advances the done counter and notifies listeners.
func (s *Service) bumpCommitProgress(j *job) {
	j.mu.Lock()
	j.progress.Done++
	snapshot := j.progress
	j.mu.Unlock()
	j.notify(snapshot)
}
