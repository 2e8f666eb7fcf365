package importer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/classkit/roster/internal/roster"
	"github.com/google/uuid"
)

// DefaultJobTimeout bounds a whole job from file receipt to final commit,
// including the time the preview sits waiting for the operator.
var DefaultJobTimeout = 15 * time.Minute

// jobRetention is how long a finished job stays queryable before cleanup.
var jobRetention = 5 * time.Minute

// Backend is the remote student collection the pipeline reads and commits
// to. Implemented by roster.Client; tests substitute an in-memory fake.
type Backend interface {
	CreateStudent(ctx context.Context, s roster.Student) (*roster.ExistingStudent, error)
	UpdateStudent(ctx context.Context, id string, u roster.StudentUpdate) (*roster.ExistingStudent, error)
	ListStudentsByDivision(ctx context.Context, divisionID string) ([]roster.ExistingStudent, error)
}

// JobRecorder receives finished jobs for durable history. Optional.
type JobRecorder interface {
	RecordJob(ctx context.Context, res Result, standardID, divisionID string) error
}

// Options tunes the service. Zero values fall back to defaults.
type Options struct {
	MaxConcurrent     int           // parallel working jobs
	MaxWait           time.Duration // wait for a job slot
	CommitConcurrency int           // parallel backend requests per commit
	RequestTimeout    time.Duration // per backend request during commit
	JobTimeout        time.Duration // whole job lifetime
	Recorder          JobRecorder
}

// Service orchestrates import jobs: it runs the parse pipeline, holds
// previews for confirmation, fans out commits, and tracks per-job progress
// for subscribers.
type Service struct {
	backend           Backend
	limiter           *ImportLimiter
	commitConcurrency int
	requestTimeout    time.Duration
	jobTimeout        time.Duration
	recorder          JobRecorder

	mu   sync.RWMutex
	jobs map[string]*job
}

type job struct {
	id         string
	mode       Mode
	standardID string
	divisionID string
	fileName   string
	started    time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	progress    Progress
	importBatch *ImportBatch
	editBatch   *EditBatch
	existing    []roster.ExistingStudent
	result      *Result
	confirmed   bool
	finished    bool

	done       chan struct{}
	listenerMu sync.Mutex
	listeners  []chan Progress
}

// NewService creates the orchestrator around a backend client.
func NewService(backend Backend, opts Options) *Service {
	if opts.CommitConcurrency <= 0 {
		opts.CommitConcurrency = 8
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = roster.DefaultRequestTimeout
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = DefaultJobTimeout
	}
	return &Service{
		backend:           backend,
		limiter:           NewImportLimiter(opts.MaxConcurrent, opts.MaxWait),
		commitConcurrency: opts.CommitConcurrency,
		requestTimeout:    opts.RequestTimeout,
		jobTimeout:        opts.JobTimeout,
		recorder:          opts.Recorder,
		jobs:              make(map[string]*job),
	}
}

// Limiter exposes the job limiter for shutdown draining.
func (s *Service) Limiter() *ImportLimiter {
	return s.limiter
}

// Start accepts an uploaded workbook and begins parsing asynchronously.
// The returned job id is used for progress, preview, confirm, and cancel.
func (s *Service) Start(ctx context.Context, mode Mode, standardID, divisionID, fileName string, data []byte) (string, error) {
	if mode != ModeImport && mode != ModeEdit {
		return "", fmt.Errorf("unknown mode %q", mode)
	}
	if divisionID == "" {
		return "", fmt.Errorf("division id is required")
	}
	if int64(len(data)) > MaxFileSize {
		return "", fmt.Errorf("file exceeds %dMB limit", MaxFileSize/(1024*1024))
	}

	// The working slot is taken here, not in the parse goroutine, so a
	// saturated service rejects the upload synchronously instead of
	// parking it in a job that is doomed to fail.
	if err := s.limiter.Acquire(ctx); err != nil {
		return "", err
	}

	jobCtx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)

	j := &job{
		id:         uuid.New().String(),
		mode:       mode,
		standardID: standardID,
		divisionID: divisionID,
		fileName:   fileName,
		started:    time.Now(),
		ctx:        jobCtx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	j.progress = Progress{
		JobID:    j.id,
		Mode:     mode,
		Phase:    PhaseParsing,
		FileName: fileName,
	}

	s.mu.Lock()
	s.jobs[j.id] = j
	s.mu.Unlock()

	go s.watchTimeout(j)
	go s.runParse(jobCtx, j, data)

	return j.id, nil
}

// watchTimeout finishes a job whose overall deadline expires. Without it
// a preview nobody confirms or cancels would hold its batch forever and
// leave Result waiters blocked. Jobs already applying are left alone so
// the commit can settle its in-flight requests and report item results.
func (s *Service) watchTimeout(j *job) {
	<-j.ctx.Done()
	if j.ctx.Err() != context.DeadlineExceeded {
		return
	}
	j.mu.Lock()
	applying := j.progress.Phase == PhaseApplying
	j.mu.Unlock()
	if applying {
		return
	}
	s.finish(j, PhaseCancelled, "job timed out")
}

// runParse executes the parse half of the pipeline. The limiter slot was
// acquired by Start and is released once parsing settles.
func (s *Service) runParse(ctx context.Context, j *job, data []byte) {
	defer s.limiter.Release()

	switch j.mode {
	case ModeImport:
		s.parseImport(ctx, j, data)
	case ModeEdit:
		s.parseEdit(ctx, j, data)
	}
}

// parseImport runs the strict pipeline: read, map, parse all rows, resolve
// conflicts, then hold the batch for preview. Any hard failure is
// aggregated into a single message.
func (s *Service) parseImport(ctx context.Context, j *job, data []byte) {
	sheet, err := ReadWorkbook(data)
	if err != nil {
		s.finish(j, PhaseParseFailed, err.Error())
		return
	}

	cols, err := MapColumns(sheet.Headers, StrictRequiredFields)
	if err != nil {
		s.finish(j, PhaseParseFailed, err.Error())
		return
	}

	batch := &ImportBatch{}
	var candidates []Candidate
	for i, row := range sheet.Rows {
		student, err := ParseStrict(row, cols, sheet.RowNumber(i))
		if err != nil {
			if re, ok := err.(RowError); ok {
				batch.InvalidRows = append(batch.InvalidRows, re)
				continue
			}
			s.finish(j, PhaseParseFailed, err.Error())
			return
		}
		if student == nil {
			continue
		}
		student.StandardID = j.standardID
		student.DivisionID = j.divisionID
		candidates = append(candidates, Candidate{Row: sheet.RowNumber(i), Student: student})
	}

	// All-or-nothing: any invalid row rejects the whole import.
	if len(batch.InvalidRows) > 0 {
		s.finish(j, PhaseParseFailed, formatRowErrors(batch.InvalidRows))
		return
	}
	if len(candidates) == 0 {
		s.finish(j, PhaseNothingToDo, "")
		return
	}

	existing, err := s.backend.ListStudentsByDivision(ctx, j.divisionID)
	if err != nil {
		s.finish(j, PhaseParseFailed, fmt.Sprintf("load existing roster: %v", err))
		return
	}

	res := ResolveBatch(candidates, existing)
	batch.Candidates = candidates
	batch.DuplicateUIDs = res.DuplicateUIDs
	batch.DuplicateRolls = res.DuplicateRolls
	batch.ReassignedRolls = res.ReassignedRolls

	if res.HasConflicts() {
		msg := ""
		if len(res.DuplicateUIDs) > 0 {
			msg = formatDuplicates("duplicate uid", res.DuplicateUIDs)
		}
		if len(res.DuplicateRolls) > 0 {
			if msg != "" {
				msg += "; "
			}
			msg += formatDuplicates("duplicate roll number", res.DuplicateRolls)
		}
		j.mu.Lock()
		j.importBatch = batch
		j.mu.Unlock()
		s.finish(j, PhaseParseFailed, msg)
		return
	}

	j.mu.Lock()
	j.importBatch = batch
	j.existing = existing
	j.progress.Phase = PhasePreviewReady
	j.progress.TotalItems = len(candidates)
	snapshot := j.progress
	j.mu.Unlock()
	j.notify(snapshot)
}

// parseEdit runs the lenient pipeline: read, map (uid only), parse rows
// individually, diff against the existing roster. Bad rows are skipped and
// reported; an empty change list short-circuits to nothing-to-do.
func (s *Service) parseEdit(ctx context.Context, j *job, data []byte) {
	sheet, err := ReadWorkbook(data)
	if err != nil {
		s.finish(j, PhaseParseFailed, err.Error())
		return
	}

	cols, err := MapColumns(sheet.Headers, LenientRequiredFields)
	if err != nil {
		s.finish(j, PhaseParseFailed, err.Error())
		return
	}

	existing, err := s.backend.ListStudentsByDivision(ctx, j.divisionID)
	if err != nil {
		s.finish(j, PhaseParseFailed, fmt.Sprintf("load existing roster: %v", err))
		return
	}
	byUID := make(map[string]roster.ExistingStudent, len(existing))
	for _, st := range existing {
		byUID[st.UID] = st
	}

	batch := &EditBatch{}
	for i, row := range sheet.Rows {
		edit, err := ParseLenient(row, cols, sheet.RowNumber(i))
		if err != nil {
			if re, ok := err.(RowError); ok {
				batch.InvalidRows = append(batch.InvalidRows, re)
				continue
			}
			s.finish(j, PhaseParseFailed, err.Error())
			return
		}
		if edit == nil {
			continue
		}

		current, ok := byUID[edit.UID]
		if !ok {
			batch.NotFoundUIDs = append(batch.NotFoundUIDs, edit.UID)
			continue
		}
		if cs := Diff(current, *edit); cs != nil {
			batch.ChangeSets = append(batch.ChangeSets, *cs)
		}
	}

	if len(batch.ChangeSets) == 0 {
		j.mu.Lock()
		j.editBatch = batch
		j.mu.Unlock()
		s.finish(j, PhaseNothingToDo, "")
		return
	}

	j.mu.Lock()
	j.editBatch = batch
	j.existing = existing
	j.progress.Phase = PhasePreviewReady
	j.progress.TotalItems = len(batch.ChangeSets)
	snapshot := j.progress
	j.mu.Unlock()
	j.notify(snapshot)
}

// Preview returns the held batch for operator review. Valid only once the
// job reaches preview_ready (batches from failed parses are also returned
// so the UI can show conflict details alongside the aggregated error).
func (s *Service) Preview(jobID string) (*ImportBatch, *EditBatch, Progress, error) {
	j, err := s.get(jobID)
	if err != nil {
		return nil, nil, Progress{}, err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.importBatch, j.editBatch, j.progress, nil
}

// Confirm applies a previewed job. It transitions preview_ready to
// applying and returns immediately; completion is observed via progress
// subscription or Result.
func (s *Service) Confirm(jobID string) error {
	j, err := s.get(jobID)
	if err != nil {
		return err
	}

	j.mu.Lock()
	if j.progress.Phase != PhasePreviewReady || j.confirmed {
		j.mu.Unlock()
		return fmt.Errorf("%w: job is %s", ErrWrongPhase, j.progress.Phase)
	}
	j.confirmed = true
	j.progress.Phase = PhaseApplying
	snapshot := j.progress
	j.mu.Unlock()
	j.notify(snapshot)

	go s.runCommit(j.ctx, j)
	return nil
}

// Cancel abandons a job. During parsing it cancels the pipeline context;
// at preview it discards the batch with no backend calls. Jobs that are
// already applying cannot be cancelled item-by-item, but the context
// cancellation stops unstarted requests.
func (s *Service) Cancel(jobID string) error {
	j, err := s.get(jobID)
	if err != nil {
		return err
	}

	j.mu.Lock()
	phase := j.progress.Phase
	j.mu.Unlock()

	if phase.Terminal() {
		return fmt.Errorf("%w: job is %s", ErrWrongPhase, phase)
	}

	j.cancel()
	if phase == PhasePreviewReady {
		j.mu.Lock()
		j.importBatch = nil
		j.editBatch = nil
		j.existing = nil
		j.mu.Unlock()
		s.finish(j, PhaseCancelled, "")
	}
	return nil
}

// SubscribeProgress returns a channel of progress snapshots. The current
// snapshot is delivered immediately; the channel closes when the job ends.
func (s *Service) SubscribeProgress(jobID string) (<-chan Progress, error) {
	j, err := s.get(jobID)
	if err != nil {
		return nil, err
	}

	ch := make(chan Progress, 16)

	// Registration happens under j.mu so it cannot interleave with finish:
	// either finish sees the listener and closes it, or this subscription
	// sees the job finished and closes the channel itself.
	j.mu.Lock()
	snapshot := j.progress
	finished := j.finished
	ch <- snapshot
	if !finished {
		j.listenerMu.Lock()
		j.listeners = append(j.listeners, ch)
		j.listenerMu.Unlock()
	}
	j.mu.Unlock()
	if finished {
		close(ch)
	}

	return ch, nil
}

// ProgressOf returns the current snapshot without blocking.
func (s *Service) ProgressOf(jobID string) (Progress, error) {
	j, err := s.get(jobID)
	if err != nil {
		return Progress{}, err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.progress, nil
}

// Result blocks until the job ends and returns its final outcome.
func (s *Service) Result(ctx context.Context, jobID string) (*Result, error) {
	j, err := s.get(jobID)
	if err != nil {
		return nil, err
	}
	select {
	case <-j.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result, nil
}

func (s *Service) get(jobID string) (*job, error) {
	s.mu.RLock()
	j, ok := s.jobs[jobID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrJobNotFound
	}
	return j, nil
}

// finish moves a job to a terminal phase, builds its result, records it,
// and wakes every waiter. Later calls for the same job are no-ops.
func (s *Service) finish(j *job, phase Phase, errMsg string) {
	j.mu.Lock()
	if j.finished {
		j.mu.Unlock()
		return
	}
	j.finished = true

	// A parse aborted by Cancel surfaces as cancelled, not failed.
	if phase == PhaseParseFailed && j.ctx.Err() == context.Canceled {
		phase = PhaseCancelled
		errMsg = ""
	}
	j.progress.Phase = phase
	j.progress.Error = errMsg
	if j.result == nil {
		j.result = &Result{
			JobID:      j.id,
			Mode:       j.mode,
			Phase:      phase,
			FileName:   j.fileName,
			TotalItems: j.progress.TotalItems,
			Succeeded:  j.progress.Succeeded,
			Failed:     j.progress.Failed,
			Duration:   time.Since(j.started),
			Error:      errMsg,
		}
	}
	snapshot := j.progress
	j.mu.Unlock()

	j.notify(snapshot)
	j.closeListeners()
	close(j.done)
	j.cancel()

	if s.recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		// History is best effort; the job outcome stands regardless.
		if err := s.recorder.RecordJob(ctx, *j.result, j.standardID, j.divisionID); err != nil {
			slog.Warn("record import job", "job_id", j.id, "error", err)
		}
	}

	s.cleanup(j.id, jobRetention)
}

// cleanup drops the job from tracking after a delay so late result polls
// still find it.
func (s *Service) cleanup(jobID string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.jobs, jobID)
		s.mu.Unlock()
	})
}

// notify fans a snapshot out to listeners, dropping updates for slow ones.
func (j *job) notify(p Progress) {
	j.listenerMu.Lock()
	defer j.listenerMu.Unlock()
	for _, ch := range j.listeners {
		select {
		case ch <- p:
		default:
		}
	}
}

func (j *job) closeListeners() {
	j.listenerMu.Lock()
	defer j.listenerMu.Unlock()
	for _, ch := range j.listeners {
		close(ch)
	}
	j.listeners = nil
}
