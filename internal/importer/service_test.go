package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/classkit/roster/internal/roster"
	"github.com/xuri/excelize/v2"
)

// workbook builds an in-memory xlsx file from rows of raw values.
func workbook(t *testing.T, rows ...[]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return buf.Bytes()
}

var importHeaders = []any{"Student Name", "UID", "Mobile Number 1", "Email", "Roll No", "Date of Birth"}

// fakeBackend is an in-memory student collection. failUIDs marks uids whose
// create or update requests are rejected.
type fakeBackend struct {
	mu       sync.Mutex
	students map[string]roster.ExistingStudent // by id
	nextID   int
	failUIDs map[string]bool
	creates  int
	updates  int
	lists    int
}

func newFakeBackend(existing ...roster.ExistingStudent) *fakeBackend {
	b := &fakeBackend{
		students: make(map[string]roster.ExistingStudent),
		failUIDs: make(map[string]bool),
	}
	for _, s := range existing {
		b.students[s.ID] = s
	}
	return b
}

func (b *fakeBackend) CreateStudent(ctx context.Context, s roster.Student) (*roster.ExistingStudent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.creates++
	if b.failUIDs[s.UID] {
		return nil, &roster.APIError{Status: 422, Message: "uid rejected by backend"}
	}
	b.nextID++
	created := roster.ExistingStudent{
		ID:            fmt.Sprintf("id-%d", b.nextID),
		Name:          s.Name,
		UID:           s.UID,
		RollNumber:    s.RollNumber,
		DateOfBirth:   s.DateOfBirth,
		ParentContact: s.ParentContact,
		StandardID:    s.StandardID,
		DivisionID:    s.DivisionID,
	}
	b.students[created.ID] = created
	return &created, nil
}

func (b *fakeBackend) UpdateStudent(ctx context.Context, id string, u roster.StudentUpdate) (*roster.ExistingStudent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updates++
	s, ok := b.students[id]
	if !ok {
		return nil, &roster.APIError{Status: 404, Message: "student not found"}
	}
	if b.failUIDs[s.UID] {
		return nil, &roster.APIError{Status: 422, Message: "update rejected by backend"}
	}
	if u.Name != "" {
		s.Name = u.Name
	}
	if u.Phone != "" {
		s.ParentContact.Phone = u.Phone
	}
	if u.Email != "" {
		s.ParentContact.Email = u.Email
	}
	if u.RollNumber != "" {
		s.RollNumber = u.RollNumber
	}
	if u.DateOfBirth != "" {
		s.DateOfBirth = u.DateOfBirth
	}
	b.students[id] = s
	return &s, nil
}

func (b *fakeBackend) ListStudentsByDivision(ctx context.Context, divisionID string) ([]roster.ExistingStudent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lists++
	var out []roster.ExistingStudent
	for _, s := range b.students {
		out = append(out, s)
	}
	return out, nil
}

func newTestService(backend Backend) *Service {
	return NewService(backend, Options{
		MaxConcurrent:  2,
		MaxWait:        time.Second,
		RequestTimeout: time.Second,
		JobTimeout:     10 * time.Second,
	})
}

// waitForPhase polls until the job reaches want or any terminal phase.
func waitForPhase(t *testing.T, s *Service, jobID string, want Phase) Progress {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		p, err := s.ProgressOf(jobID)
		if err != nil {
			t.Fatalf("ProgressOf() error = %v", err)
		}
		if p.Phase == want {
			return p
		}
		if p.Phase.Terminal() {
			t.Fatalf("job reached %s (error %q), want %s", p.Phase, p.Error, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job never reached phase %s", want)
	return Progress{}
}

func TestService_ImportHappyPath(t *testing.T) {
	backend := newFakeBackend()
	s := newTestService(backend)

	data := workbook(t,
		importHeaders,
		[]any{"Asha Rao", "U100", "919876543210", "asha@example.com", "1", "05-08-2014"},
		[]any{"Vikram Iyer", "U200", "9123456789", "", "", ""},
	)

	jobID, err := s.Start(context.Background(), ModeImport, "std-5", "div-A", "roster.xlsx", data)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	waitForPhase(t, s, jobID, PhasePreviewReady)

	importBatch, editBatch, _, err := s.Preview(jobID)
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if editBatch != nil {
		t.Errorf("edit batch = %+v, want nil in import mode", editBatch)
	}
	if len(importBatch.Candidates) != 2 {
		t.Fatalf("candidates = %d, want 2", len(importBatch.Candidates))
	}
	first := importBatch.Candidates[0].Student
	if first.ParentContact.Phone != "9876543210" {
		t.Errorf("phone = %q, want normalized %q", first.ParentContact.Phone, "9876543210")
	}
	if first.DateOfBirth != "2014-08-05" {
		t.Errorf("dob = %q, want %q", first.DateOfBirth, "2014-08-05")
	}
	if first.StandardID != "std-5" || first.DivisionID != "div-A" {
		t.Errorf("placement = %s/%s, want std-5/div-A", first.StandardID, first.DivisionID)
	}
	// The second row has no roll; it gets the next sequential number.
	if second := importBatch.Candidates[1].Student; second.RollNumber != "2" {
		t.Errorf("assigned roll = %q, want %q", second.RollNumber, "2")
	}

	if err := s.Confirm(jobID); err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}

	res, err := s.Result(context.Background(), jobID)
	if err != nil {
		t.Fatalf("Result() error = %v", err)
	}
	if res.Phase != PhaseApplied {
		t.Fatalf("phase = %s, want %s (error %q)", res.Phase, PhaseApplied, res.Error)
	}
	if res.Succeeded != 2 || res.Failed != 0 {
		t.Errorf("succeeded/failed = %d/%d, want 2/0", res.Succeeded, res.Failed)
	}
	if backend.creates != 2 {
		t.Errorf("backend creates = %d, want 2", backend.creates)
	}
	if len(res.Roster) != 2 {
		t.Errorf("reloaded roster size = %d, want 2", len(res.Roster))
	}
}

func TestService_ImportAllOrNothing(t *testing.T) {
	backend := newFakeBackend()
	s := newTestService(backend)

	// Row 3 is missing its mobile number; the whole import must fail
	// before any backend call.
	data := workbook(t,
		importHeaders,
		[]any{"Asha Rao", "U100", "9876543210"},
		[]any{"Vikram Iyer", "U200", ""},
	)

	jobID, err := s.Start(context.Background(), ModeImport, "std-5", "div-A", "roster.xlsx", data)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	res, err := s.Result(context.Background(), jobID)
	if err != nil {
		t.Fatalf("Result() error = %v", err)
	}
	if res.Phase != PhaseParseFailed {
		t.Fatalf("phase = %s, want %s", res.Phase, PhaseParseFailed)
	}
	if !strings.Contains(res.Error, "row 3") || !strings.Contains(res.Error, "mobile number is required") {
		t.Errorf("error = %q, want it to name row 3 and the missing mobile", res.Error)
	}
	if backend.creates != 0 {
		t.Errorf("backend creates = %d, want 0", backend.creates)
	}
}

func TestService_ImportDuplicateUIDsFail(t *testing.T) {
	backend := newFakeBackend()
	s := newTestService(backend)

	data := workbook(t,
		importHeaders,
		[]any{"Asha Rao", "U100", "9876543210"},
		[]any{"Asha R", "U100", "9123456789"},
	)

	jobID, err := s.Start(context.Background(), ModeImport, "std-5", "div-A", "roster.xlsx", data)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	res, err := s.Result(context.Background(), jobID)
	if err != nil {
		t.Fatalf("Result() error = %v", err)
	}
	if res.Phase != PhaseParseFailed {
		t.Fatalf("phase = %s, want %s", res.Phase, PhaseParseFailed)
	}
	if !strings.Contains(res.Error, `duplicate uid "U100"`) || !strings.Contains(res.Error, "rows 2, 3") {
		t.Errorf("error = %q, want duplicate uid naming rows 2, 3", res.Error)
	}
}

func TestService_ImportPartialFailure(t *testing.T) {
	backend := newFakeBackend()
	backend.failUIDs["U200"] = true
	s := newTestService(backend)

	data := workbook(t,
		importHeaders,
		[]any{"Asha Rao", "U100", "9876543210"},
		[]any{"Vikram Iyer", "U200", "9123456789"},
		[]any{"Meera Nair", "U300", "9012345678"},
	)

	jobID, err := s.Start(context.Background(), ModeImport, "std-5", "div-A", "roster.xlsx", data)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	waitForPhase(t, s, jobID, PhasePreviewReady)
	if err := s.Confirm(jobID); err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}

	res, err := s.Result(context.Background(), jobID)
	if err != nil {
		t.Fatalf("Result() error = %v", err)
	}
	if res.Phase != PhasePartiallyFailed {
		t.Fatalf("phase = %s, want %s", res.Phase, PhasePartiallyFailed)
	}
	if res.Succeeded != 2 || res.Failed != 1 {
		t.Errorf("succeeded/failed = %d/%d, want 2/1", res.Succeeded, res.Failed)
	}

	var failed *ItemResult
	for i := range res.Items {
		if res.Items[i].Failed() {
			failed = &res.Items[i]
		}
	}
	if failed == nil {
		t.Fatal("no failed item in results")
	}
	if failed.UID != "U200" || failed.Row != 3 {
		t.Errorf("failed item = %+v, want U200 at row 3", failed)
	}
	if !strings.Contains(failed.Error, "uid rejected by backend") {
		t.Errorf("failed item error = %q, want backend message", failed.Error)
	}
	// Successes still land even when a sibling fails.
	if len(res.Roster) != 2 {
		t.Errorf("reloaded roster size = %d, want 2", len(res.Roster))
	}
}

func TestService_EditSkipsUnchangedAndMissing(t *testing.T) {
	backend := newFakeBackend(
		roster.ExistingStudent{
			ID: "id-1", Name: "Asha Rao", UID: "U100", RollNumber: "1",
			ParentContact: roster.ParentContact{Phone: "+919876543210"},
		},
		roster.ExistingStudent{
			ID: "id-2", Name: "Vikram Iyer", UID: "U200", RollNumber: "2",
			ParentContact: roster.ParentContact{Phone: "9123456789"},
		},
	)
	s := newTestService(backend)

	// Row 2 only reformats the stored phone (no change), row 3 renames,
	// row 4 references a uid not in the division.
	data := workbook(t,
		importHeaders,
		[]any{"Asha Rao", "U100", "9876543210"},
		[]any{"Vikram K Iyer", "U200", ""},
		[]any{"Ghost", "U999", ""},
	)

	jobID, err := s.Start(context.Background(), ModeEdit, "std-5", "div-A", "edits.xlsx", data)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	waitForPhase(t, s, jobID, PhasePreviewReady)

	_, editBatch, _, err := s.Preview(jobID)
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if len(editBatch.ChangeSets) != 1 {
		t.Fatalf("change sets = %+v, want exactly one", editBatch.ChangeSets)
	}
	cs := editBatch.ChangeSets[0]
	if cs.Student.UID != "U200" || cs.Update.Name != "Vikram K Iyer" {
		t.Errorf("change set = %+v, want rename of U200", cs)
	}
	if len(editBatch.NotFoundUIDs) != 1 || editBatch.NotFoundUIDs[0] != "U999" {
		t.Errorf("NotFoundUIDs = %v, want [U999]", editBatch.NotFoundUIDs)
	}

	if err := s.Confirm(jobID); err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	res, err := s.Result(context.Background(), jobID)
	if err != nil {
		t.Fatalf("Result() error = %v", err)
	}
	if res.Phase != PhaseApplied || res.Succeeded != 1 {
		t.Fatalf("result = %s %d/%d, want applied 1/0", res.Phase, res.Succeeded, res.Failed)
	}
	if backend.updates != 1 {
		t.Errorf("backend updates = %d, want 1", backend.updates)
	}
}

func TestService_EditNothingToDo(t *testing.T) {
	backend := newFakeBackend(roster.ExistingStudent{
		ID: "id-1", Name: "Asha Rao", UID: "U100",
		ParentContact: roster.ParentContact{Phone: "9876543210"},
	})
	s := newTestService(backend)

	data := workbook(t,
		importHeaders,
		[]any{"Asha Rao", "U100", "+91 98765 43210"},
	)

	jobID, err := s.Start(context.Background(), ModeEdit, "std-5", "div-A", "edits.xlsx", data)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	res, err := s.Result(context.Background(), jobID)
	if err != nil {
		t.Fatalf("Result() error = %v", err)
	}
	if res.Phase != PhaseNothingToDo {
		t.Errorf("phase = %s, want %s", res.Phase, PhaseNothingToDo)
	}
	if backend.updates != 0 {
		t.Errorf("backend updates = %d, want 0", backend.updates)
	}
}

// slowListBackend parks ListStudentsByDivision until released, keeping
// its job inside the working slot.
type slowListBackend struct {
	*fakeBackend
	gate chan struct{}
}

func (b *slowListBackend) ListStudentsByDivision(ctx context.Context, divisionID string) ([]roster.ExistingStudent, error) {
	select {
	case <-b.gate:
	case <-ctx.Done():
	}
	return b.fakeBackend.ListStudentsByDivision(ctx, divisionID)
}

func TestService_StartRejectsWhenBusy(t *testing.T) {
	backend := &slowListBackend{fakeBackend: newFakeBackend(), gate: make(chan struct{})}
	s := NewService(backend, Options{
		MaxConcurrent:  1,
		MaxWait:        50 * time.Millisecond,
		RequestTimeout: time.Second,
		JobTimeout:     10 * time.Second,
	})

	data := workbook(t,
		importHeaders,
		[]any{"Asha Rao", "U100", "9876543210"},
	)

	first, err := s.Start(context.Background(), ModeImport, "std-5", "div-A", "roster.xlsx", data)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// The only slot is held inside the blocked roster load, so a second
	// upload must be rejected synchronously.
	if _, err := s.Start(context.Background(), ModeImport, "std-5", "div-B", "roster.xlsx", data); !errors.Is(err, ErrTooManyImports) {
		t.Fatalf("Start() while saturated = %v, want ErrTooManyImports", err)
	}

	close(backend.gate)
	waitForPhase(t, s, first, PhasePreviewReady)
}

func TestService_JobTimeoutAtPreview(t *testing.T) {
	backend := newFakeBackend()
	s := NewService(backend, Options{
		MaxConcurrent:  2,
		MaxWait:        time.Second,
		RequestTimeout: time.Second,
		JobTimeout:     250 * time.Millisecond,
	})

	data := workbook(t,
		importHeaders,
		[]any{"Asha Rao", "U100", "9876543210"},
	)

	jobID, err := s.Start(context.Background(), ModeImport, "std-5", "div-A", "roster.xlsx", data)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitForPhase(t, s, jobID, PhasePreviewReady)

	// Nobody confirms or cancels; the job deadline must end it.
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	res, err := s.Result(ctx, jobID)
	if err != nil {
		t.Fatalf("Result() error = %v", err)
	}
	if res.Phase != PhaseCancelled {
		t.Errorf("phase = %s, want %s", res.Phase, PhaseCancelled)
	}
	if !strings.Contains(res.Error, "timed out") {
		t.Errorf("error = %q, want a timeout message", res.Error)
	}
	if backend.creates != 0 {
		t.Errorf("backend creates = %d, want 0", backend.creates)
	}
}

func TestService_SubscribeDuringFinish(t *testing.T) {
	backend := newFakeBackend()
	s := newTestService(backend)

	data := workbook(t,
		importHeaders,
		[]any{"Asha Rao", "U100", "9876543210"},
	)

	// Race a fresh subscription against the job finishing; every channel
	// must still close.
	for i := 0; i < 20; i++ {
		jobID, err := s.Start(context.Background(), ModeImport, "std-5", "div-A", "roster.xlsx", data)
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		waitForPhase(t, s, jobID, PhasePreviewReady)

		done := make(chan struct{})
		go func() {
			defer close(done)
			updates, err := s.SubscribeProgress(jobID)
			if err != nil {
				t.Errorf("SubscribeProgress() error = %v", err)
				return
			}
			for range updates {
			}
		}()

		if err := s.Cancel(jobID); err != nil {
			t.Fatalf("Cancel() error = %v", err)
		}
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("subscription channel never closed after job finished")
		}
	}
}

func TestService_CancelAtPreview(t *testing.T) {
	backend := newFakeBackend()
	s := newTestService(backend)

	data := workbook(t,
		importHeaders,
		[]any{"Asha Rao", "U100", "9876543210"},
	)

	jobID, err := s.Start(context.Background(), ModeImport, "std-5", "div-A", "roster.xlsx", data)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	waitForPhase(t, s, jobID, PhasePreviewReady)
	if err := s.Cancel(jobID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	res, err := s.Result(context.Background(), jobID)
	if err != nil {
		t.Fatalf("Result() error = %v", err)
	}
	if res.Phase != PhaseCancelled {
		t.Errorf("phase = %s, want %s", res.Phase, PhaseCancelled)
	}
	if backend.creates != 0 {
		t.Errorf("backend creates = %d, want 0 after cancel", backend.creates)
	}

	// A cancelled job cannot be confirmed.
	if err := s.Confirm(jobID); err == nil {
		t.Error("Confirm() after cancel = nil, want ErrWrongPhase")
	}
}

func TestService_ConfirmRequiresPreview(t *testing.T) {
	backend := newFakeBackend()
	backend.failUIDs["U100"] = true
	s := newTestService(backend)

	data := workbook(t,
		importHeaders,
		[]any{"", "U100", "bad"},
	)

	jobID, err := s.Start(context.Background(), ModeImport, "std-5", "div-A", "roster.xlsx", data)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := s.Result(context.Background(), jobID); err != nil {
		t.Fatalf("Result() error = %v", err)
	}

	if err := s.Confirm(jobID); err == nil {
		t.Error("Confirm() on failed job = nil, want ErrWrongPhase")
	}
}

func TestService_UnknownJob(t *testing.T) {
	s := newTestService(newFakeBackend())

	if _, err := s.ProgressOf("nope"); err != ErrJobNotFound {
		t.Errorf("ProgressOf(unknown) = %v, want ErrJobNotFound", err)
	}
	if err := s.Confirm("nope"); err != ErrJobNotFound {
		t.Errorf("Confirm(unknown) = %v, want ErrJobNotFound", err)
	}
}

func TestService_StartValidation(t *testing.T) {
	s := newTestService(newFakeBackend())

	if _, err := s.Start(context.Background(), "merge", "std", "div", "f.xlsx", nil); err == nil {
		t.Error("Start with unknown mode = nil, want error")
	}
	if _, err := s.Start(context.Background(), ModeImport, "std", "", "f.xlsx", nil); err == nil {
		t.Error("Start without division = nil, want error")
	}
}

func TestService_ProgressSubscription(t *testing.T) {
	backend := newFakeBackend()
	s := newTestService(backend)

	data := workbook(t,
		importHeaders,
		[]any{"Asha Rao", "U100", "9876543210"},
	)

	jobID, err := s.Start(context.Background(), ModeImport, "std-5", "div-A", "roster.xlsx", data)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	updates, err := s.SubscribeProgress(jobID)
	if err != nil {
		t.Fatalf("SubscribeProgress() error = %v", err)
	}

	sawPreview := false
	for p := range updates {
		if p.Phase == PhasePreviewReady {
			sawPreview = true
			if err := s.Confirm(jobID); err != nil {
				t.Fatalf("Confirm() error = %v", err)
			}
		}
	}
	if !sawPreview {
		t.Error("subscription never delivered preview_ready")
	}

	p, err := s.ProgressOf(jobID)
	if err != nil {
		t.Fatalf("ProgressOf() error = %v", err)
	}
	if p.Phase != PhaseApplied {
		t.Errorf("final phase = %s, want %s", p.Phase, PhaseApplied)
	}
}
