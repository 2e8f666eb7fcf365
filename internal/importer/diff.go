package importer

import (
	"strings"

	"github.com/classkit/roster/internal/roster"
)

// notSet is the display value for a field that is absent on one side.
const notSet = "Not set"

// FieldChange is one field-level difference presented for review.
type FieldChange struct {
	Field string `json:"field"`
	Old   string `json:"old"`
	New   string `json:"new"`
}

// ChangeSet pairs an existing student with the sparse update derived from
// an edit-mode row. Update carries only the fields that actually changed.
type ChangeSet struct {
	Row     int                    `json:"row"`
	Student roster.ExistingStudent `json:"student"`
	Update  roster.StudentUpdate   `json:"update"`
	Changes []FieldChange          `json:"changes"`
}

// Diff compares a lenient-parsed row against the matching existing student
// and returns the change set, or nil when nothing differs. Comparison is
// normalization-aware per field; naive string equality would report phantom
// changes for every formatting difference (+91 prefixes, date separators,
// letter case).
func Diff(existing roster.ExistingStudent, in EditRow) *ChangeSet {
	cs := &ChangeSet{Row: in.RowNum, Student: existing}

	if in.Fields.Name != "" && !equalFold(existing.Name, in.Fields.Name) {
		cs.Update.Name = in.Fields.Name
		cs.record(FieldName, existing.Name, in.Fields.Name)
	}

	if in.Fields.Phone != "" && PhoneKey(existing.ParentContact.Phone) != PhoneKey(in.Fields.Phone) {
		cs.Update.Phone = in.Fields.Phone
		cs.record(FieldMobile, existing.ParentContact.Phone, in.Fields.Phone)
	}

	if in.Fields.Email != "" && EmailKey(existing.ParentContact.Email) != EmailKey(in.Fields.Email) {
		cs.Update.Email = in.Fields.Email
		cs.record(FieldEmail, existing.ParentContact.Email, in.Fields.Email)
	}

	// An empty imported roll number never erases an existing one.
	if in.Fields.RollNumber != "" && existing.RollNumber != in.Fields.RollNumber {
		cs.Update.RollNumber = in.Fields.RollNumber
		cs.record(FieldRoll, existing.RollNumber, in.Fields.RollNumber)
	}

	if in.Fields.DateOfBirth != "" && DateKey(existing.DateOfBirth) != DateKey(in.Fields.DateOfBirth) {
		cs.Update.DateOfBirth = in.Fields.DateOfBirth
		cs.record(FieldDOB, existing.DateOfBirth, in.Fields.DateOfBirth)
	}

	if len(cs.Changes) == 0 {
		return nil
	}
	return cs
}

func (cs *ChangeSet) record(f Field, old, new string) {
	cs.Changes = append(cs.Changes, FieldChange{
		Field: f.Label(),
		Old:   displayValue(old),
		New:   displayValue(new),
	})
}

func displayValue(s string) string {
	if strings.TrimSpace(s) == "" {
		return notSet
	}
	return s
}

func equalFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
