package importer

import (
	"fmt"

	"github.com/classkit/roster/internal/roster"
)

// RowError is a row-level validation failure, carrying the 1-based
// spreadsheet row number so the operator can find the offending line.
type RowError struct {
	Row    int
	Reason string
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Row, e.Reason)
}

// EditRow is one lenient-parsed row: the matching key plus whichever fields
// the row actually carried. Absent cells stay zero and are never treated as
// erasures.
type EditRow struct {
	RowNum int
	UID    string
	Fields roster.StudentUpdate
}

// ParseStrict converts one raw row into a candidate student record for a
// new-roster import. Entirely empty rows return (nil, nil). Any missing
// required field or malformed value returns a RowError.
func ParseStrict(row Row, cols ColumnMap, rowNum int) (*roster.Student, error) {
	if row.IsEmpty() {
		return nil, nil
	}

	name := row.At(cols[FieldName]).String()
	if name == "" {
		return nil, RowError{rowNum, "name is required"}
	}

	uid := row.At(cols[FieldUID]).String()
	if uid == "" {
		return nil, RowError{rowNum, "uid is required"}
	}

	phoneCell := row.At(cols[FieldMobile])
	if phoneCell.IsEmpty() {
		return nil, RowError{rowNum, "mobile number is required"}
	}
	phone, err := NormalizePhone(phoneCell)
	if err != nil {
		return nil, RowError{rowNum, err.Error()}
	}

	student := &roster.Student{
		Name:          name,
		UID:           uid,
		ParentContact: roster.ParentContact{Phone: phone},
	}

	if idx, ok := cols[FieldEmail]; ok {
		if email := row.At(idx).String(); email != "" {
			if err := ValidateEmail(email); err != nil {
				return nil, RowError{rowNum, err.Error()}
			}
			student.ParentContact.Email = email
		}
	}

	if idx, ok := cols[FieldRoll]; ok {
		student.RollNumber = row.At(idx).String()
	}

	if idx, ok := cols[FieldDOB]; ok {
		if cell := row.At(idx); !cell.IsEmpty() {
			dob, err := NormalizeDOB(cell)
			if err != nil {
				return nil, RowError{rowNum, err.Error()}
			}
			student.DateOfBirth = dob
		}
	}

	return student, nil
}

// ParseLenient converts one raw row into a partial update for an existing
// student. Only uid is required; absent cells are omitted rather than
// erroring. Malformed (not merely missing) mobile, email, and date values
// still fail the row.
func ParseLenient(row Row, cols ColumnMap, rowNum int) (*EditRow, error) {
	if row.IsEmpty() {
		return nil, nil
	}

	uid := row.At(cols[FieldUID]).String()
	if uid == "" {
		return nil, RowError{rowNum, "uid is required"}
	}

	edit := &EditRow{RowNum: rowNum, UID: uid}

	if idx, ok := cols[FieldName]; ok {
		edit.Fields.Name = row.At(idx).String()
	}

	if idx, ok := cols[FieldMobile]; ok {
		if cell := row.At(idx); !cell.IsEmpty() {
			phone, err := NormalizePhone(cell)
			if err != nil {
				return nil, RowError{rowNum, err.Error()}
			}
			edit.Fields.Phone = phone
		}
	}

	if idx, ok := cols[FieldEmail]; ok {
		if email := row.At(idx).String(); email != "" {
			if err := ValidateEmail(email); err != nil {
				return nil, RowError{rowNum, err.Error()}
			}
			edit.Fields.Email = email
		}
	}

	if idx, ok := cols[FieldRoll]; ok {
		edit.Fields.RollNumber = row.At(idx).String()
	}

	if idx, ok := cols[FieldDOB]; ok {
		if cell := row.At(idx); !cell.IsEmpty() {
			dob, err := NormalizeDOB(cell)
			if err != nil {
				return nil, RowError{rowNum, err.Error()}
			}
			edit.Fields.DateOfBirth = dob
		}
	}

	return edit, nil
}
