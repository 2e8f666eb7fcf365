package importer

import (
	"fmt"
	"strings"
)

// Field names the semantic student fields a spreadsheet column can map to.
type Field string

const (
	FieldName   Field = "name"
	FieldUID    Field = "uid"
	FieldMobile Field = "mobile"
	FieldEmail  Field = "email"
	FieldRoll   Field = "rollNumber"
	FieldDOB    Field = "dateOfBirth"
)

// Label returns the operator-facing label for a field, used in change sets
// and error messages.
func (f Field) Label() string {
	switch f {
	case FieldName:
		return "Name"
	case FieldUID:
		return "UID"
	case FieldMobile:
		return "Mobile Number"
	case FieldEmail:
		return "Email"
	case FieldRoll:
		return "Roll Number"
	case FieldDOB:
		return "Date of Birth"
	default:
		return string(f)
	}
}

// ColumnMap maps semantic fields to zero-based column indices in the header
// row. Built once per file and read-only afterwards.
type ColumnMap map[Field]int

// headerRule matches one semantic field against a lower-cased, trimmed
// header cell. Rules are evaluated in a fixed priority order so overlapping
// vocabulary ("name" inside "father name", the second mobile column) stays
// unambiguous and testable.
type headerRule struct {
	field Field
	match func(header string) bool
}

// Hindi header literals exported from regional school spreadsheets.
var hindiHeaders = map[Field][]string{
	FieldName:   {"नाम"},
	FieldUID:    {"यूआईडी", "विशिष्ट पहचान"},
	FieldMobile: {"मोबाइल"},
	FieldEmail:  {"ईमेल"},
	FieldRoll:   {"रोल", "क्रमांक"},
	FieldDOB:    {"जन्म"},
}

var headerRules = []headerRule{
	{FieldUID, matchAny("uid", "unique id", "unique-id")},
	{FieldRoll, matchAny("roll")},
	{FieldDOB, matchAny("dob", "date of birth", "birth date", "birthdate")},
	{FieldEmail, matchAny("email", "e-mail")},
	{FieldMobile, matchMobile},
	{FieldName, matchAny("name")},
}

// matchAny builds a matcher that accepts a header containing any of the
// English patterns or any of the field's Hindi literals.
func matchAny(patterns ...string) func(string) bool {
	return func(header string) bool {
		for _, p := range patterns {
			if strings.Contains(header, p) {
				return true
			}
		}
		return false
	}
}

// matchMobile binds only the primary mobile column. Exports commonly carry
// "Mobile Number 1" and "Mobile Number 2"; a header mentioning 2 is the
// secondary contact and must not bind.
func matchMobile(header string) bool {
	if !strings.Contains(header, "mobile") && !strings.Contains(header, "phone") {
		return false
	}
	if strings.Contains(header, "2") {
		return false
	}
	return true
}

// hindiField returns the field a Hindi header literal maps to, if any.
func hindiField(header string) (Field, bool) {
	for field, literals := range hindiHeaders {
		for _, lit := range literals {
			if strings.Contains(header, lit) {
				if field == FieldMobile && strings.Contains(header, "2") {
					continue
				}
				return field, true
			}
		}
	}
	return "", false
}

// MapColumns inspects the header row and binds each semantic field to the
// first matching column. Later matches for an already-bound field are
// ignored. requiredFields that remain unbound fail the whole file.
func MapColumns(headers []string, required []Field) (ColumnMap, error) {
	cols := make(ColumnMap)

	for i, raw := range headers {
		header := strings.ToLower(strings.TrimSpace(raw))
		if header == "" {
			continue
		}

		if field, ok := hindiField(strings.TrimSpace(raw)); ok {
			if _, bound := cols[field]; !bound {
				cols[field] = i
			}
			continue
		}

		for _, rule := range headerRules {
			if _, bound := cols[rule.field]; bound {
				continue
			}
			if rule.match(header) {
				cols[rule.field] = i
				break
			}
		}
	}

	var missing []string
	for _, f := range required {
		if _, ok := cols[f]; !ok {
			missing = append(missing, f.Label())
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required columns: %s", strings.Join(missing, ", "))
	}
	return cols, nil
}

// StrictRequiredFields are the columns an import file must carry.
var StrictRequiredFields = []Field{FieldName, FieldUID, FieldMobile}

// LenientRequiredFields are the columns an edit file must carry.
var LenientRequiredFields = []Field{FieldUID}
