// Package roster defines the student domain types and the HTTP client for
// the remote student collection. The import pipeline in internal/importer
// produces these types and commits them through the Client.
package roster

// ParentContact holds the guardian contact details attached to a student.
type ParentContact struct {
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// Student is a candidate record built from one spreadsheet row. It has no
// identity until the backend accepts it.
type Student struct {
	Name          string        `json:"name"`
	UID           string        `json:"uid"`
	RollNumber    string        `json:"rollNumber,omitempty"`
	DateOfBirth   string        `json:"dateOfBirth,omitempty"` // ISO yyyy-mm-dd
	ParentContact ParentContact `json:"parentContact"`
	StandardID    string        `json:"standardId"`
	DivisionID    string        `json:"divisionId"`
}

// ExistingStudent is the authoritative record held by the backend, keyed by
// an opaque id. The pipeline only reads it and requests partial updates.
type ExistingStudent struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	UID           string        `json:"uid"`
	RollNumber    string        `json:"rollNumber,omitempty"`
	DateOfBirth   string        `json:"dateOfBirth,omitempty"`
	ParentContact ParentContact `json:"parentContact"`
	StandardID    string        `json:"standardId"`
	DivisionID    string        `json:"divisionId"`
}

// StudentUpdate is a sparse partial-update payload. Zero-value fields are
// omitted from the request body, so an update only touches what it names.
type StudentUpdate struct {
	Name        string `json:"name,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Email       string `json:"email,omitempty"`
	RollNumber  string `json:"rollNumber,omitempty"`
	DateOfBirth string `json:"dateOfBirth,omitempty"`
}

// IsZero reports whether the update carries no fields at all.
func (u StudentUpdate) IsZero() bool {
	return u == StudentUpdate{}
}
