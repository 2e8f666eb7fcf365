package roster

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClient_CreateStudent(t *testing.T) {
	var gotAuth, gotPath, gotMethod string
	var gotBody Student

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotMethod = r.Method
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(ExistingStudent{ID: "id-1", Name: gotBody.Name, UID: gotBody.UID})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret-token", time.Second)
	created, err := c.CreateStudent(context.Background(), Student{Name: "Asha Rao", UID: "U100"})
	if err != nil {
		t.Fatalf("CreateStudent() error = %v", err)
	}

	if gotMethod != http.MethodPost || gotPath != "/students" {
		t.Errorf("request = %s %s, want POST /students", gotMethod, gotPath)
	}
	if gotAuth != "Bearer secret-token" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
	if gotBody.Name != "Asha Rao" {
		t.Errorf("request body name = %q, want %q", gotBody.Name, "Asha Rao")
	}
	if created.ID != "id-1" {
		t.Errorf("created.ID = %q, want %q", created.ID, "id-1")
	}
}

func TestClient_UpdateStudent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/students/id-9" {
			t.Errorf("request = %s %s, want PATCH /students/id-9", r.Method, r.URL.Path)
		}
		var u StudentUpdate
		if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if u.Name != "New Name" || u.Phone != "" {
			t.Errorf("update body = %+v, want only name set", u)
		}
		json.NewEncoder(w).Encode(ExistingStudent{ID: "id-9", Name: u.Name})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second)
	updated, err := c.UpdateStudent(context.Background(), "id-9", StudentUpdate{Name: "New Name"})
	if err != nil {
		t.Fatalf("UpdateStudent() error = %v", err)
	}
	if updated.Name != "New Name" {
		t.Errorf("updated.Name = %q, want %q", updated.Name, "New Name")
	}
}

func TestClient_ListStudentsByDivision(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/divisions/div-A/students" {
			t.Errorf("path = %s, want /divisions/div-A/students", r.URL.Path)
		}
		json.NewEncoder(w).Encode([]ExistingStudent{
			{ID: "id-1", UID: "U100"},
			{ID: "id-2", UID: "U200"},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second)
	students, err := c.ListStudentsByDivision(context.Background(), "div-A")
	if err != nil {
		t.Fatalf("ListStudentsByDivision() error = %v", err)
	}
	if len(students) != 2 {
		t.Errorf("students = %d, want 2", len(students))
	}
}

func TestClient_APIErrorMessage(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"error field", 422, `{"error": "uid already exists"}`, "uid already exists"},
		{"message field", 400, `{"message": "bad payload"}`, "bad payload"},
		{"plain text body", 500, "internal failure", "internal failure"},
		{"empty body", 503, "", "backend returned status 503"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewClient(srv.URL, "", time.Second)
			_, err := c.CreateStudent(context.Background(), Student{})
			if err == nil {
				t.Fatal("CreateStudent() error = nil, want APIError")
			}

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error type = %T, want *APIError", err)
			}
			if apiErr.Status != tt.status {
				t.Errorf("Status = %d, want %d", apiErr.Status, tt.status)
			}
			if apiErr.Error() != tt.message {
				t.Errorf("Error() = %q, want %q", apiErr.Error(), tt.message)
			}
		})
	}
}

func TestClient_ContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 10*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.ListStudentsByDivision(ctx, "div-A")
	if err == nil {
		t.Fatal("ListStudentsByDivision() error = nil, want context deadline error")
	}
}

func TestNewClient_TrimsTrailingSlash(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode([]ExistingStudent{})
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "", time.Second)
	if _, err := c.ListStudentsByDivision(context.Background(), "d"); err != nil {
		t.Fatalf("ListStudentsByDivision() error = %v", err)
	}
	if gotPath != "/divisions/d/students" {
		t.Errorf("path = %q, want single slash", gotPath)
	}
}
