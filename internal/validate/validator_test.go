package validate

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
)

type signupRequest struct {
	Username string `json:"username" validate:"required,min=3,max=32"`
	Password string `json:"password" validate:"required,min=8"`
	Role     string `json:"role" validate:"omitempty,oneof=student admin"`
}

func TestDecodeAndValidate(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name       string
		body       string
		wantBad    bool
		wantFields []string
	}{
		{"valid", `{"username":"mei","password":"longenough"}`, false, nil},
		{"malformed", `{"username":`, true, nil},
		{"missing fields", `{}`, false, []string{"username", "password"}},
		{"short password", `{"username":"mei","password":"short"}`, false, []string{"password"}},
		{"bad role", `{"username":"mei","password":"longenough","role":"root"}`, false, []string{"role"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/", strings.NewReader(tt.body))
			var req signupRequest
			err := v.DecodeAndValidate(r, &req)

			if tt.wantBad {
				if !errors.Is(err, ErrBadBody) {
					t.Fatalf("expected ErrBadBody, got %v", err)
				}
				return
			}
			if len(tt.wantFields) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}

			var fe *FieldsError
			if !errors.As(err, &fe) {
				t.Fatalf("expected *FieldsError, got %v", err)
			}
			if len(fe.Fields) != len(tt.wantFields) {
				t.Errorf("expected %d fields, got %v", len(tt.wantFields), fe.Fields)
			}
			for _, f := range tt.wantFields {
				msg, ok := fe.Fields[f]
				if !ok {
					t.Errorf("expected error for field %q, got %v", f, fe.Fields)
					continue
				}
				if !strings.Contains(msg, f) {
					t.Errorf("expected message to name field %q, got %q", f, msg)
				}
			}
		})
	}
}
