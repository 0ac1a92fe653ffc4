package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAdminAuth(t *testing.T) {
	var gotRole, gotActor string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRole = RoleFromContext(r.Context())
		gotActor = ActorFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name     string
		token    string
		header   string
		operator string
		want     int
		actor    string
	}{
		{"disabled", "", "Bearer secret", "", http.StatusForbidden, ""},
		{"missing", "secret", "", "", http.StatusUnauthorized, ""},
		{"wrong", "secret", "Bearer nope", "", http.StatusUnauthorized, ""},
		{"ok default operator", "secret", "Bearer secret", "", http.StatusOK, RoleAdmin},
		{"ok named operator", "secret", "bearer secret", "ops-7", http.StatusOK, "ops-7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotRole, gotActor = "", ""
			req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/wallets/x/credits", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.operator != "" {
				req.Header.Set(operatorHeader, tt.operator)
			}
			rec := httptest.NewRecorder()
			AdminAuth(tt.token, nil)(next).ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("expected %d got %d", tt.want, rec.Code)
			}
			if tt.want == http.StatusOK && (gotRole != RoleAdmin || gotActor != tt.actor) {
				t.Fatalf("unexpected actor %q/%q", gotRole, gotActor)
			}
		})
	}
}
