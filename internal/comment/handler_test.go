package comment

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/crowdreel/crowdreel/internal/auth"
	"github.com/crowdreel/crowdreel/internal/overlay"
	"github.com/go-chi/chi/v5"
	"github.com/pashagolub/pgxmock/v4"
)

const (
	testJWTSecret = "test-secret-for-comment-tests"
	testUserID    = "550e8400-e29b-41d4-a716-446655440000"
)

func newRouter(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.With(auth.NewHandler(testJWTSecret).Middleware).Post("/api/episodes/{episodeID}/comments", h.Post)
	return r
}

func authenticatedRequest(t *testing.T, target, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	token, err := auth.GenerateAccessToken(testJWTSecret, testUserID)
	if err != nil {
		t.Fatalf("failed to generate access token: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func parseErrorResponse(t *testing.T, body []byte) string {
	t.Helper()
	var errResp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil {
		t.Fatalf("failed to parse error response: %v", err)
	}
	return errResp.Error
}

func TestPost_CreatesComment(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	createdAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`INSERT INTO comments`).
		WithArgs("ep-1", testUserID, "what a twist", 42).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow("comment-1", createdAt))

	rec := httptest.NewRecorder()
	newRouter(NewHandler(NewStore(mock))).ServeHTTP(rec,
		authenticatedRequest(t, "/api/episodes/ep-1/comments", `{"content":"  what a twist ","timestampSeconds":42}`))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, rec.Code, rec.Body.String())
	}
	var c overlay.Comment
	if err := json.Unmarshal(rec.Body.Bytes(), &c); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if c.ID != "comment-1" || c.Content != "what a twist" || c.TimestampSeconds != 42 {
		t.Errorf("unexpected response %+v", c)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet pgxmock expectations: %v", err)
	}
}

func TestPost_RequiresAuthentication(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/episodes/ep-1/comments", strings.NewReader(`{"content":"hi","timestampSeconds":1}`))
	rec := httptest.NewRecorder()
	newRouter(NewHandler(NewStore(mock))).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestPost_ValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		target string
		body   string
		want   string
	}{
		{"invalid json", "/api/episodes/ep-1/comments", `{`, "invalid request body"},
		{"blank content", "/api/episodes/ep-1/comments", `{"content":"   ","timestampSeconds":1}`, "comment content is required"},
		{"too long", "/api/episodes/ep-1/comments", `{"content":"` + strings.Repeat("a", 501) + `","timestampSeconds":1}`, "comment must be 500 characters or fewer"},
		{"missing timestamp", "/api/episodes/ep-1/comments", `{"content":"hi"}`, "timestamp is required"},
		{"negative timestamp", "/api/episodes/ep-1/comments", `{"content":"hi","timestampSeconds":-1}`, "timestamp must not be negative"},
		{"bad episode", "/api/episodes/ep.1/comments", `{"content":"hi","timestampSeconds":1}`, "episode id contains invalid characters"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			if err != nil {
				t.Fatal(err)
			}
			defer mock.Close()

			rec := httptest.NewRecorder()
			newRouter(NewHandler(NewStore(mock))).ServeHTTP(rec, authenticatedRequest(t, tc.target, tc.body))

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected status %d, got %d: %s", http.StatusBadRequest, rec.Code, rec.Body.String())
			}
			if got := parseErrorResponse(t, rec.Body.Bytes()); got != tc.want {
				t.Errorf("expected error %q, got %q", tc.want, got)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unexpected database access: %v", err)
			}
		})
	}
}

func TestPost_DatabaseError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	mock.ExpectQuery(`INSERT INTO comments`).
		WithArgs("ep-1", testUserID, "hi", 1).
		WillReturnError(errors.New("database unavailable"))

	rec := httptest.NewRecorder()
	newRouter(NewHandler(NewStore(mock))).ServeHTTP(rec,
		authenticatedRequest(t, "/api/episodes/ep-1/comments", `{"content":"hi","timestampSeconds":1}`))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, rec.Code)
	}
	if got := parseErrorResponse(t, rec.Body.Bytes()); got != "could not save comment" {
		t.Errorf("unexpected error %q", got)
	}
}
