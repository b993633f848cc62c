package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	auth "github.com/study-pulse/studypulse-lms/internal/auth/middleware"
	"github.com/study-pulse/studypulse-lms/internal/db"
)

func login(t *testing.T, h http.HandlerFunc, username, password string) *httptest.ResponseRecorder {
	t.Helper()
	body := `{"username":"` + username + `","password":"` + password + `"}`
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body)))
	return rec
}

func mustHash(t *testing.T, pw string) string {
	t.Helper()
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestLogin_BootstrapAdmin(t *testing.T) {
	dbh, err := db.Open(context.Background(), db.DriverSQLite,
		"file:"+t.Name()+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	dbh.SetMaxIdleConns(1)
	t.Cleanup(func() { dbh.Close() })

	svc := auth.NewAuthService("test-secret")
	h := auth.LoginHandler(svc, dbh, "admin", mustHash(t, "bootstrap-pw"))

	// No user rows yet: the env-configured admin can still get in.
	rec := login(t, h, "admin", "bootstrap-pw")
	if rec.Code != http.StatusOK {
		t.Fatalf("bootstrap login: status %d", rec.Code)
	}
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	claims, err := svc.Parse(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if claims.Sub != "admin" || claims.Role != "admin" {
		t.Fatalf("unexpected claims: sub=%q role=%q", claims.Sub, claims.Role)
	}

	if rec := login(t, h, "admin", "wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong bootstrap password: status %d", rec.Code)
	}
	if rec := login(t, h, "nobody", "bootstrap-pw"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unknown user: status %d", rec.Code)
	}

	// A users-table row with the admin's name takes precedence over the
	// bootstrap credentials.
	if _, err := dbh.Exec(
		`INSERT INTO users (id, username, password_hash, role, created_at) VALUES ($1,$2,$3,$4,$5)`,
		"u-admin", "admin", mustHash(t, "row-pw"), "teacher", 0); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if rec := login(t, h, "admin", "bootstrap-pw"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bootstrap password should stop working once a row exists: status %d", rec.Code)
	}
	rec = login(t, h, "admin", "row-pw")
	if rec.Code != http.StatusOK {
		t.Fatalf("row login: status %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	claims, err = svc.Parse(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if claims.Sub != "u-admin" || claims.Role != "teacher" {
		t.Fatalf("row must take precedence: sub=%q role=%q", claims.Sub, claims.Role)
	}
}

func TestLogin_DisabledBootstrap(t *testing.T) {
	dbh, err := db.Open(context.Background(), db.DriverSQLite,
		"file:"+t.Name()+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	dbh.SetMaxIdleConns(1)
	t.Cleanup(func() { dbh.Close() })

	// Empty hash disables the fallback entirely.
	h := auth.LoginHandler(auth.NewAuthService("test-secret"), dbh, "admin", "")
	if rec := login(t, h, "admin", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("empty hash must not authenticate: status %d", rec.Code)
	}
}
