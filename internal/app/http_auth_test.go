package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(ms *memoryStore, autoConfirm bool) *HTTPServer {
	return NewHTTPServer(newTestService(ms, autoConfirm), "*")
}

func doJSON(t *testing.T, server *HTTPServer, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body == "" {
		reader = bytes.NewBufferString("{}")
	} else {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func parseBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response %q: %v", rr.Body.String(), err)
	}
	return payload
}

func signUp(t *testing.T, server *HTTPServer, email, password, displayName string) map[string]any {
	t.Helper()
	rr := doJSON(t, server, http.MethodPost, "/api/auth/signup", "",
		fmt.Sprintf(`{"email":%q,"password":%q,"displayName":%q}`, email, password, displayName))
	if rr.Code != http.StatusCreated {
		t.Fatalf("sign up: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	return parseBody(t, rr)
}

func TestSignUpReturnsSessionAndTokens(t *testing.T) {
	server := newTestServer(newMemoryStore(), true)
	payload := signUp(t, server, "ana@example.com", "secret1", "Ana Torres")

	accessToken, _ := payload["accessToken"].(string)
	refreshToken, _ := payload["refreshToken"].(string)
	if accessToken == "" || refreshToken == "" {
		t.Fatalf("expected both tokens, got %v", payload)
	}
	if payload["confirmationPending"] != false {
		t.Fatalf("expected no pending confirmation, got %v", payload["confirmationPending"])
	}
	if payload["profileCreated"] != true {
		t.Fatalf("expected profileCreated true, got %v", payload["profileCreated"])
	}
	if payload["displayName"] != "Ana Torres" {
		t.Fatalf("expected display name echoed, got %v", payload["displayName"])
	}
}

func TestSignUpValidationRejectedBeforeStore(t *testing.T) {
	cases := []struct {
		name  string
		body  string
		field string
	}{
		{"malformed email", `{"email":"not-an-email","password":"secret1","displayName":"Ana"}`, "email"},
		{"five char password", `{"email":"ana@example.com","password":"five5","displayName":"Ana"}`, "password"},
		{"blank display name", `{"email":"ana@example.com","password":"secret1","displayName":"  "}`, "displayName"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ms := newMemoryStore()
			server := newTestServer(ms, true)
			rr := doJSON(t, server, http.MethodPost, "/api/auth/signup", "", tc.body)
			if rr.Code != http.StatusUnprocessableEntity {
				t.Fatalf("expected 422, got %d body=%s", rr.Code, rr.Body.String())
			}
			payload := parseBody(t, rr)
			if payload["code"] != "VALIDATION_ERROR" {
				t.Fatalf("expected VALIDATION_ERROR, got %v", payload["code"])
			}
			details, _ := payload["details"].(map[string]any)
			if details["field"] != tc.field {
				t.Fatalf("expected failing field %q, got %v", tc.field, payload["details"])
			}
			if len(ms.users) != 0 {
				t.Fatalf("validation failures must not reach the store")
			}
		})
	}
}

func TestSignUpSixCharPasswordAccepted(t *testing.T) {
	server := newTestServer(newMemoryStore(), true)
	rr := doJSON(t, server, http.MethodPost, "/api/auth/signup", "",
		`{"email":"ana@example.com","password":"six666","displayName":"Ana"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("six characters is the minimum, expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestSignUpDuplicateEmailConflict(t *testing.T) {
	server := newTestServer(newMemoryStore(), true)
	signUp(t, server, "ana@example.com", "secret1", "Ana")

	rr := doJSON(t, server, http.MethodPost, "/api/auth/signup", "",
		`{"email":"ANA@Example.com","password":"secret2","displayName":"Other Ana"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate email, got %d body=%s", rr.Code, rr.Body.String())
	}
	if parseBody(t, rr)["code"] != "EMAIL_EXISTS" {
		t.Fatalf("expected EMAIL_EXISTS code")
	}
}

func TestConfirmationGatedSignUpFlow(t *testing.T) {
	server := newTestServer(newMemoryStore(), false)

	rr := doJSON(t, server, http.MethodPost, "/api/auth/signup", "",
		`{"email":"ana@example.com","password":"secret1","displayName":"Ana"}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202 pending confirmation, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := parseBody(t, rr)
	if payload["confirmationPending"] != true {
		t.Fatalf("expected confirmationPending true, got %v", payload)
	}
	confirmToken, _ := payload["devConfirmationToken"].(string)
	if confirmToken == "" {
		t.Fatalf("expected dev confirmation token without SMTP configured")
	}
	if _, hasSession := payload["accessToken"]; hasSession {
		t.Fatalf("no session may be issued before confirmation")
	}

	// Sign-in is refused until the token is presented.
	rr = doJSON(t, server, http.MethodPost, "/api/auth/signin", "",
		`{"email":"ana@example.com","password":"secret1"}`)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 before confirmation, got %d body=%s", rr.Code, rr.Body.String())
	}
	if parseBody(t, rr)["code"] != "EMAIL_NOT_CONFIRMED" {
		t.Fatalf("expected EMAIL_NOT_CONFIRMED code")
	}

	rr = doJSON(t, server, http.MethodPost, "/api/auth/confirm", "",
		fmt.Sprintf(`{"token":%q}`, confirmToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("confirm: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, server, http.MethodPost, "/api/auth/signin", "",
		`{"email":"ana@example.com","password":"secret1"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("sign in after confirmation: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if token, _ := parseBody(t, rr)["accessToken"].(string); token == "" {
		t.Fatalf("expected a session after confirmation")
	}
}

func TestConfirmRejectsBogusToken(t *testing.T) {
	server := newTestServer(newMemoryStore(), false)
	rr := doJSON(t, server, http.MethodPost, "/api/auth/confirm", "", `{"token":"bogus"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bogus token, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestSignInWrongPassword(t *testing.T) {
	server := newTestServer(newMemoryStore(), true)
	signUp(t, server, "ana@example.com", "secret1", "Ana")

	rr := doJSON(t, server, http.MethodPost, "/api/auth/signin", "",
		`{"email":"ana@example.com","password":"wrong-1"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d body=%s", rr.Code, rr.Body.String())
	}
	if parseBody(t, rr)["code"] != "INVALID_CREDENTIALS" {
		t.Fatalf("expected INVALID_CREDENTIALS code")
	}
}

func TestSignInRateLimitedAfterRepeatedFailures(t *testing.T) {
	server := newTestServer(newMemoryStore(), true)
	signUp(t, server, "ana@example.com", "secret1", "Ana")

	for i := 0; i < 5; i++ {
		rr := doJSON(t, server, http.MethodPost, "/api/auth/signin", "",
			`{"email":"ana@example.com","password":"wrong-1"}`)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i, rr.Code)
		}
	}

	// The limit trips even with the right password.
	rr := doJSON(t, server, http.MethodPost, "/api/auth/signin", "",
		`{"email":"ana@example.com","password":"secret1"}`)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d body=%s", rr.Code, rr.Body.String())
	}
	if parseBody(t, rr)["code"] != "RATE_LIMITED" {
		t.Fatalf("expected RATE_LIMITED code")
	}
}

func TestSessionRefreshRotatesToken(t *testing.T) {
	server := newTestServer(newMemoryStore(), true)
	payload := signUp(t, server, "ana@example.com", "secret1", "Ana")
	refreshToken, _ := payload["refreshToken"].(string)

	rr := doJSON(t, server, http.MethodPost, "/api/session/refresh", "",
		fmt.Sprintf(`{"refreshToken":%q}`, refreshToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	rotated := parseBody(t, rr)
	if rotated["refreshToken"] == refreshToken {
		t.Fatalf("refresh must rotate the token")
	}

	// The consumed token is dead.
	rr = doJSON(t, server, http.MethodPost, "/api/session/refresh", "",
		fmt.Sprintf(`{"refreshToken":%q}`, refreshToken))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 on replayed refresh token, got %d", rr.Code)
	}
}

func TestLogoutRevokesAccessAndRefresh(t *testing.T) {
	server := newTestServer(newMemoryStore(), true)
	payload := signUp(t, server, "ana@example.com", "secret1", "Ana")
	accessToken, _ := payload["accessToken"].(string)
	refreshToken, _ := payload["refreshToken"].(string)

	rr := doJSON(t, server, http.MethodPost, "/api/session/logout", accessToken,
		fmt.Sprintf(`{"refreshToken":%q}`, refreshToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, server, http.MethodGet, "/api/profile", accessToken, "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with revoked access token, got %d", rr.Code)
	}

	rr = doJSON(t, server, http.MethodPost, "/api/session/refresh", "",
		fmt.Sprintf(`{"refreshToken":%q}`, refreshToken))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with revoked refresh token, got %d", rr.Code)
	}
}

func TestSessionEndpointReportsAuthState(t *testing.T) {
	server := newTestServer(newMemoryStore(), true)

	rr := doJSON(t, server, http.MethodGet, "/api/session", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if parseBody(t, rr)["authenticated"] != false {
		t.Fatalf("expected unauthenticated state without a token")
	}

	payload := signUp(t, server, "ana@example.com", "secret1", "Ana")
	accessToken, _ := payload["accessToken"].(string)

	rr = doJSON(t, server, http.MethodGet, "/api/session", accessToken, "")
	got := parseBody(t, rr)
	if got["authenticated"] != true || got["email"] != "ana@example.com" {
		t.Fatalf("expected authenticated session, got %v", got)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	server := newTestServer(newMemoryStore(), true)
	signUp(t, server, "ana@example.com", "secret1", "Ana")

	rr := doJSON(t, server, http.MethodPost, "/api/auth/reset-password/request", "",
		`{"email":"ana@example.com"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("request reset: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	resetToken, _ := parseBody(t, rr)["devResetToken"].(string)
	if resetToken == "" {
		t.Fatalf("expected dev reset token without SMTP configured")
	}

	// New password below the minimum is rejected with the same validation
	// taxonomy as signup.
	rr = doJSON(t, server, http.MethodPost, "/api/auth/reset-password", "",
		fmt.Sprintf(`{"token":%q,"newPassword":"five5"}`, resetToken))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for short password, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, server, http.MethodPost, "/api/auth/reset-password", "",
		fmt.Sprintf(`{"token":%q,"newPassword":"newsecret"}`, resetToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("reset: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, server, http.MethodPost, "/api/auth/signin", "",
		`{"email":"ana@example.com","password":"secret1"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("old password must be dead, got %d", rr.Code)
	}
	rr = doJSON(t, server, http.MethodPost, "/api/auth/signin", "",
		`{"email":"ana@example.com","password":"newsecret"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("new password must work, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestPasswordResetNeverRevealsAccounts(t *testing.T) {
	server := newTestServer(newMemoryStore(), true)
	rr := doJSON(t, server, http.MethodPost, "/api/auth/reset-password/request", "",
		`{"email":"nobody@example.com"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for unknown email, got %d", rr.Code)
	}
	if _, ok := parseBody(t, rr)["devResetToken"]; ok {
		t.Fatalf("unknown email must not produce a token")
	}
}

func TestSignUpRejectsInvalidBody(t *testing.T) {
	server := newTestServer(newMemoryStore(), true)
	rr := doJSON(t, server, http.MethodPost, "/api/auth/signup", "", `{"email":`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", rr.Code, rr.Body.String())
	}
	if parseBody(t, rr)["code"] != "INVALID_BODY" {
		t.Fatalf("expected INVALID_BODY code")
	}
}
