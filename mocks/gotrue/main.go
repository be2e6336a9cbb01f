package main

import (
	"crypto/sha256"
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultPort      = "9999"
	defaultSecret    = "dev-secret-key-change-in-production"
	defaultLatencyMs = "50"
	defaultTTL       = "3600"
)

type tokenRequest struct {
	RefreshToken string `json:"refresh_token"`
	AuthCode     string `json:"auth_code"`
	CodeVerifier string `json:"code_verifier"`
}

type user struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	User         user   `json:"user"`
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg,omitempty"`
}

type claims struct {
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	jwt.RegisteredClaims
}

var (
	secret    = []byte(getEnv("JWT_SECRET", defaultSecret))
	apiKey    = os.Getenv("API_KEY")
	latencyMs = getEnvInt("LATENCY_MS", defaultLatencyMs)
	tokenTTL  = getEnvInt("TOKEN_TTL_SECONDS", defaultTTL)
)

// Magic codes used by local scenarios.
const (
	codeRejected    = "BADCODE"
	codeUnavailable = "DOWN"
)

// refresh token -> user, so a refresh returns the same identity.
var (
	mu       sync.Mutex
	sessions = map[string]user{}
)

func main() {
	port := getEnv("PORT", defaultPort)

	http.HandleFunc("/health", handleHealth)
	http.HandleFunc("/authorize", handleAuthorize)
	http.HandleFunc("/token", handleToken)
	http.HandleFunc("/logout", handleLogout)

	log.Printf("Mock GoTrue starting on port %s", port)
	log.Printf("Simulated latency: %dms, token ttl: %ds", latencyMs, tokenTTL)

	if err := http.ListenAndServe(":"+port, nil); err != nil {
		log.Fatal(err)
	}
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy", "service": "gotrue-mock"})
}

// handleAuthorize skips the login UI and bounces straight back to
// redirect_to with a code. The code embeds the user id when email is given.
func handleAuthorize(w http.ResponseWriter, r *http.Request) {
	redirectTo := r.URL.Query().Get("redirect_to")
	if redirectTo == "" {
		sendError(w, http.StatusBadRequest, "invalid_request", "redirect_to is required")
		return
	}
	target, err := url.Parse(redirectTo)
	if err != nil {
		sendError(w, http.StatusBadRequest, "invalid_request", "redirect_to is not a url")
		return
	}
	code := "user-" + userFor(r.URL.Query().Get("email")).ID
	q := target.Query()
	q.Set("code", code)
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func handleToken(w http.ResponseWriter, r *http.Request) {
	time.Sleep(time.Duration(latencyMs) * time.Millisecond)
	log.Printf("Incoming request: %s %s", r.Method, r.URL.String())

	if r.Method != http.MethodPost {
		sendError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST only")
		return
	}
	if apiKey != "" && r.Header.Get("apikey") != apiKey {
		sendError(w, http.StatusUnauthorized, "invalid_api_key", "missing or invalid apikey header")
		return
	}

	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid_request", "invalid request body: "+err.Error())
		return
	}

	switch r.URL.Query().Get("grant_type") {
	case "pkce":
		handleExchange(w, req)
	case "refresh_token":
		handleRefresh(w, req)
	default:
		sendError(w, http.StatusBadRequest, "unsupported_grant_type", "grant_type must be pkce or refresh_token")
	}
}

func handleExchange(w http.ResponseWriter, req tokenRequest) {
	switch req.AuthCode {
	case "":
		sendError(w, http.StatusBadRequest, "invalid_request", "auth_code is required")
		return
	case codeRejected:
		sendError(w, http.StatusBadRequest, "invalid_grant", "invalid flow state, no valid flow state found")
		return
	case codeUnavailable:
		sendError(w, http.StatusServiceUnavailable, "service_unavailable", "auth service is down")
		return
	}

	u := userFromCode(req.AuthCode)
	issue(w, u)
	log.Printf("Code exchanged: %s -> %s", req.AuthCode, u.ID)
}

func handleRefresh(w http.ResponseWriter, req tokenRequest) {
	mu.Lock()
	u, ok := sessions[req.RefreshToken]
	if ok {
		delete(sessions, req.RefreshToken)
	}
	mu.Unlock()
	if !ok {
		sendError(w, http.StatusBadRequest, "invalid_grant", "Invalid Refresh Token: Refresh Token Not Found")
		return
	}
	issue(w, u)
	log.Printf("Session refreshed for %s", u.ID)
}

func handleLogout(w http.ResponseWriter, r *http.Request) {
	time.Sleep(time.Duration(latencyMs) * time.Millisecond)
	if r.Method != http.MethodPost {
		sendError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST only")
		return
	}
	bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || bearer == "" {
		sendError(w, http.StatusUnauthorized, "no_authorization", "This endpoint requires a Bearer token")
		return
	}
	subject := subjectOf(bearer)
	if subject == "" {
		sendError(w, http.StatusUnauthorized, "bad_jwt", "invalid JWT")
		return
	}
	mu.Lock()
	for token, u := range sessions {
		if u.ID == subject {
			delete(sessions, token)
		}
	}
	mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
	log.Printf("Signed out %s", subject)
}

func issue(w http.ResponseWriter, u user) {
	now := time.Now()
	expires := now.Add(time.Duration(tokenTTL) * time.Second)
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Email:     u.Email,
		Role:      "authenticated",
		SessionID: uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			Audience:  jwt.ClaimStrings{"authenticated"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}).SignedString(secret)
	if err != nil {
		sendError(w, http.StatusInternalServerError, "unexpected_failure", err.Error())
		return
	}

	refresh := uuid.NewString()
	mu.Lock()
	sessions[refresh] = u
	mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(tokenResponse{
		AccessToken:  access,
		TokenType:    "bearer",
		RefreshToken: refresh,
		ExpiresIn:    tokenTTL,
		ExpiresAt:    expires.Unix(),
		User:         u,
	})
}

// userFromCode maps "user-<uuid>" codes to that user. Any other code gets a
// deterministic user derived from the code.
func userFromCode(code string) user {
	if raw, ok := strings.CutPrefix(code, "user-"); ok {
		if parsed, err := uuid.Parse(raw); err == nil {
			return user{ID: parsed.String(), Email: parsed.String()[:8] + "@example.test"}
		}
	}
	return userFor(code)
}

func userFor(seed string) user {
	if seed == "" {
		seed = uuid.NewString()
	}
	sum := sha256.Sum256([]byte(seed))
	u, _ := uuid.FromBytes(sum[:16])
	email := seed
	if !strings.Contains(email, "@") {
		email = u.String()[:8] + "@example.test"
	}
	return user{ID: u.String(), Email: email}
}

func subjectOf(token string) string {
	parsed := &claims{}
	_, err := jwt.ParseWithClaims(token, parsed,
		func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return ""
	}
	return parsed.Subject
}

func sendError(w http.ResponseWriter, code int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error:            kind,
		ErrorDescription: message,
		Msg:              message,
	})
	log.Printf("Error response: %d - %s", code, message)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key, defaultValue string) int {
	value := getEnv(key, defaultValue)
	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Invalid integer value for %s, using default: %s", key, defaultValue)
		intValue, _ = strconv.Atoi(defaultValue)
	}
	return intValue
}
