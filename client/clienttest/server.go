// Package clienttest provides an in-memory fake of the identity provider's
// token, management and Account APIs for tests.
package clienttest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-jose/go-jose/v3"
	"github.com/golang-jwt/jwt/v5"

	"sociallink/client"
)

// Fixed credentials accepted by the fake.
const (
	MachineClientID     = "m-default"
	MachineClientSecret = "machine-secret"
	Resource            = "https://default.example.test/api"
	UserToken           = "user-access-token"
	UserPassword        = "test"
	signingKeyID        = "fake-key"
)

// LinkedIdentity records a successful POST api/my-account/identities.
type LinkedIdentity struct {
	PasswordRecordID string
	SocialRecordID   string
}

type record struct {
	kind          string
	state         string
	verified      bool
	connectorData map[string]string
}

// Server is a fake tenant. Zero-value knobs give a healthy tenant.
type Server struct {
	*httptest.Server

	// OmitSecrets makes application secret listings empty.
	OmitSecrets bool
	// ConnectorLookupStatus, when non-zero, is returned for GET api/connectors/{id}.
	ConnectorLookupStatus int
	// RejectSocialVerify fails POST api/verifications/social/verify with 422.
	RejectSocialVerify bool
	// GrantedScope, when set, replaces the requested scope in machine tokens.
	GrantedScope string

	mu            sync.Mutex
	key           *ecdsa.PrivateKey
	machineToken  string
	nextID        int
	calls         map[string]int
	applications  []client.Application
	secrets       map[string][]client.ApplicationSecret
	connectors    map[string]client.Connector
	users         []client.User
	accountCenter *client.AccountCenterSettings
	records       map[string]*record
	linked        []LinkedIdentity
}

// NewServer starts a fake tenant. Close it when done.
func NewServer() *Server {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		panic(fmt.Sprintf("clienttest: generate key: %v", err))
	}
	s := &Server{
		key:        key,
		calls:      make(map[string]int),
		secrets:    make(map[string][]client.ApplicationSecret),
		connectors: make(map[string]client.Connector),
		records:    make(map[string]*record),
	}

	r := chi.NewRouter()
	r.Use(s.count)
	r.Post("/oidc/token", s.handleToken)
	r.Get("/oidc/jwks", s.handleJWKS)

	r.Group(func(r chi.Router) {
		r.Use(s.requireBearer(func() string { return s.machineToken }))
		r.Get("/api/applications", s.handleListApplications)
		r.Post("/api/applications", s.handleCreateApplication)
		r.Get("/api/applications/{id}/secrets", s.handleListSecrets)
		r.Get("/api/connectors/{id}", s.handleGetConnector)
		r.Post("/api/connectors", s.handleCreateConnector)
		r.Patch("/api/account-center", s.handleAccountCenter)
		r.Get("/api/users", s.handleListUsers)
		r.Post("/api/users", s.handleCreateUser)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireBearer(func() string { return UserToken }))
		r.Post("/api/verifications/password", s.handlePasswordVerification)
		r.Post("/api/verifications/social", s.handleSocialVerification)
		r.Post("/api/verifications/social/verify", s.handleSocialVerify)
		r.Post("/api/my-account/identities", s.handleLinkIdentity)
	})

	s.Server = httptest.NewServer(r)
	return s
}

// Issuer is the iss claim of machine tokens.
func (s *Server) Issuer() string {
	return s.URL + "/oidc"
}

// Calls returns how many times "METHOD /path" was requested.
func (s *Server) Calls(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[key]
}

// TotalCalls returns the number of requests served.
func (s *Server) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

// Applications returns the stored applications.
func (s *Server) Applications() []client.Application {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]client.Application(nil), s.applications...)
}

// Users returns the stored users.
func (s *Server) Users() []client.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]client.User(nil), s.users...)
}

// Connectors returns the number of stored connectors.
func (s *Server) Connectors() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.connectors)
}

// AccountCenter returns the last account center settings, or nil.
func (s *Server) AccountCenter() *client.AccountCenterSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accountCenter
}

// Linked returns the identities linked so far.
func (s *Server) Linked() []LinkedIdentity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]LinkedIdentity(nil), s.linked...)
}

// SocialState returns the state submitted for a social verification record.
func (s *Server) SocialState(recordID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[recordID]; ok {
		return rec.state
	}
	return ""
}

func (s *Server) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[r.Method+" "+r.URL.Path]++
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireBearer(want func() string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s.mu.Lock()
			expected := want()
			s.mu.Unlock()
			if expected == "" || r.Header.Get("Authorization") != "Bearer "+expected {
				writeError(w, http.StatusUnauthorized, "auth.unauthorized", "Unauthorized.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) newID(prefix string) string {
	s.nextID++
	return fmt.Sprintf("%s-%d", prefix, s.nextID)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid form")
		return
	}
	if r.FormValue("grant_type") != "client_credentials" ||
		r.FormValue("client_id") != MachineClientID ||
		r.FormValue("client_secret") != MachineClientSecret {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_client","error_description":"client authentication failed"}`))
		return
	}

	scope := r.FormValue("scope")
	if s.GrantedScope != "" {
		scope = s.GrantedScope
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":       s.Issuer(),
		"sub":       MachineClientID,
		"client_id": MachineClientID,
		"aud":       r.FormValue("resource"),
		"scope":     scope,
		"iat":       now.Unix(),
		"exp":       now.Add(time.Hour).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	tok.Header["kid"] = signingKeyID
	signed, err := tok.SignedString(s.key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	s.mu.Lock()
	s.machineToken = signed
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": signed,
		"expires_in":   3600,
		"scope":        scope,
		"token_type":   "Bearer",
	})
}

func (s *Server) handleJWKS(w http.ResponseWriter, r *http.Request) {
	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &s.key.PublicKey,
		KeyID:     signingKeyID,
		Algorithm: string(jose.ES256),
		Use:       "sig",
	}}}
	writeJSON(w, http.StatusOK, set)
}

func (s *Server) handleListApplications(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("search.name")
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []client.Application{}
	for _, app := range s.applications {
		if app.Name == name {
			out = append(out, app)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateApplication(w http.ResponseWriter, r *http.Request) {
	var in client.CreateApplicationInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Name == "" || in.Type == "" {
		writeError(w, http.StatusBadRequest, "guard.invalid_input", "invalid application")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	app := client.Application{ID: s.newID("app"), Name: in.Name, Type: in.Type}
	s.applications = append(s.applications, app)
	if !s.OmitSecrets {
		s.secrets[app.ID] = []client.ApplicationSecret{{ApplicationID: app.ID, Name: "Default secret", Value: "secret-" + app.ID}}
	}
	writeJSON(w, http.StatusOK, app)
}

func (s *Server) handleListSecrets(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	defer s.mu.Unlock()
	secrets := s.secrets[id]
	if s.OmitSecrets || secrets == nil {
		secrets = []client.ApplicationSecret{}
	}
	writeJSON(w, http.StatusOK, secrets)
}

func (s *Server) handleGetConnector(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ConnectorLookupStatus != 0 {
		writeError(w, s.ConnectorLookupStatus, "connector.lookup_failed", "forced failure")
		return
	}
	conn, ok := s.connectors[id]
	if !ok {
		writeError(w, http.StatusNotFound, "entity.not_found", "The connector with ID "+id+" was not found.")
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

func (s *Server) handleCreateConnector(w http.ResponseWriter, r *http.Request) {
	var in client.CreateConnectorInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.ID == "" || in.ConnectorID == "" {
		writeError(w, http.StatusBadRequest, "guard.invalid_input", "invalid connector")
		return
	}
	if in.Config["clientId"] == nil || in.Config["clientSecret"] == nil {
		writeError(w, http.StatusBadRequest, "connector.invalid_config", "clientId and clientSecret are required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.connectors[in.ID]; exists {
		writeError(w, http.StatusUnprocessableEntity, "connector.already_exists", "connector exists")
		return
	}
	conn := client.Connector{ID: in.ID, ConnectorID: in.ConnectorID}
	s.connectors[in.ID] = conn
	writeJSON(w, http.StatusOK, conn)
}

func (s *Server) handleAccountCenter(w http.ResponseWriter, r *http.Request) {
	var in client.AccountCenterSettings
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "guard.invalid_input", "invalid settings")
		return
	}
	s.mu.Lock()
	s.accountCenter = &in
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, in)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("search.username")
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []client.User{}
	for _, u := range s.users {
		if u.Username == username {
			out = append(out, u)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var in client.CreateUserInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Username == "" {
		writeError(w, http.StatusBadRequest, "guard.invalid_input", "invalid user")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	user := client.User{ID: s.newID("user"), Username: in.Username, CreatedAt: time.Now().UnixMilli()}
	s.users = append(s.users, user)
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handlePasswordVerification(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "guard.invalid_input", "invalid body")
		return
	}
	if in.Password != UserPassword {
		writeError(w, http.StatusUnprocessableEntity, "session.invalid_credentials", "Wrong credentials. Please check your input.")
		return
	}
	s.mu.Lock()
	id := s.newID("pwd")
	s.records[id] = &record{kind: "password", verified: true}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, client.VerificationRecord{ID: id, ExpiresAt: expiry()})
}

func (s *Server) handleSocialVerification(w http.ResponseWriter, r *http.Request) {
	var in client.SocialVerificationInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.ConnectorID == "" || in.RedirectURI == "" || in.State == "" {
		writeError(w, http.StatusBadRequest, "guard.invalid_input", "connectorId, redirectUri and state are required")
		return
	}
	s.mu.Lock()
	id := s.newID("social")
	s.records[id] = &record{kind: "social", state: in.State}
	s.mu.Unlock()

	authURI := "https://github.com/login/oauth/authorize?client_id=gh&redirect_uri=" + in.RedirectURI + "&state=" + in.State
	writeJSON(w, http.StatusOK, client.SocialVerification{
		VerificationRecord: client.VerificationRecord{ID: id, ExpiresAt: expiry()},
		AuthorizationURI:   authURI,
	})
}

func (s *Server) handleSocialVerify(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ConnectorData        map[string]string `json:"connectorData"`
		VerificationRecordID string            `json:"verificationRecordId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "guard.invalid_input", "invalid body")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[in.VerificationRecordID]
	if !ok || rec.kind != "social" {
		writeError(w, http.StatusNotFound, "verification_record.not_found", "record not found")
		return
	}
	if s.RejectSocialVerify || in.ConnectorData["code"] == "" || in.ConnectorData["state"] != rec.state {
		writeError(w, http.StatusUnprocessableEntity, "connector.authorization_failed", "social authorization failed")
		return
	}
	rec.verified = true
	rec.connectorData = in.ConnectorData
	writeJSON(w, http.StatusOK, client.VerificationRecord{ID: in.VerificationRecordID})
}

func (s *Server) handleLinkIdentity(w http.ResponseWriter, r *http.Request) {
	var in struct {
		NewIdentifierVerificationRecordID string `json:"newIdentifierVerificationRecordId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "guard.invalid_input", "invalid body")
		return
	}
	pwdID := r.Header.Get(client.VerificationIDHeader)

	s.mu.Lock()
	defer s.mu.Unlock()
	pwd, ok := s.records[pwdID]
	if !ok || pwd.kind != "password" || !pwd.verified {
		writeError(w, http.StatusUnauthorized, "verification_record.permission_denied", "Permission denied, re-authentication is required.")
		return
	}
	social, ok := s.records[in.NewIdentifierVerificationRecordID]
	if !ok || social.kind != "social" || !social.verified {
		writeError(w, http.StatusBadRequest, "verification_record.not_verified", "social verification is not verified")
		return
	}
	s.linked = append(s.linked, LinkedIdentity{PasswordRecordID: pwdID, SocialRecordID: in.NewIdentifierVerificationRecordID})
	w.WriteHeader(http.StatusNoContent)
}

func expiry() string {
	return time.Now().Add(10 * time.Minute).UTC().Format(time.RFC3339Nano)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"code": code, "message": strings.TrimSpace(message)})
}
