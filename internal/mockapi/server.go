// Package mockapi is an in-process stand-in for the dashboard REST API.
//
// It issues HS256 access/refresh tokens on /auth/login and /auth/refresh,
// serves /auth/me and the users, products and carts collections, and can be
// told to expire access tokens or reject refreshes so the client's 401
// handling can be exercised.
package mockapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenAccess  = "access"
	tokenRefresh = "refresh"
)

// Account is a user that can log in.
type Account struct {
	ID        int    `json:"id"`
	Username  string `json:"username"`
	Password  string `json:"-"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Gender    string `json:"gender"`
	Image     string `json:"image"`
}

// Config configures a Server. Zero values use defaults.
type Config struct {
	Secret     []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Accounts   []Account
	Now        func() time.Time
}

type claims struct {
	Kind       string `json:"typ"`
	Generation int64  `json:"gen"`
	jwt.RegisteredClaims
}

// Server implements http.Handler.
type Server struct {
	cfg Config
	mux *http.ServeMux

	accessGen  atomic.Int64
	refreshGen atomic.Int64

	loginCalls   atomic.Int32
	refreshCalls atomic.Int32
	failRefresh  atomic.Bool
	refreshDelay atomic.Int64

	mu          sync.Mutex
	collections map[string][]map[string]any
	nextID      map[string]int
}

// New creates a Server seeded with demo data.
func New(cfg Config) *Server {
	if len(cfg.Secret) == 0 {
		cfg.Secret = []byte(uuid.NewString())
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = time.Hour
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 30 * 24 * time.Hour
	}
	if len(cfg.Accounts) == 0 {
		cfg.Accounts = []Account{{
			ID:        1,
			Username:  "emilys",
			Password:  "emilyspass",
			Email:     "emily.johnson@x.dummyjson.com",
			FirstName: "Emily",
			LastName:  "Johnson",
			Gender:    "female",
			Image:     "https://dummyjson.com/icon/emilys/128",
		}}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Server{
		cfg:         cfg,
		mux:         http.NewServeMux(),
		collections: seed(),
		nextID:      map[string]int{},
	}
	for name, items := range s.collections {
		s.nextID[name] = len(items) + 1
	}

	s.mux.HandleFunc("POST /auth/login", s.handleLogin)
	s.mux.HandleFunc("POST /auth/refresh", s.handleRefresh)
	s.mux.HandleFunc("GET /auth/me", s.authenticated(s.handleMe))
	s.mux.HandleFunc("GET /{collection}", s.authenticated(s.handleList))
	s.mux.HandleFunc("GET /{collection}/search", s.authenticated(s.handleSearch))
	s.mux.HandleFunc("GET /{collection}/filter", s.authenticated(s.handleFilter))
	s.mux.HandleFunc("GET /products/categories", s.authenticated(s.handleCategories))
	s.mux.HandleFunc("GET /{collection}/{id}", s.authenticated(s.handleGet))
	s.mux.HandleFunc("POST /{collection}/add", s.authenticated(s.handleAdd))
	s.mux.HandleFunc("PUT /{collection}/{id}", s.authenticated(s.handleUpdate))
	s.mux.HandleFunc("PATCH /{collection}/{id}", s.authenticated(s.handleUpdate))
	s.mux.HandleFunc("DELETE /{collection}/{id}", s.authenticated(s.handleDelete))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// LoginCalls returns the number of /auth/login requests served.
func (s *Server) LoginCalls() int { return int(s.loginCalls.Load()) }

// RefreshCalls returns the number of /auth/refresh requests served.
func (s *Server) RefreshCalls() int { return int(s.refreshCalls.Load()) }

// ExpireAccessTokens invalidates every access token issued so far.
func (s *Server) ExpireAccessTokens() { s.accessGen.Add(1) }

// RevokeRefreshTokens invalidates every refresh token issued so far.
func (s *Server) RevokeRefreshTokens() { s.refreshGen.Add(1) }

// SetFailRefresh makes /auth/refresh answer 400 while fail is true.
func (s *Server) SetFailRefresh(fail bool) { s.failRefresh.Store(fail) }

// SetRefreshDelay delays every /auth/refresh response by d.
func (s *Server) SetRefreshDelay(d time.Duration) { s.refreshDelay.Store(int64(d)) }

// IssueTokens returns a fresh pair for username without a login call.
func (s *Server) IssueTokens(username string) (access, refresh string, err error) {
	access, err = s.sign(username, tokenAccess, s.cfg.AccessTTL)
	if err != nil {
		return "", "", err
	}
	refresh, err = s.sign(username, tokenRefresh, s.cfg.RefreshTTL)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

func (s *Server) sign(username, kind string, ttl time.Duration) (string, error) {
	gen := s.accessGen.Load()
	if kind == tokenRefresh {
		gen = s.refreshGen.Load()
	}
	now := s.cfg.Now()
	c := claims{
		Kind:       kind,
		Generation: gen,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.cfg.Secret)
}

func (s *Server) verify(raw, kind string) (*claims, error) {
	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return s.cfg.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.cfg.Now))
	if err != nil {
		return nil, err
	}
	if c.Kind != kind {
		return nil, fmt.Errorf("expected %s token, got %s", kind, c.Kind)
	}
	gen := s.accessGen.Load()
	if kind == tokenRefresh {
		gen = s.refreshGen.Load()
	}
	if c.Generation != gen {
		return nil, errors.New("token revoked")
	}
	return &c, nil
}

func (s *Server) account(username string) (Account, bool) {
	for _, a := range s.cfg.Accounts {
		if a.Username == username {
			return a, true
		}
	}
	return Account{}, false
}

func (s *Server) ttl(mins int, fallback time.Duration) time.Duration {
	if mins > 0 {
		return time.Duration(mins) * time.Minute
	}
	return fallback
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.loginCalls.Add(1)

	var body struct {
		Username      string `json:"username"`
		Password      string `json:"password"`
		ExpiresInMins int    `json:"expiresInMins"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	acc, ok := s.account(body.Username)
	if !ok || acc.Password != body.Password {
		writeMessage(w, http.StatusBadRequest, "Invalid credentials")
		return
	}

	access, err := s.sign(acc.Username, tokenAccess, s.ttl(body.ExpiresInMins, s.cfg.AccessTTL))
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, err.Error())
		return
	}
	refresh, err := s.sign(acc.Username, tokenRefresh, s.cfg.RefreshTTL)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Account
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}{acc, access, refresh})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refreshCalls.Add(1)
	if d := time.Duration(s.refreshDelay.Load()); d > 0 {
		select {
		case <-time.After(d):
		case <-r.Context().Done():
			return
		}
	}

	var body struct {
		RefreshToken  string `json:"refreshToken"`
		ExpiresInMins int    `json:"expiresInMins"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.RefreshToken == "" {
		writeMessage(w, http.StatusBadRequest, "Refresh token required")
		return
	}
	if s.failRefresh.Load() {
		writeMessage(w, http.StatusBadRequest, "Invalid refresh token")
		return
	}

	c, err := s.verify(body.RefreshToken, tokenRefresh)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid refresh token")
		return
	}

	access, err := s.sign(c.Subject, tokenAccess, s.ttl(body.ExpiresInMins, s.cfg.AccessTTL))
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, err.Error())
		return
	}
	refresh, err := s.sign(c.Subject, tokenRefresh, s.cfg.RefreshTTL)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"accessToken": access, "refreshToken": refresh})
}

type ctxHandler func(w http.ResponseWriter, r *http.Request, c *claims)

func (s *Server) authenticated(next ctxHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeMessage(w, http.StatusUnauthorized, "Access Token is required")
			return
		}
		c, err := s.verify(raw, tokenAccess)
		if err != nil {
			writeMessage(w, http.StatusUnauthorized, "Token Expired!")
			return
		}
		next(w, r, c)
	}
}

func (s *Server) handleMe(w http.ResponseWriter, _ *http.Request, c *claims) {
	acc, ok := s.account(c.Subject)
	if !ok {
		writeMessage(w, http.StatusNotFound, "User not found")
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (s *Server) collection(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := r.PathValue("collection")
	s.mu.Lock()
	_, ok := s.collections[name]
	s.mu.Unlock()
	if !ok {
		writeMessage(w, http.StatusNotFound, fmt.Sprintf("Resource %q not found", name))
	}
	return name, ok
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request, _ *claims) {
	name, ok := s.collection(w, r)
	if !ok {
		return
	}
	limit := intParam(r, "limit", 30)
	skip := intParam(r, "skip", 0)

	s.mu.Lock()
	items := s.collections[name]
	total := len(items)
	page := window(items, skip, limit)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{name: page, "total": total, "skip": skip, "limit": len(page)})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request, _ *claims) {
	name, ok := s.collection(w, r)
	if !ok {
		return
	}
	q := strings.ToLower(r.URL.Query().Get("q"))

	s.mu.Lock()
	var matches []map[string]any
	for _, item := range s.collections[name] {
		if matchesQuery(item, q) {
			matches = append(matches, item)
		}
	}
	s.mu.Unlock()
	if matches == nil {
		matches = []map[string]any{}
	}

	writeJSON(w, http.StatusOK, map[string]any{name: matches, "total": len(matches), "skip": 0, "limit": len(matches)})
}

// handleFilter matches items whose key equals value. Dotted keys reach into
// nested objects, as in key=hair.color.
func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request, _ *claims) {
	name, ok := s.collection(w, r)
	if !ok {
		return
	}
	key, value := r.URL.Query().Get("key"), r.URL.Query().Get("value")
	if key == "" {
		writeMessage(w, http.StatusBadRequest, "Filter key is required")
		return
	}

	s.mu.Lock()
	matches := []map[string]any{}
	for _, item := range s.collections[name] {
		if v, ok := lookup(item, key); ok && strings.EqualFold(fmt.Sprint(v), value) {
			matches = append(matches, item)
		}
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{name: matches, "total": len(matches), "skip": 0, "limit": len(matches)})
}

func (s *Server) handleCategories(w http.ResponseWriter, _ *http.Request, _ *claims) {
	type category struct {
		Slug string `json:"slug"`
		Name string `json:"name"`
		URL  string `json:"url"`
	}

	s.mu.Lock()
	seen := map[string]bool{}
	out := []category{}
	for _, item := range s.collections["products"] {
		slug, _ := item["category"].(string)
		if slug == "" || seen[slug] {
			continue
		}
		seen[slug] = true
		out = append(out, category{
			Slug: slug,
			Name: strings.ToUpper(slug[:1]) + strings.ReplaceAll(slug[1:], "-", " "),
			URL:  "/products/category/" + slug,
		})
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, _ *claims) {
	name, ok := s.collection(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	item, _ := s.find(name, r.PathValue("id"))
	s.mu.Unlock()
	if item == nil {
		writeMessage(w, http.StatusNotFound, "Item not found")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request, _ *claims) {
	name, ok := s.collection(w, r)
	if !ok {
		return
	}
	var item map[string]any
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	s.mu.Lock()
	item["id"] = s.nextID[name]
	s.nextID[name]++
	s.collections[name] = append(s.collections[name], item)
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request, _ *claims) {
	name, ok := s.collection(w, r)
	if !ok {
		return
	}
	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	s.mu.Lock()
	item, _ := s.find(name, r.PathValue("id"))
	if item != nil {
		for k, v := range patch {
			if k != "id" {
				item[k] = v
			}
		}
	}
	s.mu.Unlock()
	if item == nil {
		writeMessage(w, http.StatusNotFound, "Item not found")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, _ *claims) {
	name, ok := s.collection(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	item, idx := s.find(name, r.PathValue("id"))
	if item != nil {
		items := s.collections[name]
		s.collections[name] = append(items[:idx:idx], items[idx+1:]...)
	}
	s.mu.Unlock()
	if item == nil {
		writeMessage(w, http.StatusNotFound, "Item not found")
		return
	}

	deleted := make(map[string]any, len(item)+2)
	for k, v := range item {
		deleted[k] = v
	}
	deleted["isDeleted"] = true
	deleted["deletedOn"] = s.cfg.Now().UTC().Format(time.RFC3339)
	writeJSON(w, http.StatusOK, deleted)
}

// find returns the item with id and its index. Callers hold s.mu.
func (s *Server) find(name, rawID string) (map[string]any, int) {
	id, err := strconv.Atoi(rawID)
	if err != nil {
		return nil, -1
	}
	for i, item := range s.collections[name] {
		if itemID(item) == id {
			return item, i
		}
	}
	return nil, -1
}

func itemID(item map[string]any) int {
	switch v := item["id"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func lookup(item map[string]any, key string) (any, bool) {
	var cur any = item
	for part := range strings.SplitSeq(key, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func matchesQuery(item map[string]any, q string) bool {
	if q == "" {
		return true
	}
	for _, v := range item {
		if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), q) {
			return true
		}
	}
	return false
}

func window(items []map[string]any, skip, limit int) []map[string]any {
	if skip >= len(items) {
		return []map[string]any{}
	}
	end := len(items)
	if limit > 0 && skip+limit < end {
		end = skip + limit
	}
	return items[skip:end]
}

func intParam(r *http.Request, key string, fallback int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}
