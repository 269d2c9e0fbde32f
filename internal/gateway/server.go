// Package gateway serves recipes, session tokens and the websocket room relay
// the cook session connects to.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/iksnae/yeschef-session/internal"
)

const serviceName = "yeschef-gateway"

// Server is the HTTP front of the gateway.
type Server struct {
	cfg     internal.ServerConfig
	catalog *Catalog
	issuer  *TokenIssuer
	limiter *clientLimiter
	metrics *Metrics
	relay   *Relay
	now     func() time.Time
}

// NewServer wires the gateway handlers.
func NewServer(cfg internal.ServerConfig, catalog *Catalog) (*Server, error) {
	if catalog == nil {
		return nil, errors.New("catalog must not be nil")
	}
	issuer, err := NewTokenIssuer(cfg.APIKey, cfg.APISecret, cfg.TokenTTL)
	if err != nil {
		return nil, err
	}
	metrics := NewMetrics()
	return &Server{
		cfg:     cfg,
		catalog: catalog,
		issuer:  issuer,
		limiter: newClientLimiter(cfg.TokenRPS, cfg.TokenBurst),
		metrics: metrics,
		relay:   NewRelay(issuer, metrics),
		now:     time.Now,
	}, nil
}

// Issuer returns the token issuer, for tools that mint agent tokens.
func (s *Server) Issuer() *TokenIssuer { return s.issuer }

// Metrics returns the gateway metrics.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Handler returns the gateway's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/recipes/", s.handleRecipe)
	mux.HandleFunc("/live/token", s.handleToken)
	mux.Handle("/rtc", s.relay)
	mux.Handle("/metrics", s.metrics.Handler())
	return mux
}

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		internal.LogInfo("Gateway listening on %s", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		internal.LogInfo("Gateway shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": serviceName})
}

func (s *Server) handleRecipe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "invalid_request_error", "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/recipes/")
	if id == "" {
		writeJSON(w, http.StatusOK, map[string][]string{"recipes": s.catalog.IDs()})
		return
	}
	recipe, ok := s.catalog.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found_error", "recipe not found")
		return
	}
	writeJSON(w, http.StatusOK, recipe)
}

// tokenRequest accepts both workflow_id and the older recipe_id field.
type tokenRequest struct {
	WorkflowID     string `json:"workflow_id"`
	RecipeID       string `json:"recipe_id"`
	UserID         string `json:"user_id"`
	UserName       string `json:"user_name"`
	ResumeFromStep *int   `json:"resume_from_step"`
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "invalid_request_error", "method not allowed")
		return
	}

	if ok, wait := s.limiter.allow(clientKey(r), s.now()); !ok {
		s.metrics.tokenRequest("rate_limited")
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
		writeError(w, http.StatusTooManyRequests, "rate_limit_error", "too many session requests, try again shortly")
		return
	}

	var req tokenRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		s.metrics.tokenRequest("invalid")
		writeError(w, http.StatusBadRequest, "invalid_request_error", "invalid JSON body")
		return
	}
	recipeID := req.WorkflowID
	if recipeID == "" {
		recipeID = req.RecipeID
	}
	recipe, ok := s.catalog.Get(recipeID)
	if !ok {
		s.metrics.tokenRequest("not_found")
		writeError(w, http.StatusNotFound, "not_found_error", "recipe not found")
		return
	}
	if req.ResumeFromStep != nil && (*req.ResumeFromStep < 1 || *req.ResumeFromStep > len(recipe.Steps)) {
		s.metrics.tokenRequest("invalid")
		writeError(w, http.StatusBadRequest, "invalid_request_error", fmt.Sprintf("resume_from_step must be between 1 and %d", len(recipe.Steps)))
		return
	}

	identity := req.UserID
	if identity == "" {
		identity = "cook-" + uuid.NewString()[:8]
	}
	name := req.UserName
	if name == "" {
		name = "Chef"
	}
	room := RoomName(recipeID)

	roomMeta := map[string]any{"recipe_id": recipeID, "title": recipe.Title, "user_name": name}
	if req.ResumeFromStep != nil {
		roomMeta["resume_from_step"] = *req.ResumeFromStep
	}

	token, err := s.issuer.Issue(identity, name, room, map[string]string{"role": "cook"}, roomMeta)
	if err != nil {
		s.metrics.tokenRequest("error")
		internal.LogError("Failed to sign token: %v", err)
		writeError(w, http.StatusInternalServerError, "api_error", "failed to create session token")
		return
	}

	s.metrics.tokenRequest("issued")
	internal.Logger().Info().Str("recipe", recipeID).Str("room", room).Str("identity", identity).Msg("Issued session token")
	writeJSON(w, http.StatusOK, internal.SessionCredential{
		AccessToken: token,
		RoomName:    room,
		ServiceURL:  s.cfg.ServiceURL,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	var body struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	body.Error.Type = kind
	body.Error.Message = message
	writeJSON(w, status, body)
}
