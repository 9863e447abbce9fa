package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	chi "github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"guild-rewards-bot/internal/domain"
)

// Пути подписанных эндпоинтов.
const (
	GitHubWebhookPath = "/api/v1/github/webhook"
	InteractionsPath  = "/api/v1/discord/interactions"
)

const maxBodyBytes = 5 << 20

// GitHubIngestor принимает подписанные события репозиториев.
type GitHubIngestor interface {
	IngestGitHub(ctx context.Context, rawBody []byte, headers http.Header) (domain.DeliveryOutcome, error)
}

// InteractionHandler отвечает на подписанные interaction-запросы.
type InteractionHandler interface {
	HandleInteraction(ctx context.Context, rawBody []byte, headers http.Header) (*discordgo.InteractionResponse, error)
}

// Server оборачивает chi.Router с базовыми middlewares.
type Server struct {
	Router chi.Router
	log    zerolog.Logger
	srv    *http.Server
}

// NewServer создаёт HTTP сервер.
func NewServer(logger zerolog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return &Server{Router: r, log: logger.With().Str("component", "http").Logger()}
}

// MountGitHubWebhook регистрирует эндпоинт событий репозиториев.
// Источник не видит разницы между доставкой, постановкой в очередь и игнорированием.
func (s *Server) MountGitHubWebhook(ingestor GitHubIngestor) {
	s.Router.Post(GitHubWebhookPath, func(w http.ResponseWriter, r *http.Request) {
		body, ok := readBody(w, r)
		if !ok {
			return
		}
		outcome, err := ingestor.IngestGitHub(r.Context(), body, r.Header)
		switch {
		case errors.Is(err, domain.ErrAuth):
			writeError(w, http.StatusUnauthorized, "invalid signature")
		case errors.Is(err, domain.ErrMissingRouting):
			writeError(w, http.StatusBadRequest, "missing routing metadata")
		case err != nil:
			s.log.Error().Err(err).Msg("http: github webhook not accepted")
			writeError(w, http.StatusInternalServerError, "temporarily unavailable")
		default:
			s.log.Debug().Str("outcome", string(outcome)).Str("delivery", r.Header.Get("X-GitHub-Delivery")).Msg("http: github webhook accepted")
			writeJSON(w, http.StatusOK, map[string]bool{"accepted": true})
		}
	})
}

// MountInteractions регистрирует эндпоинт interaction-запросов.
func (s *Server) MountInteractions(handler InteractionHandler) {
	s.Router.Post(InteractionsPath, func(w http.ResponseWriter, r *http.Request) {
		body, ok := readBody(w, r)
		if !ok {
			return
		}
		resp, err := handler.HandleInteraction(r.Context(), body, r.Header)
		switch {
		case errors.Is(err, domain.ErrAuth):
			writeError(w, http.StatusUnauthorized, "invalid request signature")
		case err != nil:
			s.log.Error().Err(err).Msg("http: interaction failed")
			writeError(w, http.StatusInternalServerError, "internal error")
		default:
			writeJSON(w, http.StatusOK, resp)
		}
	})
}

// Start запускает http.Server.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.Router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	s.log.Info().Str("addr", addr).Msg("http: сервер запущен")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown позволяет корректно завершить работу.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return nil, false
	}
	return body, true
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http: request")
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
