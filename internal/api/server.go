// Package api exposes the Twilio webhooks and the operator endpoints of Enkidu over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/Enkidu/internal/flow"
	"github.com/BTreeMap/Enkidu/internal/models"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/twilio/twilio-go/client"
)

// ConversationService is the conversation flow as seen by the HTTP layer.
type ConversationService interface {
	HandleTurn(ctx context.Context, in models.InboundMessage) (flow.TurnResult, error)
	HandleAndDeliver(ctx context.Context, in models.InboundMessage) (flow.TurnResult, error)
	RecordOutbound(ctx context.Context, userID, body string) (models.Turn, error)
	LookupContext(ctx context.Context, userID string) (*models.UserContext, bool, error)
}

// Opts holds configuration options for the API server.
type Opts struct {
	AuthToken     string // Twilio auth token used to verify webhook signatures
	PublicBaseURL string // externally visible scheme and host the webhooks are configured with
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithSignatureValidation rejects webhooks whose X-Twilio-Signature does not verify against
// authToken. baseURL is the public URL prefix Twilio calls, e.g. "https://enkidu.example.com".
func WithSignatureValidation(authToken, baseURL string) Option {
	return func(o *Opts) {
		o.AuthToken = authToken
		o.PublicBaseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// Server routes HTTP requests to the conversation flow.
type Server struct {
	conv          ConversationService
	validator     *client.RequestValidator
	publicBaseURL string
	router        chi.Router
}

// NewServer creates a Server with all routes registered.
func NewServer(conv ConversationService, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{conv: conv, publicBaseURL: cfg.PublicBaseURL}
	if cfg.AuthToken != "" {
		v := client.NewRequestValidator(cfg.AuthToken)
		s.validator = &v
	}
	slog.Debug("Server.NewServer: creating server", "signatureValidation", s.validator != nil, "publicBaseURL", s.publicBaseURL)
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/health", s.healthHandler)

	r.Group(func(r chi.Router) {
		r.Use(s.verifyTwilioSignature)
		r.Post("/sms", s.smsHandler)
		r.Post("/voice", s.voiceHandler)
	})

	r.Route("/users/{userID}", func(r chi.Router) {
		r.Get("/context", s.getContextHandler)
		r.Post("/messages", s.sendMessageHandler)
	})
	return r
}

// Handler returns the HTTP handler serving all routes.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"service": "enkidu"}))
}

// requestLogger logs one line per request through slog.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("Server.requestLogger: request served",
			"method", r.Method, "path", r.URL.Path, "status", ww.Status(),
			"bytes", ww.BytesWritten(), "duration", time.Since(start),
			"requestID", chiMiddleware.GetReqID(r.Context()))
	})
}
