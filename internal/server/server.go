package server

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mailsplit/mailsplit/internal/engine"
	"github.com/mailsplit/mailsplit/internal/store"
)

type Server struct {
	store     *store.SQLiteStore
	engine    *engine.Engine
	log       *logrus.Logger
	port      int
	token     string
	router    *http.ServeMux
	startTime time.Time
}

func New(s *store.SQLiteStore, eng *engine.Engine, log *logrus.Logger, port int) *Server {
	srv := &Server{
		store:     s,
		engine:    eng,
		log:       log,
		port:      port,
		token:     generateToken(),
		router:    http.NewServeMux(),
		startTime: time.Now(),
	}

	srv.setupRoutes()
	return srv
}

func (s *Server) setupRoutes() {
	// Public endpoints
	s.router.HandleFunc("/health", s.handleHealth)
	s.router.HandleFunc("/events", s.handleEvents)

	// Management endpoints (protected)
	s.router.Handle("/api/experiments", s.authMiddleware(http.HandlerFunc(s.handleListExperiments)))
	s.router.Handle("/api/experiments/", s.authMiddleware(http.HandlerFunc(s.handleExperiment)))
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.log.WithFields(logrus.Fields{"addr": addr}).Info("server listening")
	s.log.Infof("management token: %s", s.token)
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) Token() string {
	return s.token
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// authMiddleware checks for a valid token in the Authorization header or
// token query param.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("Authorization")
		if token == "" {
			token = r.URL.Query().Get("token")
		} else {
			token = trimBearer(token)
		}

		if token != s.token {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func trimBearer(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return header
}

func generateToken() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to a fixed token if crypto/rand fails
		return "a1b2c3d4e5f6a7b8"
	}
	return hex.EncodeToString(bytes)
}
