package service

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/InsulaLabs/rfs/config"
	"github.com/InsulaLabs/rfs/db/engine"
	"github.com/gorilla/websocket"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"
)

/*
	HTTP front of the engine. One generic exec endpoint carries the whole
	FS.* command surface; system endpoints cover liveness and key
	enumeration; a websocket endpoint streams mutation events per key.
*/

type Service struct {
	appCtx    context.Context
	cfg       *config.Service
	logger    *slog.Logger
	engine    *engine.Engine
	mux       *http.ServeMux
	startedAt time.Time

	rateLimiters map[string]*ttlcache.Cache[string, *rate.Limiter]

	eventSubscribers     map[string]map[*eventSession]bool
	eventSubscribersLock sync.RWMutex
	wsUpgrader           websocket.Upgrader
	eventCh              chan engine.Event
	activeWsConnections  int32
	wsConnectionLock     sync.Mutex
}

func New(
	ctx context.Context,
	logger *slog.Logger,
	cfg *config.Service,
	eng *engine.Engine,
) *Service {

	rateLimiters := make(map[string]*ttlcache.Cache[string, *rate.Limiter])
	for _, category := range []string{"commands", "system", "events", "default"} {
		cache := ttlcache.New[string, *rate.Limiter](
			ttlcache.WithTTL[string, *rate.Limiter](time.Minute*1),
			ttlcache.WithDisableTouchOnHit[string, *rate.Limiter](),
		)
		go cache.Start()
		rateLimiters[category] = cache
	}

	s := &Service{
		appCtx:           ctx,
		cfg:              cfg,
		logger:           logger,
		engine:           eng,
		mux:              http.NewServeMux(),
		rateLimiters:     rateLimiters,
		eventSubscribers: make(map[string]map[*eventSession]bool),
		wsUpgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.Sessions.WebSocketReadBufferSize,
			WriteBufferSize: cfg.Sessions.WebSocketWriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		eventCh: make(chan engine.Event, cfg.Sessions.EventChannelSize),
	}

	go s.eventProcessingLoop()

	return s
}

// Receive satisfies engine.EventReceiverIF. Events land on the service
// channel; the processing loop fans them out to subscribers. The command
// path never blocks on a slow subscriber.
func (s *Service) Receive(ev engine.Event) {
	select {
	case s.eventCh <- ev:
	default:
		s.logger.Warn("Service event channel full, event dropped", "key", ev.Key)
	}
}

func (s *Service) validateToken(r *http.Request) bool {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.ApiToken)) == 1
}

func (s *Service) getRemoteAddress(r *http.Request) string {
	remoteIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		remoteIP = r.RemoteAddr
	}

	trusted := make(map[string]struct{})
	for _, proxy := range s.cfg.TrustedProxies {
		trusted[proxy] = struct{}{}
	}

	if _, ok := trusted[remoteIP]; ok {
		if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
			ips := strings.Split(forwardedFor, ",")
			return strings.TrimSpace(ips[0])
		}
	}
	return remoteIP
}

func (s *Service) getRateLimiter(category string, r *http.Request) *rate.Limiter {
	limiterCategory, ok := s.rateLimiters[category]
	if !ok {
		limiterCategory = s.rateLimiters["default"]
	}
	ip := s.getRemoteAddress(r)
	limiterItem := limiterCategory.Get(ip)
	if limiterItem == nil {
		var rlConfig config.RateLimiterConfig
		switch category {
		case "commands":
			rlConfig = s.cfg.RateLimiters.Commands
		case "system":
			rlConfig = s.cfg.RateLimiters.System
		case "events":
			rlConfig = s.cfg.RateLimiters.Events
		default:
			rlConfig = s.cfg.RateLimiters.Default
		}
		limiter := rate.NewLimiter(rate.Limit(rlConfig.Limit), rlConfig.Burst)
		limiterItem = limiterCategory.Set(ip, limiter, time.Minute*1)
	}
	return limiterItem.Value()
}

func (s *Service) rateLimitMiddleware(next http.Handler, category string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limiter := s.getRateLimiter(category, r)
		res := limiter.Reserve()
		if delay := res.Delay(); delay > 0 {
			res.Cancel()
			s.logger.Warn("Rate limit exceeded", "category", category, "path", r.URL.Path, "remote_addr", r.RemoteAddr)
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", math.Ceil(delay.Seconds())))
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%v", limiter.Limit()))
			w.Header().Set("X-RateLimit-Burst", fmt.Sprintf("%d", limiter.Burst()))
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Run blocks until the context is cancelled.
func (s *Service) Run() {
	s.mux.Handle("/fs/api/v1/exec", s.rateLimitMiddleware(http.HandlerFunc(s.execHandler), "commands"))
	s.mux.Handle("/fs/api/v1/ping", s.rateLimitMiddleware(http.HandlerFunc(s.pingHandler), "system"))
	s.mux.Handle("/fs/api/v1/keys", s.rateLimitMiddleware(http.HandlerFunc(s.keysHandler), "system"))
	s.mux.Handle("/fs/api/v1/events/subscribe", s.rateLimitMiddleware(http.HandlerFunc(s.eventSubscribeHandler), "events"))

	s.logger.Info(
		"Attempting to start server",
		"listen_addr", s.cfg.HttpBinding,
		"tls_enabled", (s.cfg.TLS.Cert != "" && s.cfg.TLS.Key != ""),
	)

	srv := &http.Server{
		Addr:    s.cfg.HttpBinding,
		Handler: s.mux,
	}

	go func() {
		<-s.appCtx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Server shutdown error", "error", err)
		}
	}()

	s.startedAt = time.Now()

	if s.cfg.TLS.Cert != "" && s.cfg.TLS.Key != "" {
		if err := srv.ListenAndServeTLS(s.cfg.TLS.Cert, s.cfg.TLS.Key); err != http.ErrServerClosed {
			s.logger.Error("HTTPS server error", "error", err)
		}
	} else {
		s.logger.Info("TLS cert or key not specified in config. Starting HTTP server (insecure).")
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", "error", err)
		}
	}

	s.eventSubscribersLock.Lock()
	for _, subscribers := range s.eventSubscribers {
		for session := range subscribers {
			if session.conn != nil {
				if err := session.conn.Close(); err != nil {
					s.logger.Error("Error closing WebSocket connection", "error", err)
				}
			}
		}
	}
	s.eventSubscribers = make(map[string]map[*eventSession]bool)
	s.eventSubscribersLock.Unlock()

	for _, limiter := range s.rateLimiters {
		limiter.Stop()
	}

	s.logger.Info("Server stopped")
}
