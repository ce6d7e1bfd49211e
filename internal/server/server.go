package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/neboloop/wabot/internal/handler"
	"github.com/neboloop/wabot/internal/logging"
	"github.com/neboloop/wabot/internal/middleware"
	"github.com/neboloop/wabot/internal/svc"
	"github.com/neboloop/wabot/internal/websocket"
)

// ShutdownTimeout bounds the graceful HTTP shutdown.
const ShutdownTimeout = 5 * time.Second

// ServerOptions holds optional settings for the server
type ServerOptions struct {
	Quiet bool // Suppress request logging
	// Ready, when set, receives the bound address once the listener is up.
	Ready func(addr net.Addr)
}

// Run serves the web interface until ctx is cancelled, then shuts down
// gracefully. The service context is not closed here.
func Run(ctx context.Context, svcCtx *svc.ServiceContext, opts ...ServerOptions) error {
	var o ServerOptions
	if len(opts) > 0 {
		o = opts[0]
	}

	addr := svcCtx.Config.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s (is another wabot running?): %w", addr, err)
	}

	// ReadTimeout/WriteTimeout are omitted because they apply to hijacked
	// WebSocket connections too.
	httpServer := &http.Server{
		Handler:     NewRouter(svcCtx, o),
		IdleTimeout: 120 * time.Second,
	}

	logging.Infof("[server] Web interface listening on http://%s", ln.Addr())
	if o.Ready != nil {
		o.Ready(ln.Addr())
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logging.Infof("[server] Shutting down web interface")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logging.Warnf("[server] Graceful shutdown incomplete: %v", err)
		return httpServer.Close()
	}
	return nil
}

// NewRouter builds the HTTP routes.
func NewRouter(svcCtx *svc.ServiceContext, opts ServerOptions) http.Handler {
	c := svcCtx.Config
	r := chi.NewRouter()

	if !opts.Quiet {
		r.Use(chimw.Logger)
	}
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(corsMiddleware(c.AllowedOrigins()))

	r.Get("/health", handler.HealthCheckHandler(svcCtx))

	r.Get("/ws", websocket.Handler(svcCtx.Hub, websocket.Options{
		AuthSecret:     c.Web.AuthSecret,
		AllowedOrigins: c.AllowedOrigins(),
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.JWTMiddleware(c.Web.AuthSecret))
		r.Get("/status", handler.SessionStatusHandler(svcCtx))
		r.Get("/scheduled", handler.ListScheduledHandler(svcCtx))
	})

	return r
}

// corsMiddleware allows localhost and the configured origins.
func corsMiddleware(allowed []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" && middleware.OriginAllowed(origin, allowed) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
			}
			// Other origins get no CORS headers and the browser blocks the request.

			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
