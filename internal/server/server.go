package server // import "github.com/Xunop/celestial/internal/server"

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	v1 "github.com/Xunop/celestial/internal/api/v1"
	"github.com/Xunop/celestial/internal/log"
	"github.com/Xunop/celestial/internal/version"
)

// Pinger reports whether the key-value backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StartServer starts the HTTP server in the background.
func StartServer(addr string, pinger Pinger, api *v1.Handler) (*http.Server, error) {
	server := &http.Server{
		Addr:              addr,
		Handler:           SetupHandler(pinger, api),
		ReadHeaderTimeout: 10 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to listen on %s", addr)
	}
	startHTTPServer(server, listener)

	return server, nil
}

func startHTTPServer(server *http.Server, listener net.Listener) {
	go func() {
		log.Info("Starting HTTP server", zap.String("listen_address", listener.Addr().String()))
		if err := server.Serve(listener); err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
		}
	}()
}

// SetupHandler builds the router: the API, the health check and the version.
func SetupHandler(pinger Pinger, api *v1.Handler) http.Handler {
	router := mux.NewRouter()
	router.Use(middleware)

	v1.Server(router, api)

	router.HandleFunc("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if err := pinger.Ping(r.Context()); err != nil {
			log.Error("Health check failed", zap.Error(err))
			http.Error(w, "Database Connection Error", http.StatusInternalServerError)
			return
		}

		w.Write([]byte("OK"))
	}).Name("healthcheck")

	router.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(version.GetCurrentVersion()))
	}).Name("version")

	return router
}
