// Package api exposes the update manager over HTTP.
package api

import (
	"context"
	"net"
	"net/http"

	"github.com/go-errors/errors"
	"github.com/gorilla/mux"
	"github.com/the-lightning-land/sweetfw/fwdb"
	"github.com/the-lightning-land/sweetfw/updater"
	"golang.org/x/net/netutil"
)

// Manager is the part of the update manager the api drives.
type Manager interface {
	State() updater.State
	StartUpdate() error
	InjectFault() (updater.Error, bool)
	Subscribe() *updater.StateClient
}

// History lists past update runs.
type History interface {
	Runs() ([]*fwdb.Run, error)
}

type Config struct {
	Manager Manager
	History History
	// MaxConns limits concurrent connections, 0 means unlimited.
	MaxConns int
	Log      Logger
}

type Api struct {
	manager  Manager
	history  History
	maxConns int
	router   *mux.Router
	server   *http.Server
	log      Logger
}

func New(config *Config) *Api {
	api := &Api{
		manager:  config.Manager,
		history:  config.History,
		maxConns: config.MaxConns,
		router:   mux.NewRouter(),
	}

	if config.Log != nil {
		api.log = config.Log
	} else {
		api.log = noopLogger{}
	}

	api.router.Use(api.loggingMiddleware)

	v1 := api.router.PathPrefix("/api/v1").Subrouter()
	v1.Handle("/update", api.handleGetUpdate()).Methods(http.MethodGet)
	v1.Handle("/update", api.handlePostUpdate()).Methods(http.MethodPost)
	v1.Handle("/update/fault", api.handlePostFault()).Methods(http.MethodPost)
	v1.Handle("/update/events", api.handleGetUpdateEvents()).Methods(http.MethodGet)
	v1.Handle("/update/history", api.handleGetHistory()).Methods(http.MethodGet)

	api.server = &http.Server{Handler: api.router}

	return api
}

func (a *Api) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

// Serve blocks until the api is shut down or l fails.
func (a *Api) Serve(l net.Listener) error {
	if a.maxConns > 0 {
		l = netutil.LimitListener(l, a.maxConns)
	}

	err := a.server.Serve(l)
	if err != nil && err != http.ErrServerClosed {
		return errors.Errorf("Unable to serve api: %v", err)
	}

	return nil
}

func (a *Api) Shutdown(ctx context.Context) error {
	err := a.server.Shutdown(ctx)
	if err != nil {
		return errors.Errorf("Could not shut down api: %v", err)
	}

	return nil
}

func (a *Api) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.log.Debugf("Accessing %v %v", r.Method, r.RequestURI)
		next.ServeHTTP(w, r)
	})
}
