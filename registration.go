package interceptor

import (
	"context"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Registration dispatches lifecycle events to interceptor versions and routes
// requests to the one in control.
//
// A new version only takes over once it has installed and activated.
// If its install fails, the version that was in control keeps control.
type Registration struct {
	active  atomic.Pointer[Interceptor]
	mutex   sync.Mutex
	network *httputil.ReverseProxy
	log     zerolog.Logger
}

// NewRegistration creates a registration for the scope.
// Until a version is registered, requests are proxied to the scope unchanged.
func NewRegistration(scope url.URL, scopeHost string, logger *zerolog.Logger) *Registration {
	var log zerolog.Logger
	if logger == nil {
		log = zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()
	} else {
		log = *logger
	}
	hostHeader := scope.Host
	if scopeHost != "" {
		hostHeader = scopeHost
	}
	client := newClient(scopeHost)
	return &Registration{
		network: &httputil.ReverseProxy{
			Director:  createDirector(scope.Scheme, scope.Host, hostHeader),
			Transport: client.Transport,
		},
		log: log.With().Str("scope", scope.String()).Logger(),
	}
}

// Register installs and activates next, then gives it control.
// Registrations are serialized; requests keep flowing to the current
// version while the next one installs.
func (reg *Registration) Register(ctx context.Context, next *Interceptor) error {
	reg.mutex.Lock()
	defer reg.mutex.Unlock()

	log := reg.log.With().Str("version", next.Version()).Logger()
	if err := next.Install(ctx); err != nil {
		log.Warn().Err(err).Msg("Install failed, keeping current version")
		return err
	}
	if err := next.Activate(ctx); err != nil {
		log.Warn().Err(err).Msg("Activation failed, keeping current version")
		return err
	}
	if prev := reg.active.Swap(next); prev != nil && prev != next {
		prev.retire()
	}
	log.Info().Msg("Version in control")
	return nil
}

// Active returns the interceptor in control, or nil.
func (reg *Registration) Active() *Interceptor {
	return reg.active.Load()
}

// ServeHTTP implements the http.Handler interface.
func (reg *Registration) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if active := reg.active.Load(); active != nil {
		active.ServeHTTP(w, r)
		return
	}
	reg.log.Trace().Str("url", r.URL.String()).Msg("No version in control, proxying")
	reg.network.ServeHTTP(w, r)
}

func createDirector(scheme, host, hostHeader string) func(req *http.Request) {
	return func(req *http.Request) {
		req.URL.Scheme = scheme
		req.URL.Host = host
		if hostHeader != "" {
			req.Host = hostHeader
		}
	}
}
