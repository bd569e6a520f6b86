package interceptor

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/always-cache/resource-interceptor/cache"
	"github.com/always-cache/resource-interceptor/metrics"
	cachekey "github.com/always-cache/resource-interceptor/pkg/cache-key"

	"github.com/rs/zerolog"
)

var (
	ErrNotActive        = fmt.Errorf("Interceptor is not active")
	ErrNotInstalled     = fmt.Errorf("Interceptor is not installed")
	ErrAlreadyInstalled = fmt.Errorf("Interceptor install already attempted")
)

// Fetcher issues network requests. *http.Client implements it.
type Fetcher interface {
	Do(*http.Request) (*http.Response, error)
}

type Config struct {
	// How fetch events are resolved.
	Policy Policy
	// Name of the cache store owned by this deployment.
	Version string
	// Paths and absolute URLs that must be stored before install succeeds.
	// Paths are resolved against Scope.
	CoreAssets []string
	// Cache stores. An in-memory storage is used if nil.
	Storage cache.Storage
	// Origin controlled by the interceptor.
	// Relative requests are sent here, and only responses from here are basic.
	Scope url.URL
	// Hostname to use for HTTP requests and TLS negotiation.
	// Use if needed if e.g. the scope URL is just an IP address.
	ScopeHost string
	// Network to fetch from. Defaults to a client that does not follow redirects.
	Client Fetcher
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
	// Optional metrics.
	Metrics *metrics.Metrics
}

type State int32

const (
	StateParsed State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActivated
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateRedundant:
		return "redundant"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Interceptor is one deployed version of the request interceptor.
// It goes through install and activate once, and then resolves fetch events
// until it is superseded.
type Interceptor struct {
	policy     Policy
	version    string
	coreAssets []string
	storage    cache.Storage
	keyer      cachekey.Keyer
	scope      url.URL
	scopeHost  string
	client     Fetcher
	log        zerolog.Logger
	metrics    *metrics.Metrics

	state   atomic.Int32
	claimed atomic.Bool
	// set during install, read only after activation
	store cache.Store
	// pending background cache writes
	writes sync.WaitGroup
}

// New creates an interceptor in the parsed state.
// Install and Activate (or Registration.Register) must run before it resolves fetches.
func New(config Config) *Interceptor {
	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()
	} else {
		logger = *config.Logger
	}

	// create a child logger and add defaults
	logger = logger.With().
		Str("version", config.Version).
		Str("policy", config.Policy.String()).
		Logger()

	i := &Interceptor{
		policy:     config.Policy,
		version:    config.Version,
		coreAssets: append([]string(nil), config.CoreAssets...),
		storage:    config.Storage,
		keyer:      cachekey.NewKeyer(config.Scope),
		scope:      config.Scope,
		scopeHost:  config.ScopeHost,
		client:     config.Client,
		log:        logger,
		metrics:    config.Metrics,
	}
	if i.storage == nil && i.policy == CacheFirst {
		i.storage = cache.NewMemStorage(i.keyer)
	}
	if i.client == nil {
		i.client = newClient(config.ScopeHost)
	}
	return i
}

// newClient returns a client that hands redirects back to the caller,
// the way a fetch handler sees them.
func newClient(serverName string) *http.Client {
	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	// use provided hostname for origin if configured
	if serverName != "" {
		client.Transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				ServerName: serverName,
			},
		}
	}
	return client
}

func (i *Interceptor) Policy() Policy {
	return i.policy
}

func (i *Interceptor) Version() string {
	return i.version
}

func (i *Interceptor) State() State {
	return State(i.state.Load())
}

// Storage returns the cache stores the interceptor manages.
// It is nil for a network-only interceptor configured without storage.
func (i *Interceptor) Storage() cache.Storage {
	return i.storage
}

func (i *Interceptor) setState(s State) {
	i.log.Trace().Str("state", s.String()).Msg("State change")
	i.state.Store(int32(s))
}

func (i *Interceptor) transition(from, to State) bool {
	if i.state.CompareAndSwap(int32(from), int32(to)) {
		i.log.Trace().Str("state", to.String()).Msg("State change")
		return true
	}
	return false
}
