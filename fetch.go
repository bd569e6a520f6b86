package interceptor

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/always-cache/resource-interceptor/metrics"
	cachestatus "github.com/always-cache/resource-interceptor/pkg/cache-status"
	serializer "github.com/always-cache/resource-interceptor/pkg/response-serializer"
	responsetype "github.com/always-cache/resource-interceptor/pkg/response-type"
	tee "github.com/always-cache/resource-interceptor/pkg/response-writer-tee"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// resolution is the outcome of one fetch event.
type resolution struct {
	response *http.Response
	status   cachestatus.CacheStatus
	source   string
}

// Fetch resolves a request according to the policy.
// The returned error is a failed resolution: the network could not be reached
// and nothing was cached. Non-200 responses are not errors.
func (i *Interceptor) Fetch(r *http.Request) (*http.Response, error) {
	res, err := i.resolve(r, i.requestLogger(r))
	if err != nil {
		return nil, err
	}
	return res.response, nil
}

func (i *Interceptor) resolve(r *http.Request, log zerolog.Logger) (resolution, error) {
	if !i.claimed.Load() {
		return resolution{source: metrics.SourceError}, ErrNotActive
	}
	start := time.Now()
	var (
		res resolution
		err error
	)
	switch i.policy {
	case CacheFirst:
		res, err = i.cacheFirst(r, log)
	default:
		res, err = i.networkOnly(r, log)
	}
	if err != nil {
		res.source = metrics.SourceError
	}
	i.observeFetch(res.source, time.Since(start))
	return res, err
}

func (i *Interceptor) networkOnly(r *http.Request, log zerolog.Logger) (resolution, error) {
	res := resolution{source: metrics.SourceNetwork}
	res.status.Forward(cachestatus.FwdReasonBypass)
	res.status.Detail = i.policy.String()

	response, err := i.fetch(r)
	if err != nil {
		log.Debug().Err(err).Msg("Network request failed")
		return res, err
	}
	if response.StatusCode != http.StatusOK {
		log.Debug().Int("status", response.StatusCode).Msg("Request failed")
	} else {
		log.Trace().Msg("Fetched from network")
	}
	res.response = response
	return res, nil
}

func (i *Interceptor) cacheFirst(r *http.Request, log zerolog.Logger) (resolution, error) {
	res := resolution{}

	cached, ok, err := i.store.Match(r)
	if err != nil {
		log.Error().Err(err).Msg("Could not retrieve from cache")
	} else if ok {
		log.Trace().Msg("Found cached response")
		cached.Request = r
		res.response = cached
		res.source = metrics.SourceCache
		res.status.Hit()
		return res, nil
	}

	res.source = metrics.SourceNetwork
	res.status.Forward(i.missReason(r, err, log))

	upstream, err := i.forwardRequest(r)
	if err != nil {
		return res, err
	}
	response, err := i.client.Do(upstream)
	if err != nil {
		log.Debug().Err(err).Msg("Network request failed")
		return res, err
	}
	res.response = response

	if !i.mayStore(upstream, response, log) {
		return res, nil
	}
	clone, err := serializer.Clone(response)
	if err != nil {
		return res, err
	}
	// save to cache in goroutine (do not slow down response)
	i.writes.Add(1)
	go i.put(context.WithoutCancel(r.Context()), upstream, clone, log)
	res.status.Stored = true
	return res, nil
}

// missReason tells apart a failed lookup, a stored URL whose variants do not
// match the request headers, and a URL that was never stored.
func (i *Interceptor) missReason(r *http.Request, matchErr error, log zerolog.Logger) cachestatus.FwdReason {
	if matchErr != nil {
		return cachestatus.FwdReasonMiss
	}
	stored, err := i.store.Contains(r)
	if err != nil {
		log.Debug().Err(err).Msg("Could not look up stored variants")
		return cachestatus.FwdReasonMiss
	}
	if stored {
		return cachestatus.FwdReasonVaryMiss
	}
	return cachestatus.FwdReasonUriMiss
}

// mayStore reports whether a network response may be added to the cache:
// exactly 200, basic, and for a GET request.
func (i *Interceptor) mayStore(req *http.Request, res *http.Response, log zerolog.Logger) bool {
	if res.StatusCode != http.StatusOK {
		log.Trace().Int("status", res.StatusCode).Msg("Not storing, status is not 200")
		return false
	}
	if t := responsetype.Classify(i.scope, req, res); t != responsetype.Basic {
		log.Trace().Str("type", string(t)).Msg("Not storing, response is not basic")
		return false
	}
	if req.Method != http.MethodGet {
		log.Trace().Msg("Not storing, method is not GET")
		return false
	}
	return true
}

// put writes the clone to the cache. Errors are logged and dropped.
func (i *Interceptor) put(ctx context.Context, req *http.Request, clone *http.Response, log zerolog.Logger) {
	defer i.writes.Done()
	if err := i.store.Put(req.WithContext(ctx), clone); err != nil {
		log.Debug().Err(err).Msg("Could not write to cache")
		i.observeWrite("failed")
		return
	}
	log.Trace().Msg("Cache write")
	i.observeWrite("stored")
}

// fetch sends the request to the network.
func (i *Interceptor) fetch(r *http.Request) (*http.Response, error) {
	upstream, err := i.forwardRequest(r)
	if err != nil {
		return nil, err
	}
	return i.client.Do(upstream)
}

// forwardRequest creates the outgoing request for an incoming one.
// Relative URLs are resolved against the scope.
func (i *Interceptor) forwardRequest(r *http.Request) (*http.Request, error) {
	// need to specifically set body to nil on the outgoing request if content is zero length
	// see https://github.com/golang/go/issues/16036
	body := r.Body
	if r.ContentLength == 0 {
		body = nil
	}
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(r.Context(), method, i.keyer.Resolve(r.URL).String(), body)
	if err != nil {
		return nil, err
	}
	req.ContentLength = r.ContentLength
	copyHeader(req.Header, r.Header)
	// do not forward connection header, this causes trouble
	req.Header.Del("Connection")
	// content coding is left to the transport, so stored bodies are never encoded
	req.Header.Del("Accept-Encoding")
	if i.scopeHost != "" && i.isInScope(req) {
		req.Host = i.scopeHost
	}
	return req, nil
}

// newRequest creates a bodiless request for a path or absolute URL.
func (i *Interceptor) newRequest(ctx context.Context, method, asset string) (*http.Request, error) {
	r, err := http.NewRequestWithContext(ctx, method, asset, nil)
	if err != nil {
		return nil, err
	}
	return i.forwardRequest(r)
}

func (i *Interceptor) isInScope(req *http.Request) bool {
	return responsetype.SameOrigin(i.scope, req.URL)
}

// ServeHTTP implements the http.Handler interface.
func (i *Interceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec := tee.NewStatusRecorder(w)
	log := i.requestLogger(r)
	defer i.recover(rec, log)

	res, err := i.resolve(r, log)
	if err == ErrNotActive {
		http.Error(rec, "Interceptor is not active", http.StatusServiceUnavailable)
		return
	} else if err != nil {
		log.Error().Err(err).Msg("Could not resolve request")
		http.Error(rec, "Could not resolve request", http.StatusBadGateway)
		return
	}
	send(rec, res.response, res.status, log)
	logRequest(rec, r, res, log)
}

// requestLogger tags the log lines of one fetch event.
func (i *Interceptor) requestLogger(r *http.Request) zerolog.Logger {
	return i.log.With().
		Str("id", uuid.NewString()).
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Logger()
}

// recover recovers from panics in the handler and answers with a bad gateway.
func (i *Interceptor) recover(rec *tee.StatusRecorder, log zerolog.Logger) {
	if err := recover(); err != nil {
		log.WithLevel(zerolog.PanicLevel).Interface("error", err).Msg("Panic in interceptor handler")
		if rec.StatusCode() == 0 {
			http.Error(rec, "Could not resolve request", http.StatusBadGateway)
		}
	}
}

func send(w http.ResponseWriter, res *http.Response, status cachestatus.CacheStatus, log zerolog.Logger) {
	if res.Body != nil {
		defer res.Body.Close()
	}
	copyHeader(w.Header(), res.Header)
	w.Header().Add("Cache-Status", status.String())
	w.WriteHeader(res.StatusCode)
	if res.Body == nil {
		return
	}
	bytesWritten, err := io.Copy(w, res.Body)
	if err != nil {
		log.Error().Err(err).Msg("Could not write response body to client")
	}
	log.Trace().Msgf("Wrote body (%d bytes)", bytesWritten)
}

func logRequest(rec *tee.StatusRecorder, r *http.Request, res resolution, log zerolog.Logger) {
	isHit := 0
	if res.status.Status == cachestatus.StatusHit {
		isHit = 1
	}
	log.Debug().
		Str("sourceIp", getRequestSourceIp(r)).
		Int("status", rec.StatusCode()).
		Str("source", res.source).
		Str("fwd", string(res.status.FwdReason)).
		Bool("stored", res.status.Stored).
		Int("hit", isHit).
		Int64("bytes", rec.BytesWritten()).
		Dur("elapsed", rec.Elapsed()).
		Msg("Sending response to client")
}

func (i *Interceptor) observeFetch(source string, elapsed time.Duration) {
	if i.metrics == nil {
		return
	}
	i.metrics.FetchesTotal.WithLabelValues(i.policy.String(), source).Inc()
	i.metrics.FetchDurations.WithLabelValues(source).Observe(elapsed.Seconds())
}

func (i *Interceptor) observeWrite(result string) {
	if i.metrics != nil {
		i.metrics.CacheWrites.WithLabelValues(result).Inc()
	}
}

func getRequestSourceIp(r *http.Request) string {
	// RemoteAddr is in the format:
	// 1.2.3.4:10000 for ipv4
	// [1:2:3]:10000 for ipv6
	ipAndPort := r.RemoteAddr
	portSepIdx := strings.LastIndex(ipAndPort, ":")
	// if not found, return
	if portSepIdx < 0 {
		return ipAndPort
	}
	return ipAndPort[:portSepIdx]
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		// this is a warkaround to remove default headers sent by an upstream proxy
		// some servers do not like the presence of these headers in the downstream request
		if k != "X-Forwarded-For" && k != "X-Forwarded-Proto" && k != "X-Forwarded-Host" {
			for _, v := range vv {
				dst.Add(k, v)
			}
		}
	}
}
