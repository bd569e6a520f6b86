// Package cachestatus builds RFC 9211 Cache-Status header values.
package cachestatus

import "fmt"

const cacheName = "Resource-Interceptor"

type Status string

const (
	StatusHit Status = "hit"
	StatusFwd Status = "fwd"
)

type FwdReason string

const (
	// The cache was configured to not handle this request.
	FwdReasonBypass FwdReason = "bypass"

	// The cache did not contain any responses that matched the
	// request URI.
	FwdReasonUriMiss FwdReason = "uri-miss"

	// The cache contained a response that matched the request
	// URI, but it could not select a response based upon this request's
	// header fields and stored Vary header fields.
	FwdReasonVaryMiss FwdReason = "vary-miss"

	// The cache did not contain any responses that could be used to
	// satisfy this request.
	FwdReasonMiss FwdReason = "miss"
)

type CacheStatus struct {
	Status    Status
	FwdReason FwdReason
	Stored    bool
	Detail    string
}

func (cs *CacheStatus) Hit() {
	cs.Status = StatusHit
	cs.FwdReason = ""
}

func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.Status = StatusFwd
	cs.FwdReason = reason
}

func (cs CacheStatus) String() string {
	status := cacheName
	switch cs.Status {
	case StatusHit:
		status += "; hit"
	case StatusFwd:
		status = fmt.Sprintf("%s; fwd=%s", status, cs.FwdReason)
	}
	if cs.Stored {
		status += "; stored"
	}
	if cs.Detail != "" {
		status += "; detail=" + cs.Detail
	}
	return status
}
