package serializer

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
)

var delim = []byte("\r\n\r\n----\r\n\r\n")

// Clone reads the response body once and returns an independent copy of the response.
// The body of res is restored, so both responses can be read in full.
// Headers and trailers are deep copies.
func Clone(res *http.Response) (*http.Response, error) {
	body, err := readBody(res)
	if err != nil {
		return nil, err
	}
	clone := new(http.Response)
	*clone = *res
	clone.Header = res.Header.Clone()
	clone.Trailer = res.Trailer.Clone()
	clone.Body = io.NopCloser(bytes.NewReader(body))
	clone.ContentLength = int64(len(body))
	clone.TransferEncoding = nil
	return clone, nil
}

// ResponseToBytes returns the HTTP/1.1 representation of the request that resulted in the
// response followed by the response itself.
// The response body is set back, so the response can still be sent after serialization.
func ResponseToBytes(res *http.Response) ([]byte, error) {
	buf := &bytes.Buffer{}

	if req := res.Request; req != nil {
		if err := bodilessRequest(req).Write(buf); err != nil {
			log.Warn().Err(err).Msg("Could not write request to bytes")
		}
	} else {
		log.Warn().Msg("Request not set")
	}
	buf.Write(delim)

	bts, err := responseToBytes(res)
	if err != nil {
		return nil, err
	}
	buf.Write(bts)
	return buf.Bytes(), nil
}

// BytesToResponse converts bytes created with ResponseToBytes back to a response.
// The original request is set on the response if it could be read.
func BytesToResponse(b []byte) (*http.Response, error) {
	reqBytes, resBytes, found := bytes.Cut(b, delim)
	if !found {
		return nil, fmt.Errorf("Stored response has no request delimiter")
	}
	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(reqBytes)))
	if err != nil {
		log.Warn().Err(err).Msg("Could not read request from stored response")
		req = nil
	}
	return http.ReadResponse(bufio.NewReader(bytes.NewReader(resBytes)), req)
}

// responseToBytes converts a response to a byte slice.
// It returns the HTTP/1.1 representation of the response with a fixed content length.
func responseToBytes(res *http.Response) ([]byte, error) {
	body, err := readBody(res)
	if err != nil {
		return nil, err
	}
	wire := *res
	wire.ProtoMajor, wire.ProtoMinor = 1, 1
	wire.Body = io.NopCloser(bytes.NewReader(body))
	wire.ContentLength = int64(len(body))
	wire.TransferEncoding = nil
	wire.Request = nil
	buf := &bytes.Buffer{}
	if err := wire.Write(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// readBody reads the whole body and sets it back on the response.
func readBody(res *http.Response) ([]byte, error) {
	if res.Body == nil || res.Body == http.NoBody {
		return []byte{}, nil
	}
	body, err := io.ReadAll(res.Body)
	res.Body.Close()
	if err != nil {
		return nil, err
	}
	res.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

func bodilessRequest(req *http.Request) *http.Request {
	r := req.Clone(req.Context())
	r.Body = nil
	r.GetBody = nil
	r.ContentLength = 0
	r.TransferEncoding = nil
	return r
}
