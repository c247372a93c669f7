// SPDX-License-Identifier: MIT

package sink

import (
	"net"
	"net/http"
	"time"
)

// awshttpClient builds the *http.Client the object-store sink hands to the
// S3 SDK. Connect and TLS handshake are bounded by timeout; the overall
// per-request deadline is enforced separately via context, matching the
// AWS SDK v2's expectation that HTTPClient only bounds transport-level I/O.
func awshttpClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: timeout}
	return &http.Client{
		Transport: &http.Transport{
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   timeout,
			ResponseHeaderTimeout: timeout,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}
