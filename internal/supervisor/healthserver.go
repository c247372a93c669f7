// SPDX-License-Identifier: MIT

package supervisor

import (
	"context"
	"net/http"

	"github.com/chponte/libreeye/internal/health"
)

// healthServer wraps internal/health's HTTP handler as a suture.Service so
// the root supervision tree restarts it if it ever dies unexpectedly, the
// same treatment the control socket gets.
type healthServer struct {
	addr    string
	handler http.Handler
}

func (h *healthServer) String() string { return "health-http:" + h.addr }

func (h *healthServer) Serve(ctx context.Context) error {
	return health.ListenAndServe(ctx, h.addr, h.handler)
}
