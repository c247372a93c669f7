// SPDX-License-Identifier: MIT

// Package health provides an HTTP health check endpoint for the libreeye
// camera-recording daemon.
//
// The health check exposes per-camera status at /healthz as JSON, suitable
// for systemd watchdog, load balancer probes, or monitoring systems. A
// Prometheus-compatible /metrics endpoint is also served, giving per-camera
// uptime and recorded-byte counters plus recording-filesystem disk gauges
// for fleet monitoring via Grafana/Prometheus.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
)

// CameraInfo describes the health state of a single supervised camera.
type CameraInfo struct {
	Name         string        `json:"name"`
	State        string        `json:"state"`
	Uptime       time.Duration `json:"uptime_ns"`
	Healthy      bool          `json:"healthy"`
	Error        string        `json:"error,omitempty"`
	Restarts     int           `json:"restarts,omitempty"`      // supervision-tree restarts for this camera's pipeline
	BytesWritten uint64        `json:"bytes_written,omitempty"` // bytes written to this camera's sinks since startup
	BytesHuman   string        `json:"bytes_written_human,omitempty"`
}

// SystemInfo contains system-level health data included in the health
// response: free space on the recording filesystem, since a camera daemon
// that fills its disk silently stops recording.
type SystemInfo struct {
	DiskFreeBytes  uint64 `json:"disk_free_bytes"`
	DiskTotalBytes uint64 `json:"disk_total_bytes"`
	DiskFreeHuman  string `json:"disk_free_human"`
	DiskTotalHuman string `json:"disk_total_human"`
	DiskLowWarning bool   `json:"disk_low_warning,omitempty"`
}

// StatusProvider returns the current health status of every supervised
// camera. internal/supervisor.Supervisor implements this interface.
type StatusProvider interface {
	Cameras() []CameraInfo
}

// SystemInfoProvider returns system-level health data.
type SystemInfoProvider interface {
	SystemInfo() SystemInfo
}

// Response is the JSON body returned by the health endpoint.
type Response struct {
	Status    string       `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
	Cameras   []CameraInfo `json:"cameras"`
	System    *SystemInfo  `json:"system,omitempty"`
}

// Handler serves the /healthz and /metrics endpoints.
type Handler struct {
	provider    StatusProvider
	sysProvider SystemInfoProvider
}

// NewHandler creates a health check HTTP handler.
func NewHandler(provider StatusProvider) *Handler {
	return &Handler{provider: provider}
}

// WithSystemInfo attaches an optional system info provider to the handler.
// When set, disk space is included in /healthz responses and /metrics
// output.
func (h *Handler) WithSystemInfo(p SystemInfoProvider) *Handler {
	h.sysProvider = p
	return h
}

// ServeHTTP implements http.Handler, routing to /healthz and /metrics.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/metrics":
		h.serveMetrics(w, r)
	default:
		h.serveHealth(w, r)
	}
}

func (h *Handler) serveHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	resp := Response{
		Timestamp: time.Now(),
	}

	var cameras []CameraInfo
	if h.provider != nil {
		cameras = h.provider.Cameras()
	}
	resp.Cameras = cameras

	healthy := len(cameras) > 0
	for _, cam := range cameras {
		if !cam.Healthy {
			healthy = false
			break
		}
	}

	if healthy {
		resp.Status = "healthy"
	} else {
		resp.Status = "unhealthy"
	}

	if h.sysProvider != nil {
		si := h.sysProvider.SystemInfo()
		resp.System = &si
		if si.DiskLowWarning {
			resp.Status = "degraded"
			healthy = false
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy && resp.Status == "healthy" {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// serveMetrics writes a Prometheus text-format metrics response. This
// implements a minimal subset of the exposition format without any
// external dependency — no prometheus/client_golang import required.
func (h *Handler) serveMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var sb strings.Builder

	var cameras []CameraInfo
	if h.provider != nil {
		cameras = h.provider.Cameras()
	}

	if len(cameras) > 0 {
		fmt.Fprintln(&sb, "# HELP libreeye_camera_healthy Is the camera's pipeline currently healthy (1=healthy, 0=not).")
		fmt.Fprintln(&sb, "# TYPE libreeye_camera_healthy gauge")
		for _, cam := range cameras {
			v := 0
			if cam.Healthy {
				v = 1
			}
			fmt.Fprintf(&sb, "libreeye_camera_healthy{camera=%q} %d\n", cam.Name, v)
		}

		fmt.Fprintln(&sb, "# HELP libreeye_camera_uptime_seconds Seconds since the camera's pipeline last started.")
		fmt.Fprintln(&sb, "# TYPE libreeye_camera_uptime_seconds gauge")
		for _, cam := range cameras {
			fmt.Fprintf(&sb, "libreeye_camera_uptime_seconds{camera=%q} %.3f\n", cam.Name, cam.Uptime.Seconds())
		}

		fmt.Fprintln(&sb, "# HELP libreeye_camera_restarts_total Total supervision-tree restarts for the camera's pipeline.")
		fmt.Fprintln(&sb, "# TYPE libreeye_camera_restarts_total counter")
		for _, cam := range cameras {
			fmt.Fprintf(&sb, "libreeye_camera_restarts_total{camera=%q} %d\n", cam.Name, cam.Restarts)
		}

		fmt.Fprintln(&sb, "# HELP libreeye_camera_bytes_written_total Bytes written to the camera's sinks since startup.")
		fmt.Fprintln(&sb, "# TYPE libreeye_camera_bytes_written_total counter")
		for _, cam := range cameras {
			fmt.Fprintf(&sb, "libreeye_camera_bytes_written_total{camera=%q} %d\n", cam.Name, cam.BytesWritten)
		}
	}

	if h.sysProvider != nil {
		si := h.sysProvider.SystemInfo()

		fmt.Fprintln(&sb, "# HELP libreeye_disk_free_bytes Free bytes on the recording filesystem.")
		fmt.Fprintln(&sb, "# TYPE libreeye_disk_free_bytes gauge")
		fmt.Fprintf(&sb, "libreeye_disk_free_bytes %d\n", si.DiskFreeBytes)

		fmt.Fprintln(&sb, "# HELP libreeye_disk_total_bytes Total bytes on the recording filesystem.")
		fmt.Fprintln(&sb, "# TYPE libreeye_disk_total_bytes gauge")
		fmt.Fprintf(&sb, "libreeye_disk_total_bytes %d\n", si.DiskTotalBytes)

		diskLow := 0
		if si.DiskLowWarning {
			diskLow = 1
		}
		fmt.Fprintln(&sb, "# HELP libreeye_disk_low_warning 1 when free disk is below the configured threshold.")
		fmt.Fprintln(&sb, "# TYPE libreeye_disk_low_warning gauge")
		fmt.Fprintf(&sb, "libreeye_disk_low_warning %d\n", diskLow)
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(sb.String()))
}

// ListenAndServe starts the health check HTTP server on the given address.
// It shuts down gracefully when ctx is cancelled.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	return ListenAndServeReady(ctx, addr, handler, nil)
}

// ListenAndServeReady starts the health check HTTP server and signals
// readiness. The listener is bound synchronously so port-in-use errors are
// returned immediately rather than surfacing only after ctx is cancelled.
// Once bound, ready is closed (if non-nil) to signal the endpoint is live.
func ListenAndServeReady(ctx context.Context, addr string, handler http.Handler, ready chan<- struct{}) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	if ready != nil {
		close(ready)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	return <-errCh
}

// DiskLowThreshold is the free-space floor below which DiskSystemInfo
// reports DiskLowWarning.
const DiskLowThreshold = 1 << 30 // 1 GiB

// diskSystemInfo implements SystemInfoProvider over a single filesystem
// root using syscall.Statfs, the same call internal/diagnostics uses for
// its disk-space check.
type diskSystemInfo struct {
	root string
}

// NewDiskSystemInfo returns a SystemInfoProvider reporting free/total space
// on the filesystem containing root — typically a storage backend's
// RootPath, since that is the filesystem recordings actually accumulate on.
func NewDiskSystemInfo(root string) SystemInfoProvider {
	return &diskSystemInfo{root: root}
}

func (d *diskSystemInfo) SystemInfo() SystemInfo {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(d.root, &stat); err != nil {
		return SystemInfo{}
	}
	free := stat.Bavail * uint64(stat.Bsize)
	total := stat.Blocks * uint64(stat.Bsize)
	return SystemInfo{
		DiskFreeBytes:  free,
		DiskTotalBytes: total,
		DiskFreeHuman:  humanize.Bytes(free),
		DiskTotalHuman: humanize.Bytes(total),
		DiskLowWarning: free < DiskLowThreshold,
	}
}
