// SPDX-License-Identifier: MIT

package sink

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/chponte/libreeye/internal/broadcastapi"
	"github.com/chponte/libreeye/internal/rerror"
)

// BroadcastSink streams each segment to a live broadcast event: Open starts
// a new event and begins streaming its bytes to the provider's ingest URL,
// Close ends the event. Unlike FileSink and ObjectStoreSink, a broadcast
// segment is not a static object a client can fetch after the fact; ending
// the event is what finalizes the recording on the provider's side.
//
// Reference: storage/youtube.py's YoutubeWriter, adapted from a per-frame
// ffmpeg-stdin pipe talking directly to the YouTube/RTMP API onto the
// generic broadcastapi.Client control plane plus a streamed HTTP PUT for
// the media body.
type BroadcastSink struct {
	stateBox

	name     string
	client   *broadcastapi.Client
	timeout  time.Duration
	httpDo   func(*http.Request) (*http.Response, error)
	logDebug func(string, ...any)

	mu      sync.Mutex
	current *broadcastSession
}

type broadcastSession struct {
	id string

	pw *io.PipeWriter

	done  chan struct{}
	errMu sync.Mutex
	err   error
}

// BroadcastConfig configures a BroadcastSink.
type BroadcastConfig struct {
	APIURL   string
	Token    string
	Timeout  time.Duration
	LogDebug func(string, ...any)
}

// NewBroadcastSink builds a sink that manages live events through cfg's
// control plane.
func NewBroadcastSink(name string, cfg BroadcastConfig) *BroadcastSink {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	logDebug := cfg.LogDebug
	if logDebug == nil {
		logDebug = func(string, ...any) {}
	}
	client := broadcastapi.NewClient(cfg.APIURL, cfg.Token, broadcastapi.WithTimeout(cfg.Timeout))
	httpClient := &http.Client{Timeout: 0} // streaming body, no overall deadline
	return &BroadcastSink{
		name:     name,
		client:   client,
		timeout:  cfg.Timeout,
		httpDo:   httpClient.Do,
		logDebug: logDebug,
	}
}

func (b *BroadcastSink) Name() string { return b.name }

func (b *BroadcastSink) IsOpened() bool { return b.isOpened() }

// Open creates a new broadcast event and starts streaming its body to the
// provider's ingest URL in the background. Write feeds an in-process pipe;
// the HTTP request reads from the pipe's read end as bytes arrive, so the
// segment is broadcast live rather than buffered and replayed.
func (b *BroadcastSink) Open(_ string) error {
	if b.isOpened() {
		return nil
	}
	if !b.casOpening() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	title := fmt.Sprintf("%s - %s", b.name, time.Now().Local().Format(time.RFC3339))
	bc, err := b.client.CreateBroadcast(ctx, title)
	if err != nil {
		b.set(StateClosed)
		return rerror.Wrap(rerror.KindNetwork, "create broadcast", err)
	}
	if bc.IngestURL == "" {
		b.set(StateClosed)
		return rerror.New(rerror.KindUnreachable, "broadcast provider returned no ingest url")
	}

	pr, pw := io.Pipe()
	sess := &broadcastSession{id: bc.ID, pw: pw, done: make(chan struct{})}

	req, err := http.NewRequest(http.MethodPut, bc.IngestURL, pr)
	if err != nil {
		b.set(StateClosed)
		return rerror.Wrap(rerror.KindInternal, "build ingest request", err)
	}

	b.mu.Lock()
	b.current = sess
	b.mu.Unlock()

	go func() {
		defer close(sess.done)
		resp, err := b.httpDo(req)
		if err != nil {
			sess.recordErr(rerror.Wrap(rerror.KindNetwork, "stream to ingest url", err))
			return
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode >= 300 {
			sess.recordErr(rerror.New(rerror.KindNetwork, fmt.Sprintf("ingest endpoint returned status %d", resp.StatusCode)))
		}
	}()

	b.logDebug("opened broadcast id=%s title=%s", bc.ID, title)
	b.set(StateOpen)
	return nil
}

// Write pushes block onto the live ingest pipe. A write that returns an
// error here means the HTTP stream has already failed; the pipeline should
// treat this like any other sink write failure and let Close tear the
// session down.
func (b *BroadcastSink) Write(block []byte) error {
	b.mu.Lock()
	sess := b.current
	b.mu.Unlock()

	if sess == nil || !b.isOpened() {
		return rerror.New(rerror.KindInternal, "write on unopened broadcast sink")
	}
	if _, err := sess.pw.Write(block); err != nil {
		return rerror.Wrap(rerror.KindNetwork, "write to ingest pipe", err)
	}
	return nil
}

// Close closes the ingest pipe, waits for the streaming request to finish,
// and ends the broadcast event.
func (b *BroadcastSink) Close() error {
	if b.get() == StateClosed {
		return nil
	}
	b.set(StateClosing)

	b.mu.Lock()
	sess := b.current
	b.current = nil
	b.mu.Unlock()

	b.set(StateClosed)
	if sess == nil {
		return nil
	}

	_ = sess.pw.Close()

	select {
	case <-sess.done:
	case <-time.After(b.timeout):
		return rerror.New(rerror.KindTimeout, "timed out waiting for ingest stream to finish")
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	if err := b.client.EndBroadcast(ctx, sess.id); err != nil {
		return rerror.Wrap(rerror.KindNetwork, "end broadcast", err)
	}
	return sess.loadErr()
}

func (s *broadcastSession) recordErr(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
}

func (s *broadcastSession) loadErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}
