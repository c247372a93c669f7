// SPDX-License-Identifier: MIT

package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsretry "github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/chponte/libreeye/internal/rerror"
	"github.com/chponte/libreeye/internal/util"
)

// minPartSize is the S3 multipart-upload protocol minimum for any part but
// the last (5 MiB).
//
// Reference: surveillance/sinks/aws_bucket.py's _part_min_size.
const minPartSize = 5 * 1024 * 1024

// uploadQueueCapacity bounds how many in-flight blocks a pipeline can hand
// the background uploader before Write starts applying backpressure.
const uploadQueueCapacity = 64

// ObjectStoreSink performs one multipart upload per segment against an
// S3-compatible object store. Open verifies the bucket and creates the
// multipart upload itself; Write never touches the network directly, it
// hands blocks to a single background uploader goroutine so a slow network
// never blocks the byte-reader for longer than the queue stays unfull.
//
// Reference: surveillance/sinks/aws_bucket.py's _UploadThread.
type ObjectStoreSink struct {
	stateBox

	name      string
	bucket    string
	keyPrefix string
	client    *s3.Client
	timeout   time.Duration

	mu       sync.Mutex
	upload   *multipartUpload
	logDebug func(string, ...any)
}

type multipartUpload struct {
	key      string
	uploadID string

	queue chan []byte
	stop  chan struct{}
	done  chan struct{}

	errMu sync.Mutex
	err   error
}

// ObjectStoreConfig configures an ObjectStoreSink's S3 client.
type ObjectStoreConfig struct {
	Bucket      string
	KeyPrefix   string
	Region      string
	Endpoint    string // optional, for S3-compatible backends
	AccessKeyID string
	SecretKey   string
	Timeout     time.Duration
	LogDebug    func(string, ...any) // optional
}

// NewObjectStoreSink builds a sink against the given S3-compatible bucket.
// The client is configured with connect/read timeouts and zero automatic
// retries, matching the "sink never retries internally" policy: retries are
// the pipeline's concern.
func NewObjectStoreSink(name string, cfg ObjectStoreConfig) (*ObjectStoreSink, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	client := NewS3Client(cfg)

	logDebug := cfg.LogDebug
	if logDebug == nil {
		logDebug = func(string, ...any) {}
	}

	return &ObjectStoreSink{
		name:      name,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		client:    client,
		timeout:   cfg.Timeout,
		logDebug:  logDebug,
	}, nil
}

// NewS3Client builds the S3 client one ObjectStoreConfig describes: fixed
// timeouts, zero SDK-internal retries (retries are the pipeline's concern),
// optional static credentials and S3-compatible endpoint override. Shared
// with internal/retention so the retention sweep's object-store backend
// talks to the same bucket through the same client configuration as the
// sink that wrote to it.
func NewS3Client(cfg ObjectStoreConfig) *s3.Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	httpClient := awshttpClient(cfg.Timeout)

	opts := []func(*s3.Options){
		func(o *s3.Options) {
			o.HTTPClient = httpClient
			o.Retryer = awsretry.AddWithMaxAttempts(awsretry.NewStandard(), 1)
			o.Region = cfg.Region
			if cfg.AccessKeyID != "" {
				o.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, "")
			}
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
				o.UsePathStyle = true
			}
		},
	}

	return s3.New(s3.Options{Region: cfg.Region}, opts...)
}

func (o *ObjectStoreSink) Name() string { return o.name }

func (o *ObjectStoreSink) IsOpened() bool { return o.isOpened() }

// Open verifies the bucket is reachable, then starts a fresh multipart
// upload and its background uploader goroutine.
func (o *ObjectStoreSink) Open(ext string) error {
	if o.isOpened() {
		return nil
	}
	if !o.casOpening() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	if err := o.verifyBucket(ctx); err != nil {
		o.set(StateClosed)
		return err
	}

	key := path.Join(o.keyPrefix, segmentName(now(), ext))
	created, err := o.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		o.set(StateClosed)
		return translateNetworkError(err, "create multipart upload")
	}

	up := &multipartUpload{
		key:      key,
		uploadID: aws.ToString(created.UploadId),
		queue:    make(chan []byte, uploadQueueCapacity),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	o.mu.Lock()
	o.upload = up
	o.mu.Unlock()

	util.SafeGo(fmt.Sprintf("objectstore-uploader-%s", o.name), nil, func() {
		o.uploaderLoop(up)
	}, func(r any, _ []byte) {
		up.recordErr(rerror.New(rerror.KindInternal, fmt.Sprintf("uploader panic: %v", r)))
		close(up.done)
	})

	o.logDebug("opened multipart upload bucket=%s key=%s id=%s", o.bucket, key, up.uploadID)
	o.set(StateOpen)
	return nil
}

func (o *ObjectStoreSink) verifyBucket(ctx context.Context) error {
	resp, err := o.client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return translateNetworkError(err, "list buckets")
	}
	for _, b := range resp.Buckets {
		if aws.ToString(b.Name) == o.bucket {
			return nil
		}
	}
	return rerror.New(rerror.KindNotFound, fmt.Sprintf("bucket %q not found", o.bucket))
}

// Write enqueues block for the background uploader. If the uploader has
// already recorded an error, Write surfaces it instead of enqueueing -- the
// block that triggered the failure is never replayed.
func (o *ObjectStoreSink) Write(block []byte) error {
	o.mu.Lock()
	up := o.upload
	o.mu.Unlock()

	if up == nil || !o.isOpened() {
		return rerror.New(rerror.KindInternal, "write on unopened object-store sink")
	}
	if err := up.loadErr(); err != nil {
		return err
	}

	cp := make([]byte, len(block))
	copy(cp, block)
	select {
	case up.queue <- cp:
		return nil
	case <-up.stop:
		return rerror.New(rerror.KindIO, "write after close requested")
	}
}

// uploaderLoop drains the queue, accumulating bytes until the internal
// buffer reaches minPartSize, then issues one UploadPart of exactly
// minPartSize bytes with a monotonically increasing part number, carrying
// any excess over into the next part. The final part takes whatever remains.
//
// Reference: surveillance/sinks/aws_bucket.py's _UploadThread.run.
func (o *ObjectStoreSink) uploaderLoop(up *multipartUpload) {
	defer close(up.done)

	ctx := context.Background()
	var buf bytes.Buffer
	var parts []types.CompletedPart
	partNum := int32(1)

	flush := func(final bool) bool {
		if buf.Len() == 0 || (!final && buf.Len() < minPartSize) {
			return true
		}
		n := buf.Len()
		if !final {
			n = minPartSize
		}
		body := bytes.NewReader(buf.Next(n))
		resp, err := o.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:     aws.String(o.bucket),
			Key:        aws.String(up.key),
			UploadId:   aws.String(up.uploadID),
			PartNumber: aws.Int32(partNum),
			Body:       body,
		})
		if err != nil {
			up.recordErr(translateNetworkError(err, "upload part"))
			return false
		}
		parts = append(parts, types.CompletedPart{
			ETag:       resp.ETag,
			PartNumber: aws.Int32(partNum),
		})
		partNum++
		return true
	}

loop:
	for {
		select {
		case block, ok := <-up.queue:
			if !ok {
				break loop
			}
			buf.Write(block)
			if !flush(false) {
				// Drain the rest of the queue without uploading so Close
				// does not deadlock waiting on a stuck uploader.
				o.drainAndAbort(up)
				return
			}
		case <-up.stop:
			break loop
		}
	}

	// Drain whatever was queued between the stop signal and here.
	for {
		select {
		case block := <-up.queue:
			buf.Write(block)
		default:
			goto drained
		}
	}
drained:
	if !flush(true) {
		return
	}

	_, err := o.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(o.bucket),
		Key:             aws.String(up.key),
		UploadId:        aws.String(up.uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		up.recordErr(translateNetworkError(err, "complete multipart upload"))
	}
}

func (o *ObjectStoreSink) drainAndAbort(up *multipartUpload) {
	for {
		select {
		case <-up.queue:
		case <-up.stop:
			return
		default:
			return
		}
	}
}

// Close signals the uploader to stop, waits for it to finalize the
// multipart upload, and surfaces any recorded error. If the uploader does
// not finish within the configured timeout, Close returns a timeout error
// and leaves the multipart upload incomplete for out-of-band cleanup.
func (o *ObjectStoreSink) Close() error {
	if o.get() == StateClosed {
		return nil
	}
	o.set(StateClosing)

	o.mu.Lock()
	up := o.upload
	o.upload = nil
	o.mu.Unlock()

	o.set(StateClosed)
	if up == nil {
		return nil
	}

	close(up.stop)
	select {
	case <-up.done:
		return up.loadErr()
	case <-time.After(o.timeout):
		return rerror.New(rerror.KindTimeout, "timed out waiting for multipart upload to finalize")
	}
}

func (u *multipartUpload) recordErr(err error) {
	u.errMu.Lock()
	if u.err == nil {
		u.err = err
	}
	u.errMu.Unlock()
}

func (u *multipartUpload) loadErr() error {
	u.errMu.Lock()
	defer u.errMu.Unlock()
	return u.err
}

// translateNetworkError classifies an AWS SDK error the way the sink
// contract expects: 403 -> permission, not-found -> not-found, everything
// else reachable over the wire -> network.
//
// Reference: surveillance/sinks/aws_bucket.py's open()/ClientError handling.
func translateNetworkError(err error, op string) error {
	var apiErr interface{ ErrorCode() string }
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "Forbidden":
			return rerror.Wrap(rerror.KindPermission, op, err)
		case "NoSuchBucket", "NoSuchKey", "NoSuchUpload":
			return rerror.Wrap(rerror.KindNotFound, op, err)
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case 403:
			return rerror.Wrap(rerror.KindPermission, op, err)
		case 404:
			return rerror.Wrap(rerror.KindNotFound, op, err)
		}
	}
	return rerror.Wrap(rerror.KindNetwork, op, err)
}
