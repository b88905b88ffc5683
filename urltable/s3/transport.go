// Package s3 provides an S3-compatible transport for urltable.
//
// Locators take the form "s3://bucket/key". The transport works with AWS S3,
// MinIO, LocalStack, Cloudflare R2, and other S3-compatible object stores.
//
// Reads stream the object body. Writes spool to a temporary file and upload
// it with a single PutObject on Close, so an aborted or failed write never
// replaces the stored object. PutObject limits a single object to 5GB.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/pithecene-io/urltable/urltable"
)

// Scheme is the locator scheme served by Transport.
const Scheme = "s3"

// maxPutSize is the S3 PutObject limit.
const maxPutSize = 5 * 1024 * 1024 * 1024 // 5GB

// ErrObjectTooLarge is returned when a write exceeds the PutObject limit.
var ErrObjectTooLarge = errors.New("s3: object exceeds 5GB PutObject limit")

// API defines the subset of the S3 client interface used by the transport.
// This enables testing with mock implementations.
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Config holds configuration for the S3 transport.
type Config struct {
	// Prefix is an optional key prefix applied to every object key
	// (a trailing slash is added if missing).
	Prefix string

	// ContentType is sent with every upload. Empty omits it.
	ContentType string
}

// Transport implements urltable.Transport over an S3-compatible backend.
type Transport struct {
	client      API
	prefix      string
	contentType string
	createTemp  func() (*os.File, error) // temp file factory for write spooling
}

// New creates a transport with the given client and configuration.
//
// The client must be pre-configured with credentials, region, and endpoint;
// see NewClient.
//
// Example:
//
//	client, err := s3.NewClient(ctx, s3.ClientConfig{Region: "us-east-1"})
//	tr, err := s3.New(client, s3.Config{})
//	tbl, err := urltable.NewTable(decl, urltable.WithTransport(s3.Scheme, tr))
func New(client API, cfg Config) (*Transport, error) {
	if client == nil {
		return nil, errors.New("s3: client is required")
	}
	prefix := strings.TrimPrefix(cfg.Prefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Transport{
		client:      client,
		prefix:      prefix,
		contentType: cfg.ContentType,
		createTemp:  func() (*os.File, error) { return os.CreateTemp("", "urltable-s3-*") },
	}, nil
}

// location splits a locator into bucket and key.
func (t *Transport) location(r *urltable.Request) (bucket, key string, err error) {
	u := r.URL
	if u == nil || !strings.EqualFold(u.Scheme, Scheme) {
		return "", "", fmt.Errorf("s3: unsupported locator %v", u)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" || strings.HasSuffix(key, "/") {
		return "", "", fmt.Errorf("s3: locator %q must name a bucket and an object key", u.Redacted())
	}
	return bucket, t.prefix + key, nil
}

// Open issues a GetObject for the locator.
// Returns an error wrapping urltable.ErrNotFound if the object does not exist.
func (t *Transport) Open(ctx context.Context, r *urltable.Request) (io.ReadCloser, error) {
	bucket, key, err := t.location(r)
	if err != nil {
		return nil, err
	}
	out, err := t.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, transportErr("open", fmt.Errorf("s3: get %s/%s: %w", bucket, key, urltable.ErrNotFound))
		}
		return nil, transportErr("open", fmt.Errorf("s3: get object: %w", err))
	}
	return &bodyReader{rc: out.Body}, nil
}

// bodyReader tags failures while streaming an object body as transport
// errors, so a dropped connection is not reported as a decode error.
type bodyReader struct {
	rc io.ReadCloser
}

func (r *bodyReader) Read(p []byte) (int, error) {
	n, err := r.rc.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		err = transportErr("read", fmt.Errorf("s3: read object: %w", err))
	}
	return n, err
}

func (r *bodyReader) Close() error {
	return r.rc.Close()
}

func transportErr(op string, err error) error {
	return &urltable.Error{Kind: urltable.KindTransport, Op: op, Err: err}
}

// Create opens a spooled upload for the locator. The object is written when
// the returned stream is closed.
func (t *Transport) Create(ctx context.Context, r *urltable.Request) (urltable.WriteStream, error) {
	bucket, key, err := t.location(r)
	if err != nil {
		return nil, err
	}
	tmp, err := t.createTemp()
	if err != nil {
		return nil, transportErr("create", fmt.Errorf("s3: creating temp file: %w", err))
	}
	return &writeStream{ctx: ctx, t: t, bucket: bucket, key: key, file: tmp}, nil
}

type writeStream struct {
	ctx    context.Context
	t      *Transport
	bucket string
	key    string
	file   *os.File
	size   int64
}

func (w *writeStream) Write(p []byte) (int, error) {
	if w.file == nil {
		return 0, transportErr("write", io.ErrClosedPipe)
	}
	if w.size+int64(len(p)) > maxPutSize {
		return 0, transportErr("write", ErrObjectTooLarge)
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	if err != nil {
		return n, transportErr("write", fmt.Errorf("s3: spooling: %w", err))
	}
	return n, nil
}

func (w *writeStream) Close() error {
	if w.file == nil {
		return nil
	}
	defer w.discard()

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return transportErr("close", fmt.Errorf("s3: seeking temp file: %w", err))
	}
	in := &s3.PutObjectInput{
		Bucket:        aws.String(w.bucket),
		Key:           aws.String(w.key),
		Body:          w.file,
		ContentLength: aws.Int64(w.size),
	}
	if w.t.contentType != "" {
		in.ContentType = aws.String(w.t.contentType)
	}
	if _, err := w.t.client.PutObject(w.ctx, in); err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return transportErr("close", fmt.Errorf("s3: put object %s/%s: %s: %w", w.bucket, w.key, apiErr.ErrorCode(), err))
		}
		return transportErr("close", fmt.Errorf("s3: put object: %w", err))
	}
	return nil
}

func (w *writeStream) Abort(error) {
	w.discard()
}

func (w *writeStream) discard() {
	if w.file == nil {
		return
	}
	_ = w.file.Close()
	_ = os.Remove(w.file.Name())
	w.file = nil
}

// isNotFound checks if an error indicates the object was not found.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NotFound" || code == "NoSuchKey" || code == "404"
	}
	return false
}
