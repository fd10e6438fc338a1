// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package s3 implements backing store device on top of S3 object storage. It
// uses aws api v1. The address space is split into chunks of fixed size and
// every chunk is stored as one object. Chunks never written do not exist and
// read as zeros.
package s3

import (
	"bytes"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"golang.org/x/net/http2"
)

const (
	// Format string for the chunk key.
	keyFmt = "%08x/%08x"

	// Number of locks guarding read-modify-write of partially written
	// chunks. Chunks share locks by their number modulo this.
	chunkLocks = 64

	blockSize = 512
)

// Implementation of backing store device using AWS S3 as a backend.
// Parameters of http connection are carefully tuned for the best performance
// in the AWS environment.
type S3 struct {
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
	client     *s3.S3
	bucket     string
	prefix     string
	size       int64
	chunkSize  int64

	locks [chunkLocks]sync.Mutex
}

// Options to use in New() function due to high number of parameters. There is
// lower chance of ordering mistake with named parameters.
type Options struct {
	Remote    string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string

	// Prefix of all object keys, distinguishes stores sharing a bucket.
	Prefix string

	// Size of the store and of one chunk in bytes.
	Size      int64
	ChunkSize int64
}

// Helper struct used for tuning the http connection.
type httpClientSettings struct {
	connect          time.Duration
	connKeepAlive    time.Duration
	expectContinue   time.Duration
	idleConn         time.Duration
	maxAllIdleConns  int
	maxHostIdleConns int
	responseHeader   time.Duration
	tlsHandshake     time.Duration
}

// Returns http client with configured parameters and added https2 support.
func newHTTPClientWithSettings(httpSettings httpClientSettings) *http.Client {
	tr := &http.Transport{
		ResponseHeaderTimeout: httpSettings.responseHeader,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: httpSettings.connKeepAlive,
			Timeout:   httpSettings.connect,
		}).DialContext,
		MaxIdleConns:          httpSettings.maxAllIdleConns,
		IdleConnTimeout:       httpSettings.idleConn,
		TLSHandshakeTimeout:   httpSettings.tlsHandshake,
		MaxIdleConnsPerHost:   httpSettings.maxHostIdleConns,
		ExpectContinueTimeout: httpSettings.expectContinue,
	}

	http2.ConfigureTransport(tr)

	return &http.Client{
		Transport: tr,
	}
}

func New(o Options) (*S3, error) {
	if o.ChunkSize <= 0 || o.ChunkSize%blockSize != 0 {
		return nil, fmt.Errorf("chunk size %d is not a positive multiple of %d", o.ChunkSize, blockSize)
	}

	s := &S3{
		bucket:    o.Bucket,
		prefix:    o.Prefix,
		size:      o.Size,
		chunkSize: o.ChunkSize,
	}

	// For the best possible performance it should be tuned according to
	// the object backend. Following settings are recommended by AWS for
	// usage in their network.
	httpClient := newHTTPClientWithSettings(httpClientSettings{
		connect:          5 * time.Second,
		expectContinue:   1 * time.Second,
		idleConn:         90 * time.Second,
		connKeepAlive:    30 * time.Second,
		maxAllIdleConns:  100,
		maxHostIdleConns: 10,
		responseHeader:   5 * time.Second,
		tlsHandshake:     5 * time.Second,
	})

	sess, err := session.NewSession(&aws.Config{
		Endpoint:                      aws.String(o.Remote),
		Region:                        aws.String(o.Region),
		Credentials:                   credentials.NewStaticCredentials(o.AccessKey, o.SecretKey, ""),
		S3ForcePathStyle:              aws.Bool(true),
		S3DisableContentMD5Validation: aws.Bool(true),
		HTTPClient:                    httpClient,
	})

	if err != nil {
		return nil, err
	}

	s.client = s3.New(sess)
	s.uploader = s3manager.NewUploader(sess)
	s.downloader = s3manager.NewDownloader(sess)

	// Chunks are small, we do not benefit from multipart transfers.
	s.uploader.Concurrency = 1
	s3manager.WithUploaderRequestOptions(request.Option(func(r *request.Request) {
		r.HTTPRequest.Header.Add("X-Amz-Content-Sha256", "UNSIGNED-PAYLOAD")
	}))(s.uploader)
	s.downloader.Concurrency = 1

	err = s.makeBucketExist()

	return s, err
}

// Check whether bucket exist and if not, create it and wait until it appears.
func (s *S3) makeBucketExist() error {
	_, err := s.client.HeadBucket(&s3.HeadBucketInput{Bucket: aws.String(s.bucket)})

	if err != nil {
		_, err = s.client.CreateBucket(&s3.CreateBucketInput{
			Bucket: aws.String(s.bucket)})

		if err == nil {
			err = s.client.WaitUntilBucketExists(&s3.HeadBucketInput{
				Bucket: aws.String(s.bucket)})
		}
	}

	return err
}

// ReadAt reads the range chunk by chunk.
func (s *S3) ReadAt(buf []byte, offset int64) error {
	return s.forEachChunk(buf, offset, func(chunk int64, part []byte, within int64) error {
		return s.downloadAt(chunk, part, within)
	})
}

// WriteAt writes the range chunk by chunk. Chunks covered only partially are
// downloaded, patched and uploaded again.
func (s *S3) WriteAt(buf []byte, offset int64) error {
	return s.forEachChunk(buf, offset, func(chunk int64, part []byte, within int64) error {
		lock := &s.locks[chunk%chunkLocks]
		lock.Lock()
		defer lock.Unlock()

		if int64(len(part)) == s.chunkSize {
			return s.upload(chunk, part)
		}

		whole := make([]byte, s.chunkSize)
		if err := s.downloadAt(chunk, whole, 0); err != nil {
			return err
		}
		copy(whole[within:], part)

		return s.upload(chunk, whole)
	})
}

// Splits range starting at offset with length of buf on chunk boundaries and
// calls fn for every piece.
func (s *S3) forEachChunk(buf []byte, offset int64, fn func(chunk int64, part []byte, within int64) error) error {
	for len(buf) > 0 {
		chunk := offset / s.chunkSize
		within := offset % s.chunkSize
		n := s.chunkSize - within
		if n > int64(len(buf)) {
			n = int64(len(buf))
		}

		if err := fn(chunk, buf[:n], within); err != nil {
			return err
		}

		buf = buf[n:]
		offset += n
	}

	return nil
}

func (s *S3) upload(chunk int64, buf []byte) error {
	_, err := s.uploader.Upload(&s3manager.UploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(chunk)),
		Body:   bytes.NewReader(buf),
	})

	return err
}

// Downloads part of the chunk into buf. Chunks which were never written are
// returned zeroed.
func (s *S3) downloadAt(chunk int64, buf []byte, offset int64) error {
	to := offset + int64(len(buf)) - 1
	rng := fmt.Sprintf("bytes=%d-%d", offset, to)
	b := aws.NewWriteAtBuffer(buf)

	_, err := s.downloader.Download(b, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(chunk)),
		Range:  &rng,
	})

	if isNotFound(err) {
		for i := range buf {
			buf[i] = 0
		}
		return nil
	}

	return err
}

func isNotFound(err error) bool {
	aerr, ok := err.(awserr.Error)
	if !ok {
		return false
	}

	return aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == "NotFound"
}

func (s *S3) Size() int64 {
	return s.size
}

func (s *S3) BlockSize() int64 {
	return blockSize
}

// Nothing to release, all connections are pooled by the http client.
func (s *S3) Close() error {
	return nil
}

func (s *S3) key(chunk int64) string {
	return s.prefix + encode(chunk)
}

// We split the chunk number into halves and use the lower half of bits as s3
// prefix and upper half for the object key. This is to prevent s3 rate
// limiting which is applied to objects with the same prefix.
func encode(chunk int64) string {
	left := (chunk >> 32) & 0xffffffff
	right := chunk & 0xffffffff

	return fmt.Sprintf(keyFmt, right, left)
}

