// Package objectstore uploads pipeline artifacts to S3-compatible storage, through
// the minio client or by shelling out to the aws CLI.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/config"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/ports"
)

// MinioConfig locates the S3 endpoint.
type MinioConfig struct {
	Endpoint string
	Region   string
	UseSSL   bool
}

// MinioStore is the primary uploader.
type MinioStore struct {
	client *minio.Client
}

var _ ports.ObjectStore = (*MinioStore)(nil)

// NewMinioStore builds a client with static credentials; a session token is passed through.
func NewMinioStore(cfg MinioConfig, creds config.AWSCredentials) (*MinioStore, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("s3 endpoint is required")
	}
	if u, ok := strings.CutPrefix(endpoint, "https://"); ok {
		endpoint, cfg.UseSSL = u, true
	} else if u, ok := strings.CutPrefix(endpoint, "http://"); ok {
		endpoint, cfg.UseSSL = u, false
	}
	region := cfg.Region
	if region == "" {
		region = creds.Region()
	}

	client, err := minio.New(strings.TrimSuffix(endpoint, "/"), &minio.Options{
		Creds:     credentials.NewStaticV4(creds.AccessKeyID(), creds.SecretAccessKey(), creds.SessionToken()),
		Secure:    cfg.UseSSL,
		Region:    region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("new minio client: %w", err)
	}
	return &MinioStore{client: client}, nil
}

// Put uploads localPath to bucket/key.
func (s *MinioStore) Put(ctx context.Context, localPath, bucket, key string) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("minio store not initialized")
	}
	opts := minio.PutObjectOptions{ContentType: contentType(localPath)}
	if _, err := s.client.FPutObject(ctx, bucket, key, localPath, opts); err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}

func contentType(path string) string {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".tif", ".tiff":
		return "image/tiff"
	case ".h5":
		return "application/x-hdf5"
	case ".yaml", ".yml":
		return "application/yaml"
	default:
		if t := mime.TypeByExtension(ext); t != "" {
			return t
		}
		return "application/octet-stream"
	}
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
