package objectstore

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/config"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/ports"
)

// CLIStore uploads with "aws s3 cp". The credentials are handed to the child
// process only.
type CLIStore struct {
	binary   string
	endpoint string
	creds    config.AWSCredentials
}

var _ ports.ObjectStore = (*CLIStore)(nil)

// NewCLIStore resolves the aws binary. A custom endpoint is passed as --endpoint-url.
func NewCLIStore(binary, endpoint string, creds config.AWSCredentials) (*CLIStore, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "aws"
	}
	if _, err := exec.LookPath(binary); err != nil {
		return nil, fmt.Errorf("aws binary not found: %w", err)
	}
	return &CLIStore{binary: binary, endpoint: endpoint, creds: creds}, nil
}

// Put copies localPath to s3://bucket/key.
func (s *CLIStore) Put(ctx context.Context, localPath, bucket, key string) error {
	cmd := exec.CommandContext(ctx, s.binary, s.args(localPath, bucket, key)...)
	cmd.Env = append(os.Environ(), s.creds.Env()...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("aws s3 cp failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (s *CLIStore) args(localPath, bucket, key string) []string {
	args := []string{"s3", "cp", "--only-show-errors", localPath, "s3://" + bucket + "/" + key}
	if s.endpoint != "" && !strings.Contains(s.endpoint, "amazonaws.com") {
		ep := s.endpoint
		if !strings.Contains(ep, "://") {
			ep = "https://" + ep
		}
		args = append(args, "--endpoint-url", ep)
	}
	return args
}
