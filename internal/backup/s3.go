package backup

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path"
	"strings"
)

// S3Config configures snapshot uploads to an S3-compatible bucket.
// BucketURL takes the form s3://bucket/prefix; the prefix is optional.
type S3Config struct {
	BucketURL    string
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	SessionToken string
	UseSSL       bool
}

// S3Uploader ships snapshot files with `aws s3 cp`. Shelling out to the
// CLI avoids pulling the AWS SDK in for a single copy operation.
type S3Uploader struct {
	bucket string
	prefix string
	cfg    S3Config
}

func NewS3Uploader(cfg S3Config) (*S3Uploader, error) {
	if strings.TrimSpace(cfg.AccessKey) == "" || strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errors.New("s3: access key and secret key are required")
	}
	bucket, prefix, err := splitBucketURL(cfg.BucketURL)
	if err != nil {
		return nil, err
	}
	if _, err := exec.LookPath("aws"); err != nil {
		return nil, errors.New("s3: aws cli not found in PATH")
	}
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = "us-east-1"
	}
	return &S3Uploader{bucket: bucket, prefix: prefix, cfg: cfg}, nil
}

// UploadFile copies localPath into the bucket under the configured
// prefix, keeping the local file name as the object name.
func (u *S3Uploader) UploadFile(ctx context.Context, localPath string) error {
	cmd := exec.CommandContext(ctx, "aws", u.copyArgs(localPath)...)
	cmd.Env = u.credentialEnv()

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("s3 upload command failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (u *S3Uploader) copyArgs(localPath string) []string {
	args := []string{"s3", "cp", localPath, u.objectURL(localPath),
		"--region", u.cfg.Region, "--only-show-errors"}
	if ep := endpointURL(u.cfg.Endpoint, u.cfg.UseSSL); ep != "" {
		args = append(args, "--endpoint-url", ep)
	}
	return args
}

func (u *S3Uploader) objectURL(localPath string) string {
	key := path.Base(localPath)
	if u.prefix != "" {
		key = path.Join(u.prefix, key)
	}
	return "s3://" + u.bucket + "/" + key
}

func (u *S3Uploader) credentialEnv() []string {
	env := append(os.Environ(),
		"AWS_ACCESS_KEY_ID="+u.cfg.AccessKey,
		"AWS_SECRET_ACCESS_KEY="+u.cfg.SecretKey,
		"AWS_DEFAULT_REGION="+u.cfg.Region,
	)
	if tok := strings.TrimSpace(u.cfg.SessionToken); tok != "" {
		env = append(env, "AWS_SESSION_TOKEN="+tok)
	}
	return env
}

// endpointURL turns a bare host into a URL for --endpoint-url. Values
// that already carry a scheme pass through unchanged.
func endpointURL(endpoint string, useSSL bool) string {
	endpoint = strings.TrimSpace(endpoint)
	switch {
	case endpoint == "":
		return ""
	case strings.HasPrefix(endpoint, "http://"), strings.HasPrefix(endpoint, "https://"):
		return endpoint
	case useSSL:
		return "https://" + endpoint
	default:
		return "http://" + endpoint
	}
}

func splitBucketURL(raw string) (bucket, prefix string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("s3: parse bucket-url: %w", err)
	}
	if u.Scheme != "s3" {
		return "", "", errors.New("s3: bucket-url must use s3:// scheme")
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", "", errors.New("s3: bucket-url missing bucket name")
	}
	return u.Host, strings.Trim(strings.TrimSpace(u.Path), "/"), nil
}
