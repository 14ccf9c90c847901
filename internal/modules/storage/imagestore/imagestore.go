package imagestore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	appcfg "github.com/slidecraft/server/internal/config"
)

// Uploader puts generated images into an S3-compatible bucket and returns
// their public URL.
type Uploader struct {
	client       *s3.Client
	endpoint     *url.URL
	bucket       string
	region       string
	prefix       string
	customDomain string
	pathStyle    bool
	now          func() time.Time
}

func New(opts appcfg.StorageConfig) (*Uploader, error) {
	bucket := strings.TrimSpace(opts.Bucket)
	region := strings.TrimSpace(opts.Region)
	accessKey := strings.TrimSpace(opts.AccessKeyID)
	secretKey := strings.TrimSpace(opts.SecretAccessKey)
	if bucket == "" || region == "" || accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("incomplete s3 config: bucket/region/access_key_id/secret_access_key are required")
	}

	endpoint := strings.TrimSpace(opts.Endpoint)
	custom := endpoint != ""
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://s3.%s.amazonaws.com", region)
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	endpoint = strings.TrimSuffix(endpoint, "/")
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid s3 endpoint: %s", endpoint)
	}

	// Self-hosted endpoints (minio, r2) generally only serve path-style.
	pathStyle := opts.PathStyleAccess || custom

	s3opts := s3.Options{
		Region:       region,
		Credentials:  aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		UsePathStyle: pathStyle,
	}
	if custom {
		s3opts.BaseEndpoint = aws.String(endpoint)
	}

	return &Uploader{
		client:       s3.New(s3opts),
		endpoint:     parsed,
		bucket:       bucket,
		region:       region,
		prefix:       strings.Trim(strings.TrimSpace(opts.Prefix), "/"),
		customDomain: strings.TrimRight(strings.TrimSpace(opts.CustomDomain), "/"),
		pathStyle:    pathStyle,
		now:          time.Now,
	}, nil
}

// ObjectKey derives a stable key for the image generated from prompt:
// <prefix>/<yyyy>/<mm>/<sha256[:16]>.png
func (u *Uploader) ObjectKey(prompt string) string {
	return objectKey(u.prefix, prompt, u.now())
}

func objectKey(prefix, prompt string, t time.Time) string {
	sum := sha256.Sum256([]byte(prompt))
	name := hex.EncodeToString(sum[:])[:16] + ".png"
	key := fmt.Sprintf("%04d/%02d/%s", t.Year(), int(t.Month()), name)
	if prefix != "" {
		key = prefix + "/" + key
	}
	return key
}

// Upload stores payload under objectKey and returns the public URL.
func (u *Uploader) Upload(ctx context.Context, objectKey string, payload []byte, contentType string) (string, error) {
	key := normalizeObjectKey(objectKey)
	if key == "" {
		return "", fmt.Errorf("invalid s3 object key")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(payload),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(payload))),
	})
	if err != nil {
		return "", fmt.Errorf("s3 upload failed: %w", err)
	}
	return u.PublicURL(key), nil
}

// PublicURL is where clients fetch an uploaded key from.
func (u *Uploader) PublicURL(objectKey string) string {
	key := normalizeObjectKey(objectKey)
	if u.customDomain != "" {
		domain := u.customDomain
		if !strings.HasPrefix(domain, "http://") && !strings.HasPrefix(domain, "https://") {
			domain = "https://" + domain
		}
		return domain + "/" + key
	}

	basePath := strings.TrimSuffix(u.endpoint.Path, "/")
	if u.pathStyle {
		return u.endpoint.Scheme + "://" + u.endpoint.Host + joinURLPath(basePath, u.bucket, encodeObjectKey(key))
	}
	host := u.endpoint.Host
	if !strings.HasPrefix(strings.ToLower(host), strings.ToLower(u.bucket)+".") {
		host = u.bucket + "." + host
	}
	return u.endpoint.Scheme + "://" + host + joinURLPath(basePath, encodeObjectKey(key))
}

func normalizeObjectKey(key string) string {
	key = strings.TrimSpace(strings.ReplaceAll(key, "\\", "/"))
	key = strings.TrimPrefix(key, "/")
	for strings.Contains(key, "//") {
		key = strings.ReplaceAll(key, "//", "/")
	}
	return key
}

func encodeObjectKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

func joinURLPath(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p == "" {
			continue
		}
		b.WriteString("/")
		b.WriteString(p)
	}
	if b.Len() == 0 {
		return "/"
	}
	return b.String()
}
