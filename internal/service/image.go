package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/netip"
	"path"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/pageza/foodlens/backend/config"
	"github.com/pageza/foodlens/backend/internal/apperr"
	"github.com/pageza/foodlens/backend/internal/logging"
)

// ImageFetcher downloads images referenced by URL
type ImageFetcher struct {
	client   *http.Client
	maxBytes int64
	timeout  time.Duration
}

// ErrPrivateAddress is returned when an image URL, or a redirect it
// follows, resolves to a loopback, private or link-local address
var ErrPrivateAddress = errors.New("refusing to connect to a non-public address")

// cgnat is the carrier-grade NAT range, not covered by netip's IsPrivate
var cgnat = netip.MustParsePrefix("100.64.0.0/10")

// PublicAddress reports whether ip is routable on the public internet
func PublicAddress(ip netip.Addr) bool {
	ip = ip.Unmap()
	return ip.IsValid() &&
		!ip.IsLoopback() &&
		!ip.IsPrivate() &&
		!ip.IsLinkLocalUnicast() &&
		!ip.IsLinkLocalMulticast() &&
		!ip.IsInterfaceLocalMulticast() &&
		!ip.IsMulticast() &&
		!ip.IsUnspecified() &&
		!cgnat.Contains(ip)
}

// refusePrivate runs after DNS resolution, so it also covers redirects
// and hostnames that resolve to internal addresses
func refusePrivate(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip, err := netip.ParseAddr(host)
	if err != nil || !PublicAddress(ip) {
		return fmt.Errorf("%w: %s", ErrPrivateAddress, host)
	}
	return nil
}

// NewPublicClient returns an HTTP client that only dials public addresses
func NewPublicClient() *http.Client {
	dialer := &net.Dialer{Timeout: 5 * time.Second, Control: refusePrivate}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext
	return &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return errors.New("stopped after 5 redirects")
			}
			return nil
		},
	}
}

// NewImageFetcher creates a fetcher. Downloads larger than maxBytes are
// rejected. A nil client means NewPublicClient.
func NewImageFetcher(client *http.Client, maxBytes int64, timeout time.Duration) *ImageFetcher {
	if client == nil {
		client = NewPublicClient()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ImageFetcher{client: client, maxBytes: maxBytes, timeout: timeout}
}

// Fetch returns the image bytes and the reported content type
func (f *ImageFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", apperr.Wrap(apperr.KindInvalidImage, "invalid image URL", err)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := f.client.Do(req)
	if errors.Is(err, ErrPrivateAddress) {
		return nil, "", apperr.Wrap(apperr.KindInvalidImage, "image URL must point to a public host", err)
	}
	if err != nil {
		return nil, "", apperr.Wrap(apperr.KindInvalidImage, "failed to download image", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, "", apperr.Wrap(apperr.KindInvalidImage, "failed to download image",
			fmt.Errorf("status %d", resp.StatusCode))
	}
	if f.maxBytes > 0 && resp.ContentLength > f.maxBytes {
		return nil, "", apperr.New(apperr.KindInvalidImage, "the image is too large")
	}

	reader := io.Reader(resp.Body)
	if f.maxBytes > 0 {
		reader = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, "", apperr.Wrap(apperr.KindInvalidImage, "failed to read image data", err)
	}
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return nil, "", apperr.New(apperr.KindInvalidImage, "the image is too large")
	}

	contentType := resp.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = mt
	}
	return data, contentType, nil
}

// ObjectPutter is the part of the S3 client the archive uses
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ImageArchiver stores analyzed images in S3 under prefix/yyyy/mm/dd/fingerprint.ext
type ImageArchiver struct {
	client ObjectPutter
	bucket string
	prefix string
	now    func() time.Time
}

// NewImageArchiver creates an archiver from the S3 settings
func NewImageArchiver(cfg *config.S3Config) *ImageArchiver {
	return newImageArchiver(cfg.Client, cfg.BucketName, cfg.Prefix)
}

func newImageArchiver(client ObjectPutter, bucket, prefix string) *ImageArchiver {
	if prefix == "" {
		prefix = "analyzed-images"
	}
	return &ImageArchiver{client: client, bucket: bucket, prefix: prefix, now: time.Now}
}

// Archive uploads the image. Keys are content addressed, so repeats overwrite.
func (a *ImageArchiver) Archive(ctx context.Context, fingerprint string, image []byte, contentType string) error {
	key := a.Key(fingerprint, contentType)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(image),
		ContentType: aws.String(contentType),
		Metadata:    map[string]string{"fingerprint": fingerprint},
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}

	logging.Debug().Str("bucket", a.bucket).Str("key", key).Msg("archived analyzed image")
	return nil
}

// Key returns the object key for an image
func (a *ImageArchiver) Key(fingerprint, contentType string) string {
	ext := ".bin"
	switch contentType {
	case "image/jpeg":
		ext = ".jpg"
	case "image/png":
		ext = ".png"
	case "image/gif":
		ext = ".gif"
	case "image/webp":
		ext = ".webp"
	}
	return path.Join(a.prefix, a.now().UTC().Format("2006/01/02"), fingerprint+ext)
}
