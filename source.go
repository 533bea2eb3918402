package modelfetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// supportedSchemes lists URL schemes accepted for catalogs and artifacts.
// Bucket schemes need their gocloud driver registered by the program
// (blank import of fileblob, s3blob, gcsblob).
var supportedSchemes = map[string]bool{
	"http":  true,
	"https": true,
	"file":  true,
	"s3":    true,
	"gs":    true,
}

// checkURL validates that rawURL is absolute and uses a supported scheme.
func checkURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: url %q: %v", ErrInvalidOptions, rawURL, err)
	}
	if !supportedSchemes[strings.ToLower(u.Scheme)] {
		return nil, fmt.Errorf("%w: unsupported url scheme %q", ErrInvalidOptions, u.Scheme)
	}
	return u, nil
}

// joinURL appends a single path element to base, keeping any query string.
func joinURL(base, name string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + name
	u.RawPath = ""
	return u.String(), nil
}

// opener reads remote objects over HTTP or from gocloud buckets.
type opener struct {
	httpClient HTTPClient
}

// open starts reading rawURL. The returned size is -1 when unknown.
// A missing object yields ErrSourceNotFound; any other failure yields
// ErrTransferInterrupted joined with the underlying error.
func (o *opener) open(ctx context.Context, rawURL string) (io.ReadCloser, int64, error) {
	u, err := checkURL(rawURL)
	if err != nil {
		return nil, 0, err
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return o.openHTTP(ctx, rawURL)
	default:
		return o.openBucket(ctx, u)
	}
}

func (o *opener) openHTTP(ctx context.Context, rawURL string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("requesting %s: %w: %w", rawURL, ErrTransferInterrupted, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, 0, fmt.Errorf("%s: %w", rawURL, ErrSourceNotFound)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		resp.Body.Close()
		return nil, 0, fmt.Errorf("%s: status %d: %w", rawURL, resp.StatusCode, ErrTransferInterrupted)
	}

	return resp.Body, resp.ContentLength, nil
}

func (o *opener) openBucket(ctx context.Context, u *url.URL) (io.ReadCloser, int64, error) {
	bucketURL, key := splitBucketURL(u)
	if key == "" {
		return nil, 0, fmt.Errorf("%s: empty object key: %w", u, ErrSourceNotFound)
	}

	bkt, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, 0, fmt.Errorf("opening bucket %s: %w: %w", bucketURL, ErrTransferInterrupted, err)
	}

	r, err := bkt.NewReader(ctx, key, nil)
	if err != nil {
		bkt.Close()
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, 0, fmt.Errorf("%s: %w", u, ErrSourceNotFound)
		}
		return nil, 0, fmt.Errorf("reading %s: %w: %w", u, ErrTransferInterrupted, err)
	}

	return &bucketReader{Reader: r, bucket: bkt}, r.Size(), nil
}

// splitBucketURL separates a bucket URL from the object key.
// For file URLs the bucket is the parent directory; for s3 and gs
// the bucket is the host and the key is the path.
func splitBucketURL(u *url.URL) (bucketURL, key string) {
	if strings.EqualFold(u.Scheme, "file") {
		b := url.URL{Scheme: "file", Path: path.Dir(u.Path), RawQuery: u.RawQuery}
		return b.String(), path.Base(u.Path)
	}
	b := url.URL{Scheme: u.Scheme, Host: u.Host, RawQuery: u.RawQuery}
	return b.String(), strings.TrimPrefix(u.Path, "/")
}

// bucketReader closes the bucket along with the object reader.
type bucketReader struct {
	*blob.Reader
	bucket *blob.Bucket
}

func (r *bucketReader) Close() error {
	err := r.Reader.Close()
	if cerr := r.bucket.Close(); err == nil {
		err = cerr
	}
	return err
}
