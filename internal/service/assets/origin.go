package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// ErrNotFound is returned by an Origin that has no asset at the path.
var ErrNotFound = errors.New("asset not found")

// maxAssetBytes caps a single fetched asset.
const maxAssetBytes = 32 << 20

// Asset is one cached response.
type Asset struct {
	Path        string
	ContentType string
	Body        []byte
	ModTime     time.Time
}

// Origin is where assets come from when they are not cached.
type Origin interface {
	Fetch(ctx context.Context, path string) (*Asset, error)
}

// DirOrigin serves assets from a local directory. "/" maps to index.html.
type DirOrigin struct {
	root string
}

// NewDirOrigin returns an origin rooted at dir.
func NewDirOrigin(dir string) *DirOrigin {
	return &DirOrigin{root: dir}
}

func (o *DirOrigin) Fetch(ctx context.Context, p string) (*Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean := cleanPath(p)
	name := strings.TrimPrefix(clean, "/")
	if name == "" || strings.HasSuffix(clean, "/") {
		name = path.Join(name, "index.html")
	}

	full := filepath.Join(o.root, filepath.FromSlash(name))
	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, clean)
		}
		return nil, err
	}
	if info.IsDir() {
		full = filepath.Join(full, "index.html")
		name = path.Join(name, "index.html")
		if info, err = os.Stat(full); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, clean)
		}
	}
	if info.Size() > maxAssetBytes {
		return nil, fmt.Errorf("asset %s too large: %d bytes", clean, info.Size())
	}

	body, err := os.ReadFile(full)
	if err != nil {
		return nil, err
	}
	return &Asset{
		Path:        clean,
		ContentType: contentType(name, body),
		Body:        body,
		ModTime:     info.ModTime(),
	}, nil
}

// HTTPOrigin fetches assets from an upstream server.
type HTTPOrigin struct {
	base   *url.URL
	client *http.Client
	limit  int64
}

// NewHTTPOrigin returns an origin for base, e.g. "https://cdn.example.com/widget".
func NewHTTPOrigin(base string, client *http.Client) (*HTTPOrigin, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse asset origin: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("asset origin %q must be an http(s) URL", base)
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPOrigin{base: u, client: client, limit: maxAssetBytes}, nil
}

func (o *HTTPOrigin) Fetch(ctx context.Context, p string) (*Asset, error) {
	clean := cleanPath(p)
	target := *o.base
	target.Path = o.base.Path + clean

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", clean, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, clean)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: upstream status %d", clean, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, o.limit+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", clean, err)
	}
	if int64(len(body)) > o.limit {
		return nil, fmt.Errorf("asset %s too large: more than %d bytes", clean, o.limit)
	}
	modTime := time.Now().UTC()
	if lm, err := http.ParseTime(resp.Header.Get("Last-Modified")); err == nil {
		modTime = lm
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = contentType(clean, body)
	}
	return &Asset{Path: clean, ContentType: ct, Body: body, ModTime: modTime}, nil
}

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	clean := path.Clean("/" + p)
	if strings.HasSuffix(p, "/") && clean != "/" {
		clean += "/"
	}
	return clean
}

func contentType(name string, body []byte) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return http.DetectContentType(body)
}
