package imaging

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"path"
	"strings"
	"syscall"
	"time"
)

const (
	DefaultMaxBytes  = 20 << 20
	DefaultMaxPixels = 64 << 20
	defaultTimeout   = 30 * time.Second
	maxRedirects     = 3
)

var (
	ErrInvalidURL    = errors.New("image url must be an http(s) or data url")
	ErrForbiddenHost = errors.New("image host is not allowed")
	ErrTooLarge      = errors.New("image exceeds the download limit")
	ErrUnsupported   = errors.New("unsupported image format")
)

// FetchError is a failed or non-2xx fetch of the source image.
type FetchError struct {
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch image: %v", e.Err)
	}
	return fmt.Sprintf("fetch image: status %d", e.StatusCode)
}

func (e *FetchError) Unwrap() error { return e.Err }

type Config struct {
	// AllowedHosts restricts remote sources to these hosts and their
	// subdomains. Empty admits any public host.
	AllowedHosts []string
	MaxBytes     int64
	MaxPixels    int
	Timeout      time.Duration
	// AllowPrivateNetworks lets the dialer reach loopback and private
	// addresses. Only tests set it.
	AllowPrivateNetworks bool
}

// Downloader fetches generated images and re-encodes them as PNG.
type Downloader struct {
	cfg    Config
	client *http.Client
}

func NewDownloader(cfg Config) *Downloader {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.MaxPixels <= 0 {
		cfg.MaxPixels = DefaultMaxPixels
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	d := &Downloader{cfg: cfg}
	dialer := &net.Dialer{Timeout: 10 * time.Second, Control: d.checkDial}
	d.client = &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: cfg.Timeout,
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return errors.New("too many redirects")
			}
			return d.checkURL(req.URL)
		},
	}
	return d
}

// Image is a downloaded image ready to serve as an attachment.
type Image struct {
	Filename string
	PNG      []byte
}

// Fetch loads rawURL and returns it re-encoded as PNG. Data URLs are decoded
// in place; remote URLs must pass checkURL and may only connect to public
// addresses.
func (d *Downloader) Fetch(ctx context.Context, rawURL string) (*Image, error) {
	if strings.HasPrefix(rawURL, "data:") {
		raw, err := decodeDataURL(rawURL)
		if err != nil {
			return nil, err
		}
		return d.convert(raw, "download")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, ErrInvalidURL
	}
	if err := d.checkURL(u); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, ErrInvalidURL
	}
	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, ErrForbiddenHost) {
			return nil, ErrForbiddenHost
		}
		return nil, &FetchError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{StatusCode: resp.StatusCode}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, d.cfg.MaxBytes+1))
	if err != nil {
		return nil, &FetchError{StatusCode: resp.StatusCode, Err: err}
	}
	if int64(len(raw)) > d.cfg.MaxBytes {
		return nil, ErrTooLarge
	}
	return d.convert(raw, baseName(u.Path))
}

func (d *Downloader) convert(raw []byte, name string) (*Image, error) {
	if int64(len(raw)) > d.cfg.MaxBytes {
		return nil, ErrTooLarge
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > d.cfg.MaxPixels {
		return nil, ErrTooLarge
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return &Image{Filename: name + ".png", PNG: buf.Bytes()}, nil
}

func (d *Downloader) checkURL(u *url.URL) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return ErrInvalidURL
	}
	host := strings.ToLower(u.Hostname())
	if host == "" || u.User != nil {
		return ErrInvalidURL
	}
	if len(d.cfg.AllowedHosts) == 0 {
		return nil
	}
	for _, allowed := range d.cfg.AllowedHosts {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return nil
		}
	}
	return ErrForbiddenHost
}

// checkDial runs after name resolution, so it sees the address actually
// being dialled.
func (d *Downloader) checkDial(_, address string, _ syscall.RawConn) error {
	if d.cfg.AllowPrivateNetworks {
		return nil
	}
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	a, err := netip.ParseAddr(host)
	if err != nil {
		return err
	}
	if !publicAddr(a.Unmap()) {
		return fmt.Errorf("dial %s: %w", a, ErrForbiddenHost)
	}
	return nil
}

var sharedAddressSpace = netip.MustParsePrefix("100.64.0.0/10")

func publicAddr(a netip.Addr) bool {
	return a.IsGlobalUnicast() && !a.IsPrivate() && !sharedAddressSpace.Contains(a)
}

func decodeDataURL(s string) ([]byte, error) {
	meta, data, ok := strings.Cut(strings.TrimPrefix(s, "data:"), ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return nil, ErrInvalidURL
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, ErrInvalidURL
	}
	return raw, nil
}

// baseName is the last path segment without its extension, restricted to a
// filename-safe alphabet.
func baseName(p string) string {
	name := path.Base(p)
	if ext := path.Ext(name); ext != "" {
		name = strings.TrimSuffix(name, ext)
	}
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return -1
	}, name)
	if name == "" {
		return "download"
	}
	return name
}
