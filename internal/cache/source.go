package cache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sony/gobreaker"

	"github.com/i474232898/birdnet-display/internal/common"
)

// DefaultImageSourceURL asks BirdNET-Go for its species image.
const DefaultImageSourceURL = "http://localhost:8080/api/v2/media/species-image?name={species}&index={index}"

const maxImageBytes = 10 << 20

// Image is one downloaded image.
type Image struct {
	Data        []byte
	ContentType string
}

// ImageSource returns the index-th image for a species.
type ImageSource interface {
	Fetch(ctx context.Context, species string, index int) (Image, error)
}

// HTTPImageSource fills {species} and {index} in a URL template.
type HTTPImageSource struct {
	template string
	httpCfg  common.HTTPClientConfig
	circuit  *gobreaker.CircuitBreaker
}

func NewHTTPImageSource(client *http.Client, template string) *HTTPImageSource {
	if template == "" {
		template = DefaultImageSourceURL
	}
	return &HTTPImageSource{
		template: template,
		httpCfg: common.HTTPClientConfig{
			Client:    client,
			Backoff:   common.DefaultBackoff,
			UserAgent: common.DefaultUserAgent,
		},
		circuit: common.NewBreaker("image-source"),
	}
}

// URL expands the template for one image.
func (s *HTTPImageSource) URL(species string, index int) string {
	escaped := strings.ReplaceAll(url.QueryEscape(species), "+", "%20")
	return strings.NewReplacer(
		"{species}", escaped,
		"{index}", strconv.Itoa(index),
	).Replace(s.template)
}

func (s *HTTPImageSource) Fetch(ctx context.Context, species string, index int) (Image, error) {
	u := s.URL(species, index)
	resp, err := common.DoRequest(ctx, s.httpCfg, s.circuit, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, u, nil)
	})
	if err != nil {
		return Image{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return Image{}, fmt.Errorf("read body: %w", err)
	}
	if len(data) > maxImageBytes {
		return Image{}, fmt.Errorf("image larger than %d bytes", maxImageBytes)
	}
	if len(data) == 0 {
		return Image{}, fmt.Errorf("empty image body")
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" || common.HasAny(ct, "octet-stream") {
		ct = http.DetectContentType(data)
	}
	return Image{Data: data, ContentType: ct}, nil
}

// extension maps an image content type to a file extension.
func extension(contentType string) (string, error) {
	ct := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	switch ct {
	case "image/jpeg", "image/jpg", "image/pjpeg":
		return ".jpg", nil
	case "image/png":
		return ".png", nil
	case "image/webp":
		return ".webp", nil
	case "image/gif":
		return ".gif", nil
	default:
		return "", fmt.Errorf("unsupported content type %q", contentType)
	}
}
