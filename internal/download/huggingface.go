package download

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/nugget/jarvis-core/internal/httpkit"
	"github.com/nugget/jarvis-core/internal/resource"
)

// HuggingFace downloads files from a Hugging Face model repository via
// the hub's resolve endpoint.
type HuggingFace struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewHuggingFace creates a fetcher for endpoint (empty means the public
// hub). A non-empty token is sent as a bearer token, which gated
// repositories require.
func NewHuggingFace(endpoint, token string, logger *slog.Logger) *HuggingFace {
	if endpoint == "" {
		endpoint = DefaultHuggingFaceEndpoint
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HuggingFace{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   httpkit.NewClient(httpkit.WithTimeout(0), httpkit.WithBearerToken(token)),
		logger:   logger,
	}
}

// URL returns the download URL for remote.
func (h *HuggingFace) URL(remote resource.Remote) string {
	rev := remote.Revision
	if rev == "" {
		rev = "main"
	}
	segs := strings.Split(remote.Filename, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return fmt.Sprintf("%s/%s/resolve/%s/%s", h.endpoint, remote.Repository, url.PathEscape(rev), strings.Join(segs, "/"))
}

// Fetch implements resource.Fetcher. The file lands at dir joined with
// the remote filename, subdirectories included.
func (h *HuggingFace) Fetch(ctx context.Context, remote resource.Remote, dir string, progress resource.ProgressFunc) (string, error) {
	dest, err := localPath(dir, remote.Filename)
	if err != nil {
		return "", err
	}

	u := h.URL(remote)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}

	h.logger.Debug("requesting model file", "url", u)
	resp, err := h.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := httpkit.CheckResponse(resp); err != nil {
		return "", err
	}

	n, err := writeFile(dest, resp.Body, resp.ContentLength, progress)
	if err != nil {
		return "", err
	}
	h.logger.Debug("model file written", "path", dest, "bytes", n)
	return dest, nil
}
