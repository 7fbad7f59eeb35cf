package download

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"

	gogithub "github.com/google/go-github/v69/github"

	"github.com/nugget/jarvis-core/internal/httpkit"
	"github.com/nugget/jarvis-core/internal/resource"
)

// GitHubRelease downloads assets attached to a GitHub release. The
// remote repository is "owner/name", the revision is the release tag
// (empty means the latest release) and the filename is the asset name.
type GitHubRelease struct {
	client *gogithub.Client
	http   *http.Client
	logger *slog.Logger
}

// NewGitHubRelease creates a fetcher. endpoint, when set, points at a
// GitHub Enterprise API root.
func NewGitHubRelease(endpoint, token string, logger *slog.Logger) (*GitHubRelease, error) {
	if logger == nil {
		logger = slog.Default()
	}
	hc := httpkit.NewClient(httpkit.WithTimeout(0))
	client := gogithub.NewClient(hc)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	if endpoint != "" {
		var err error
		client, err = client.WithEnterpriseURLs(endpoint, endpoint)
		if err != nil {
			return nil, fmt.Errorf("github endpoint %s: %w", endpoint, err)
		}
	}
	return &GitHubRelease{client: client, http: hc, logger: logger}, nil
}

// splitRepo splits "owner/name".
func splitRepo(repo string) (string, string, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("invalid repository %q: expected owner/name: %w", repo, resource.ErrValidation)
	}
	return owner, name, nil
}

// Fetch implements resource.Fetcher.
func (g *GitHubRelease) Fetch(ctx context.Context, remote resource.Remote, dir string, progress resource.ProgressFunc) (string, error) {
	owner, name, err := splitRepo(remote.Repository)
	if err != nil {
		return "", err
	}
	dest, err := localPath(dir, path.Base(remote.Filename))
	if err != nil {
		return "", err
	}

	var (
		release *gogithub.RepositoryRelease
		resp    *gogithub.Response
	)
	if remote.Revision == "" || remote.Revision == "latest" {
		release, resp, err = g.client.Repositories.GetLatestRelease(ctx, owner, name)
	} else {
		release, resp, err = g.client.Repositories.GetReleaseByTag(ctx, owner, name, remote.Revision)
	}
	g.checkRateLimit(resp)
	if err != nil {
		return "", fmt.Errorf("look up release: %w", err)
	}

	var asset *gogithub.ReleaseAsset
	want := path.Base(remote.Filename)
	for _, a := range release.Assets {
		if a.GetName() == want {
			asset = a
			break
		}
	}
	if asset == nil {
		return "", fmt.Errorf("release %s of %s has no asset %s: %w", release.GetTagName(), remote.Repository, want, errNotFound)
	}

	g.logger.Debug("downloading release asset",
		"repo", remote.Repository,
		"tag", release.GetTagName(),
		"asset", asset.GetName(),
		"size", asset.GetSize(),
	)
	rc, _, err := g.client.Repositories.DownloadReleaseAsset(ctx, owner, name, asset.GetID(), g.http)
	if err != nil {
		return "", fmt.Errorf("download asset %s: %w", asset.GetName(), err)
	}
	if rc == nil {
		return "", fmt.Errorf("download asset %s: empty response: %w", asset.GetName(), io.ErrUnexpectedEOF)
	}
	defer rc.Close()

	if _, err := writeFile(dest, rc, int64(asset.GetSize()), progress); err != nil {
		return "", err
	}
	return dest, nil
}

// checkRateLimit logs a warning when remaining API calls run low.
func (g *GitHubRelease) checkRateLimit(resp *gogithub.Response) {
	if resp == nil {
		return
	}
	if resp.Rate.Limit > 0 && resp.Rate.Remaining < 10 {
		g.logger.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset", resp.Rate.Reset.Time,
		)
	}
}
