package update

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"strings"
	"time"

	"github.com/Zhang142857/wenyanwengongju-sub001/internal/errdefs"
	"github.com/Zhang142857/wenyanwengongju-sub001/internal/httputil"
)

// UpdateInfo is the manifest the update server returns for one release.
type UpdateInfo struct {
	Version     string `json:"version"`
	DownloadURL string `json:"downloadUrl"`
	FileHash    string `json:"fileHash"`
	Changelog   string `json:"changelog"`
	ForceUpdate bool   `json:"forceUpdate"`
	PackageSize int64  `json:"packageSize"`
}

const maxManifestBytes = 1 << 20

// Checker queries the update server for the latest release manifest.
type Checker struct {
	client *http.Client
	url    string
	retry  httputil.RetryConfig
}

// NewChecker creates a Checker against the given endpoint.
func NewChecker(url string, timeout time.Duration) *Checker {
	return &Checker{
		client: &http.Client{Timeout: timeout},
		url:    url,
		retry:  httputil.DefaultRetryConfig(),
	}
}

// Check fetches the manifest, passing the caller's version as a query
// parameter so the server can stage rollouts. A 204 response, or a manifest
// without a version, means no update is published.
func (c *Checker) Check(ctx context.Context, currentVersion string) (*UpdateInfo, error) {
	url := c.url
	if strings.Contains(url, "?") {
		url += "&version=" + neturl.QueryEscape(currentVersion)
	} else {
		url += "?version=" + neturl.QueryEscape(currentVersion)
	}

	resp, err := httputil.Get(ctx, c.client, url, c.retry)
	if err != nil {
		return nil, fmt.Errorf("query update server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &errdefs.HTTPStatusError{StatusCode: resp.StatusCode, URL: c.url}
	}

	var info UpdateInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxManifestBytes)).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode update manifest: %w", err)
	}
	if info.Version == "" {
		return nil, nil
	}
	if info.DownloadURL == "" || info.FileHash == "" {
		return nil, fmt.Errorf("manifest for version %s is missing the download location or hash", info.Version)
	}
	return &info, nil
}
