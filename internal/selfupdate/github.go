// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dirvine/saorsa-cli/internal/checksum"

	"golang.org/x/mod/semver"
)

const (
	// DefaultOwner and DefaultRepo name the repository releases come from.
	DefaultOwner = "dirvine"
	DefaultRepo  = "saorsa-cli"

	// ChecksumManifestName is the release asset listing archive digests.
	ChecksumManifestName = "CHECKSUMS.txt"

	defaultBaseURL   = "https://api.github.com"
	defaultUserAgent = "saorsa-cli/dev"
	defaultTimeout   = 30 * time.Second

	// defaultPerPage is the number of releases fetched per API page.
	defaultPerPage = 30

	// maxPages bounds pagination.
	maxPages = 3

	// maxJSONResponseBytes bounds JSON API responses (10 MB).
	maxJSONResponseBytes = 10 << 20

	// maxAssetBytes bounds a single downloaded asset (500 MB).
	maxAssetBytes = 500 << 20

	// maxChecksumManifestBytes bounds the checksum manifest (1 MB).
	maxChecksumManifestBytes = 1 << 20
)

var (
	// ErrReleaseNotFound is returned when a requested release tag does not exist.
	ErrReleaseNotFound = errors.New("release not found")

	// ErrNoReleases is returned when the repository has no stable release.
	ErrNoReleases = errors.New("no stable releases found")

	// ErrNetwork is matched by every *NetworkError.
	ErrNetwork = errors.New("network failure")

	// ErrChecksumManifestMissing is returned when a release has no checksum manifest asset.
	ErrChecksumManifestMissing = errors.New("release has no checksum manifest")

	// ErrAssetTooLarge is returned when a download exceeds maxAssetBytes.
	ErrAssetTooLarge = errors.New("asset exceeds size limit")
)

type (
	// RateLimitError is returned when the GitHub API rate limit is exceeded.
	RateLimitError struct {
		Limit     int
		Remaining int
		ResetAt   time.Time
	}

	// NetworkError is a failed request or unexpected response status.
	NetworkError struct {
		Op     string // e.g. "listing releases"
		URL    string // Redacted request URL
		Status int    // HTTP status, zero when no response was received
		Err    error
	}

	// Release represents a GitHub Release with its assets.
	Release struct {
		TagName     string  // Semantic version tag, e.g., "v0.3.0"
		Name        string  // Human-readable release name
		Body        string  // Release notes
		Prerelease  bool    // True for alpha/beta/RC releases
		Draft       bool    // True for unpublished drafts
		Assets      []Asset // Downloadable artifacts
		HTMLURL     string  // Browser URL for the release page
		PublishedAt string  // ISO 8601 timestamp
	}

	// Asset represents a single downloadable file in a GitHub Release.
	Asset struct {
		Name               string // Filename, e.g., "saorsa-cli-x86_64-unknown-linux-gnu.tar.gz"
		BrowserDownloadURL string // Direct download URL
		Size               int64  // File size in bytes
		ContentType        string // MIME type
	}

	githubRelease struct {
		TagName     string        `json:"tag_name"`
		Name        string        `json:"name"`
		Body        string        `json:"body"`
		Prerelease  bool          `json:"prerelease"`
		Draft       bool          `json:"draft"`
		HTMLURL     string        `json:"html_url"`
		PublishedAt string        `json:"published_at"`
		Assets      []githubAsset `json:"assets"`
	}

	githubAsset struct {
		Name               string `json:"name"`
		BrowserDownloadURL string `json:"browser_download_url"`
		Size               int64  `json:"size"`
		ContentType        string `json:"content_type"`
	}

	// ProgressFunc receives the bytes written so far and the expected total,
	// which is -1 when unknown.
	ProgressFunc func(done, total int64)

	// GitHubClient queries the GitHub Releases API and downloads assets.
	GitHubClient struct {
		httpClient *http.Client
		owner      string
		repo       string
		baseURL    string // overridable for tests
		token      string // optional GITHUB_TOKEN
		userAgent  string
		progress   ProgressFunc
		timeout    time.Duration // applied to httpClient once options are done
	}

	// ClientOption configures a GitHubClient during construction.
	ClientOption func(*GitHubClient)
)

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("GitHub API rate limit exceeded (%d remaining, resets at %s)",
		e.Remaining, e.ResetAt.UTC().Format("15:04 UTC"))
}

func (e *NetworkError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("%s %s: unexpected status %d", e.Op, e.URL, e.Status)
	default:
		return fmt.Sprintf("%s %s: request failed", e.Op, e.URL)
	}
}

// Is matches ErrNetwork.
func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }

func (e *NetworkError) Unwrap() error { return e.Err }

// WithHTTPClient sets a custom HTTP client, useful for tests or proxies.
// The client's own Timeout is kept unless WithTimeout is also given.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(g *GitHubClient) {
		if c != nil {
			g.httpClient = c
		}
	}
}

// WithBaseURL overrides the GitHub API base URL, primarily for test servers.
func WithBaseURL(base string) ClientOption {
	return func(g *GitHubClient) {
		g.baseURL = strings.TrimRight(base, "/")
	}
}

// WithToken sets a GitHub personal access token for authenticated requests.
// Authenticated requests have a higher rate limit (5000/hour vs 60/hour).
func WithToken(token string) ClientOption {
	return func(g *GitHubClient) {
		g.token = token
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) ClientOption {
	return func(g *GitHubClient) {
		g.userAgent = ua
	}
}

// WithRepo overrides the default repository owner and name.
func WithRepo(owner, repo string) ClientOption {
	return func(g *GitHubClient) {
		if owner != "" {
			g.owner = owner
		}
		if repo != "" {
			g.repo = repo
		}
	}
}

// WithTimeout sets the per-request timeout. It applies to a client given with
// WithHTTPClient too, whatever the option order, without modifying it.
func WithTimeout(d time.Duration) ClientOption {
	return func(g *GitHubClient) {
		g.timeout = d
	}
}

// WithProgress reports download progress to fn.
func WithProgress(fn ProgressFunc) ClientOption {
	return func(g *GitHubClient) {
		g.progress = fn
	}
}

// NewGitHubClient creates a GitHubClient for dirvine/saorsa-cli with a 30s
// request timeout.
func NewGitHubClient(opts ...ClientOption) *GitHubClient {
	c := &GitHubClient{
		httpClient: &http.Client{Timeout: defaultTimeout},
		owner:      DefaultOwner,
		repo:       DefaultRepo,
		baseURL:    defaultBaseURL,
		userAgent:  defaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout > 0 {
		hc := *c.httpClient
		hc.Timeout = c.timeout
		c.httpClient = &hc
	}
	return c
}

// Repo returns "owner/repo".
func (c *GitHubClient) Repo() string {
	return c.owner + "/" + c.repo
}

// LatestRelease returns the release GitHub marks as latest. Repositories
// without one (404) fall back to the newest stable release in the list.
func (c *GitHubClient) LatestRelease(ctx context.Context) (*Release, error) {
	latestURL := fmt.Sprintf("%s/repos/%s/%s/releases/latest", c.baseURL, c.owner, c.repo)

	r, err := c.getRelease(ctx, "getting latest release", latestURL)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, ErrReleaseNotFound) {
		return nil, err
	}

	releases, err := c.ListReleases(ctx)
	if err != nil {
		return nil, err
	}
	if len(releases) == 0 {
		return nil, ErrNoReleases
	}
	return &releases[0], nil
}

// ReleaseByTag fetches a single release by its Git tag (e.g., "v0.3.0").
// Returns ErrReleaseNotFound if the tag does not correspond to a release.
func (c *GitHubClient) ReleaseByTag(ctx context.Context, tag string) (*Release, error) {
	tagURL := fmt.Sprintf("%s/repos/%s/%s/releases/tags/%s",
		c.baseURL, c.owner, c.repo, url.PathEscape(tag))

	r, err := c.getRelease(ctx, "getting release "+tag, tagURL)
	if errors.Is(err, ErrReleaseNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrReleaseNotFound, tag)
	}
	return r, err
}

func (c *GitHubClient) getRelease(ctx context.Context, op, reqURL string) (*Release, error) {
	resp, err := c.doRequest(ctx, op, reqURL)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }() // read-only response body

	if err := checkRateLimit(resp); err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrReleaseNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &NetworkError{Op: op, URL: redactURL(reqURL), Status: resp.StatusCode}
	}

	var gr githubRelease
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJSONResponseBytes)).Decode(&gr); err != nil {
		return nil, fmt.Errorf("%s: decoding response: %w", op, err)
	}

	r := toRelease(gr)
	return &r, nil
}

// ListReleases fetches stable (non-draft, non-prerelease) releases, sorted by
// semantic version in descending order. Pagination is followed up to maxPages.
func (c *GitHubClient) ListReleases(ctx context.Context) ([]Release, error) {
	const op = "listing releases"

	pageURL := fmt.Sprintf("%s/repos/%s/%s/releases?per_page=%d",
		c.baseURL, c.owner, c.repo, defaultPerPage)

	var all []Release

	for page := 0; page < maxPages && pageURL != ""; page++ {
		resp, err := c.doRequest(ctx, op, pageURL)
		if err != nil {
			return nil, err
		}

		if rlErr := checkRateLimit(resp); rlErr != nil {
			_ = resp.Body.Close()
			return nil, rlErr
		}

		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			return nil, &NetworkError{Op: op, URL: redactURL(pageURL), Status: resp.StatusCode}
		}

		releases, parseErr := parseReleases(io.LimitReader(resp.Body, maxJSONResponseBytes))
		_ = resp.Body.Close()
		if parseErr != nil {
			return nil, fmt.Errorf("%s: %w", op, parseErr)
		}

		for i := range releases {
			if !releases[i].Draft && !releases[i].Prerelease {
				all = append(all, releases[i])
			}
		}

		pageURL = parseLinkHeader(resp.Header.Get("Link"))
	}

	sortReleasesBySemverDesc(all)

	return all, nil
}

// DownloadAsset streams asset into dest. The body is written to a temporary
// file beside dest and renamed into place only after it is complete and
// synced, so dest never holds a partial download.
func (c *GitHubClient) DownloadAsset(ctx context.Context, asset Asset, dest string) error {
	op := "downloading " + asset.Name

	resp, err := c.doRequest(ctx, op, asset.BrowserDownloadURL)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }() // read-only response body

	if resp.StatusCode != http.StatusOK {
		return &NetworkError{Op: op, URL: redactURL(asset.BrowserDownloadURL), Status: resp.StatusCode}
	}

	total := resp.ContentLength
	if total < 0 && asset.Size > 0 {
		total = asset.Size
	}
	if total > maxAssetBytes {
		return fmt.Errorf("%s: %w (%d bytes)", op, ErrAssetTooLarge, total)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+"-*.part")
	if err != nil {
		return fmt.Errorf("%s: creating temp file: %w", op, err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	var w io.Writer = tmp
	if c.progress != nil {
		w = &progressWriter{w: tmp, total: total, fn: c.progress}
	}

	n, err := io.Copy(w, io.LimitReader(resp.Body, maxAssetBytes+1))
	if err != nil {
		return &NetworkError{Op: op, URL: redactURL(asset.BrowserDownloadURL), Err: err}
	}
	if n > maxAssetBytes {
		return fmt.Errorf("%s: %w", op, ErrAssetTooLarge)
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return &NetworkError{Op: op, URL: redactURL(asset.BrowserDownloadURL), Err: io.ErrUnexpectedEOF}
	}

	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("%s: syncing: %w", op, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%s: closing: %w", op, err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	committed = true
	return nil
}

// FetchChecksumManifest downloads and parses the release's CHECKSUMS.txt.
func (c *GitHubClient) FetchChecksumManifest(ctx context.Context, release *Release) (map[string]string, error) {
	asset, ok := findChecksumAsset(release.Assets)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChecksumManifestMissing, release.TagName)
	}

	op := "downloading " + asset.Name
	resp, err := c.doRequest(ctx, op, asset.BrowserDownloadURL)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }() // read-only response body

	if resp.StatusCode != http.StatusOK {
		return nil, &NetworkError{Op: op, URL: redactURL(asset.BrowserDownloadURL), Status: resp.StatusCode}
	}

	entries, err := checksum.ParseManifest(io.LimitReader(resp.Body, maxChecksumManifestBytes))
	if err != nil {
		return nil, &NetworkError{Op: op, URL: redactURL(asset.BrowserDownloadURL), Err: err}
	}
	return entries, nil
}

// FindAsset returns the release asset with the given name.
func (r *Release) FindAsset(name string) (Asset, bool) {
	for _, a := range r.Assets {
		if a.Name == name {
			return a, true
		}
	}
	return Asset{}, false
}

func findChecksumAsset(assets []Asset) (Asset, bool) {
	for _, a := range assets {
		if a.Name == ChecksumManifestName {
			return a, true
		}
	}
	for _, a := range assets {
		if strings.EqualFold(a.Name, ChecksumManifestName) {
			return a, true
		}
	}
	return Asset{}, false
}

// doRequest creates and executes a GET request with the GitHub API headers.
// Transport failures come back as *NetworkError.
func (c *GitHubClient) doRequest(ctx context.Context, op, reqURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%s: creating request: %w", op, err)
	}

	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", c.userAgent)

	// The token is attached only for GitHub hosts so a redirect to a CDN
	// never sees it.
	if c.token != "" && isGitHubHost(req.URL, c.baseURL) {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: op, URL: redactURL(reqURL), Err: err}
	}

	return resp, nil
}

// checkRateLimit returns a RateLimitError when the X-RateLimit-Remaining
// header reports zero. The status code is not inspected.
func checkRateLimit(resp *http.Response) error {
	remaining := resp.Header.Get("X-RateLimit-Remaining")
	if remaining == "" {
		return nil
	}

	rem, err := strconv.Atoi(remaining)
	if err != nil {
		return nil //nolint:nilerr // Non-numeric header is non-fatal.
	}
	if rem > 0 {
		return nil
	}

	limit, _ := strconv.Atoi(resp.Header.Get("X-RateLimit-Limit"))                 //nolint:errcheck // Best-effort header parsing.
	resetUnix, _ := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64) //nolint:errcheck // Best-effort header parsing.

	return &RateLimitError{
		Limit:     limit,
		Remaining: 0,
		ResetAt:   time.Unix(resetUnix, 0),
	}
}

func parseReleases(body io.Reader) ([]Release, error) {
	var raw []githubRelease
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding releases: %w", err)
	}

	releases := make([]Release, 0, len(raw))
	for _, gr := range raw {
		releases = append(releases, toRelease(gr))
	}
	return releases, nil
}

// parseLinkHeader extracts the URL for the "next" page from a GitHub API Link header.
//
// Example header: <https://api.github.com/...?page=2>; rel="next", <...>; rel="last"
func parseLinkHeader(header string) string {
	if header == "" {
		return ""
	}

	for part := range strings.SplitSeq(header, ",") {
		part = strings.TrimSpace(part)
		if !strings.Contains(part, `rel="next"`) {
			continue
		}

		start := strings.Index(part, "<")
		end := strings.Index(part, ">")
		if start >= 0 && end > start {
			return part[start+1 : end]
		}
	}

	return ""
}

func toRelease(gr githubRelease) Release {
	assets := make([]Asset, 0, len(gr.Assets))
	for _, ga := range gr.Assets {
		assets = append(assets, Asset(ga))
	}

	return Release{
		TagName:     gr.TagName,
		Name:        gr.Name,
		Body:        gr.Body,
		Prerelease:  gr.Prerelease,
		Draft:       gr.Draft,
		Assets:      assets,
		HTMLURL:     gr.HTMLURL,
		PublishedAt: gr.PublishedAt,
	}
}

// sortReleasesBySemverDesc sorts releases newest first. Tags that are not
// valid semver sort last; the sort is stable.
func sortReleasesBySemverDesc(releases []Release) {
	slices.SortStableFunc(releases, func(a, b Release) int {
		return semver.Compare(canonicalTag(b.TagName), canonicalTag(a.TagName))
	})
}

func canonicalTag(tag string) string {
	if strings.HasPrefix(tag, "v") {
		return tag
	}
	return "v" + tag
}

// isGitHubHost reports whether reqURL targets the configured API host, or
// github.com when the API host is api.github.com.
func isGitHubHost(reqURL *url.URL, baseURL string) bool {
	base, err := url.Parse(baseURL)
	if err != nil {
		return false
	}
	if strings.EqualFold(reqURL.Host, base.Host) {
		return true
	}
	if strings.EqualFold(base.Host, "api.github.com") && strings.EqualFold(reqURL.Host, "github.com") {
		return true
	}
	return false
}

// redactURL strips query parameters and fragments for use in error messages.
func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid-url>"
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

type progressWriter struct {
	w     io.Writer
	done  int64
	total int64
	fn    ProgressFunc
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.done += int64(n)
	p.fn(p.done, p.total)
	return n, err
}
