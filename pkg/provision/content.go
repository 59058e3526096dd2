package provision

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/blang/semver/v4"
	"github.com/google/go-github/v57/github"
	"github.com/rs/zerolog"

	"github.com/dcrypt3d/centos10-disa-stig/pkg/scap"
)

const (
	ssgOwner = "ComplianceAsCode"
	ssgRepo  = "content"

	versionMarker = ".ssg-upstream-version"
)

// ContentFetcher installs SCAP Security Guide datastreams straight from the
// upstream GitHub releases, for hosts whose repositories do not carry the
// scap-security-guide package yet.
type ContentFetcher struct {
	Locator scap.Locator
	Log     zerolog.Logger
	// Client overrides the GitHub API client, for tests and proxies.
	Client *github.Client
	// HTTPClient downloads release assets. Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

func (cf *ContentFetcher) client() *github.Client {
	if cf.Client != nil {
		return cf.Client
	}
	return github.NewClient(nil)
}

func (cf *ContentFetcher) httpClient() *http.Client {
	if cf.HTTPClient != nil {
		return cf.HTTPClient
	}
	return http.DefaultClient
}

// LatestVersion asks GitHub for the newest published SSG release.
func (cf *ContentFetcher) LatestVersion(ctx context.Context) (semver.Version, error) {
	var zero semver.Version
	rel, _, err := cf.client().Repositories.GetLatestRelease(ctx, ssgOwner, ssgRepo)
	if err != nil {
		return zero, fmt.Errorf("querying %s/%s releases: %v", ssgOwner, ssgRepo, err)
	}
	v, err := semver.ParseTolerant(rel.GetTagName())
	if err != nil {
		return zero, fmt.Errorf("release tag %q: %v", rel.GetTagName(), err)
	}
	return v, nil
}

// InstalledVersion reads the marker a previous Fetch left behind.
func (cf *ContentFetcher) InstalledVersion() (semver.Version, bool) {
	data, err := os.ReadFile(filepath.Join(cf.Locator.ContentDir, versionMarker))
	if err != nil {
		return semver.Version{}, false
	}
	v, err := semver.ParseTolerant(strings.TrimSpace(string(data)))
	if err != nil {
		return semver.Version{}, false
	}
	return v, true
}

// UpdateAvailable reports whether upstream carries newer content than the
// last fetched version. Content installed by the package manager has no
// marker and always reads as updatable.
func (cf *ContentFetcher) UpdateAvailable(ctx context.Context) (semver.Version, bool, error) {
	latest, err := cf.LatestVersion(ctx)
	if err != nil {
		return semver.Version{}, false, err
	}
	installed, ok := cf.InstalledVersion()
	return latest, !ok || installed.LT(latest), nil
}

// Fetch downloads one release zip and installs every datastream it carries
// into the content directory.
func (cf *ContentFetcher) Fetch(ctx context.Context, version semver.Version) error {
	tag := "v" + version.String()
	rel, _, err := cf.client().Repositories.GetReleaseByTag(ctx, ssgOwner, ssgRepo, tag)
	if err != nil {
		return fmt.Errorf("release %s: %v", tag, err)
	}
	want := fmt.Sprintf("scap-security-guide-%s.zip", version)
	var assetURL string
	for _, a := range rel.Assets {
		if a.GetName() == want {
			assetURL = a.GetBrowserDownloadURL()
			break
		}
	}
	if assetURL == "" {
		return fmt.Errorf("release %s has no asset %s", tag, want)
	}

	zipPath, err := cf.download(ctx, assetURL)
	if err != nil {
		return err
	}
	defer os.Remove(zipPath)

	n, err := extractDatastreams(zipPath, cf.Locator.ContentDir)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no datastreams inside %s", want)
	}
	cf.Log.Info().Int("datastreams", n).Str("version", version.String()).
		Str("dir", cf.Locator.ContentDir).Msg("installed upstream content")

	marker := filepath.Join(cf.Locator.ContentDir, versionMarker)
	return os.WriteFile(marker, []byte(version.String()+"\n"), 0o644)
}

func (cf *ContentFetcher) download(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := cf.httpClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("downloading %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("downloading %s: %s", url, resp.Status)
	}

	tmp, err := os.CreateTemp(cf.Locator.ScratchDir, "ssg-*.zip")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("downloading %s: %v", url, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// extractDatastreams unpacks every ssg-*-ds.xml in the archive into
// contentDir, each through a staged temp file so readers never see a
// partial datastream.
func extractDatastreams(zipPath, contentDir string) (int, error) {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return 0, fmt.Errorf("open %s: %v", zipPath, err)
	}
	defer zr.Close()

	count := 0
	for _, f := range zr.File {
		base := path.Base(f.Name)
		if ok, _ := path.Match("ssg-*-ds.xml", base); !ok {
			continue
		}
		if err := extractOne(f, filepath.Join(contentDir, base)); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func extractOne(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".ssg-stage-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
