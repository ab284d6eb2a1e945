package platform

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/rflorenc/gitlab-migrator/internal/models"
)

// Minimum instance versions providing the file-based export/import APIs.
var minVersions = map[models.Kind]string{
	models.KindGroup:   "12.8",
	models.KindProject: "10.6",
}

// VersionResponse holds the parsed /version response.
type VersionResponse struct {
	Version  string `json:"version"`
	Revision string `json:"revision"`
}

// ParseVersionResponse extracts the version from a /version JSON body.
func ParseVersionResponse(body []byte) (*VersionResponse, error) {
	var resp VersionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrap(err, "parsing version response")
	}
	if resp.Version == "" {
		return nil, errors.New("version response missing version field")
	}
	return &resp, nil
}

// Version calls GET /version. It doubles as an authentication check since
// the endpoint rejects anonymous requests.
func (c *Client) Version(ctx context.Context) (*VersionResponse, error) {
	body, err := c.Get(ctx, "/version", nil)
	if err != nil {
		return nil, err
	}
	return ParseVersionResponse(body)
}

// CompareVersions compares two GitLab versions, ignoring edition suffixes
// ("16.11.2-ee") and accepting partial versions ("16.11").
// Returns -1 if a < b, 0 if a == b, 1 if a > b. Unparseable versions
// compare equal.
func CompareVersions(a, b string) int {
	av, aerr := parseVersion(a)
	bv, berr := parseVersion(b)
	if aerr != nil || berr != nil {
		return 0
	}
	return av.Compare(bv)
}

// VersionAtLeast returns true if version >= min.
func VersionAtLeast(version, min string) bool {
	if version == "" || min == "" {
		return true
	}
	return CompareVersions(version, min) >= 0
}

// SupportsKind reports whether an instance at version has the export and
// import endpoints kind needs.
func SupportsKind(version string, kind models.Kind) bool {
	return VersionAtLeast(version, minVersions[kind])
}

func parseVersion(v string) (*semver.Version, error) {
	parsed, err := semver.NewVersion(strings.TrimSpace(v))
	if err != nil {
		return nil, errors.Wrapf(err, "parsing version %q", v)
	}
	release, err := parsed.SetPrerelease("")
	if err != nil {
		return nil, err
	}
	release, err = release.SetMetadata("")
	if err != nil {
		return nil, err
	}
	return &release, nil
}

// ProbeAndStore checks connectivity and records the detected version on
// the connection. Failures are recorded on the store and returned.
func ProbeAndStore(ctx context.Context, client *Client, conn *models.Connection, store *models.ConnectionStore, log *zap.SugaredLogger) error {
	v, err := client.Version(ctx)
	if err != nil {
		store.SetHealth(conn.ID, "error", err.Error(), "", "")
		log.Warnw("instance probe failed", "connection", conn.Name, "error", err)
		return err
	}
	store.SetHealth(conn.ID, "ok", "", v.Version, v.Revision)
	log.Infow("instance probed", "connection", conn.Name, "version", v.Version, "revision", v.Revision)
	return nil
}
