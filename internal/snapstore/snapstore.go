package snapstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/snapscope/snapscope/pkg/types"
)

// ErrSnapNotFound is returned when the store has no snap with the given name.
var ErrSnapNotFound = errors.New("snap not found")

// snapDeviceSeries is required by the snap store info API.
const snapDeviceSeries = "16"

// infoFields is the field list requested from the info endpoint.
const infoFields = "title,summary,description,publisher,media,snap-id,revision,version,base,confinement,channel-map"

// SnapInfo is the descriptive metadata for a snap plus its channel map.
type SnapInfo struct {
	Name          string
	SnapID        string
	Title         string
	Summary       string
	Description   string
	IconURL       string
	Publisher     string
	PublisherID   string
	Verified      bool
	StarDeveloper bool
	StoreURL      string
	ChannelMap    []ChannelEntry
}

// ChannelEntry is one published build on one channel/architecture.
type ChannelEntry struct {
	Channel      string
	Architecture string
	Revision     int
	Version      string
	Base         string
	Confinement  string
	ReleasedAt   *time.Time
}

// RevisionInfo identifies the build the pipeline will scan.
type RevisionInfo struct {
	Revision     int
	Version      string
	Architecture string
	Base         string
	Confinement  string
	ReleasedAt   *time.Time
}

// infoResponse mirrors the store's JSON so malformed or missing fields are
// caught here, at the parsing boundary.
type infoResponse struct {
	Name   string `json:"name"`
	SnapID string `json:"snap-id"`
	Snap   struct {
		Title       string `json:"title"`
		Summary     string `json:"summary"`
		Description string `json:"description"`
		Publisher   struct {
			ID          string `json:"id"`
			Username    string `json:"username"`
			DisplayName string `json:"display-name"`
			Validation  string `json:"validation"`
		} `json:"publisher"`
		Media []struct {
			Type string `json:"type"`
			URL  string `json:"url"`
		} `json:"media"`
	} `json:"snap"`
	ChannelMap []struct {
		Channel struct {
			Name         string     `json:"name"`
			Architecture string     `json:"architecture"`
			ReleasedAt   *time.Time `json:"released-at"`
		} `json:"channel"`
		Revision    int    `json:"revision"`
		Version     string `json:"version"`
		Base        string `json:"base"`
		Confinement string `json:"confinement"`
	} `json:"channel-map"`
}

// Client queries the snap store catalog API.
type Client struct {
	httpClient types.HTTPClientInterface
	apiBase    string
}

// NewClient creates a catalog client against the given API base URL
// (e.g. https://api.snapcraft.io/v2). A nil httpClient falls back to the
// default real client.
func NewClient(apiBase string, httpClient types.HTTPClientInterface) *Client {
	if httpClient == nil {
		httpClient = types.NewRealHTTPClient()
	}
	return &Client{httpClient: httpClient, apiBase: apiBase}
}

// GetSnapInfo fetches descriptive metadata and the channel map for a snap.
// A 404 from the store maps to ErrSnapNotFound.
func (c *Client) GetSnapInfo(ctx context.Context, snapName string) (*SnapInfo, error) {
	url := fmt.Sprintf("%s/snaps/info/%s?fields=%s", c.apiBase, snapName, infoFields)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Snap-Device-Series", snapDeviceSeries)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrSnapNotFound, snapName)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response body: %w", err)
	}

	var parsed infoResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("error parsing JSON response: %w", err)
	}

	info := &SnapInfo{
		Name:          parsed.Name,
		SnapID:        parsed.SnapID,
		Title:         parsed.Snap.Title,
		Summary:       parsed.Snap.Summary,
		Description:   parsed.Snap.Description,
		PublisherID:   parsed.Snap.Publisher.ID,
		Verified:      parsed.Snap.Publisher.Validation == "verified",
		StarDeveloper: parsed.Snap.Publisher.Validation == "starred",
		StoreURL:      fmt.Sprintf("https://snapcraft.io/%s", snapName),
	}
	if info.Name == "" {
		info.Name = snapName
	}
	if info.Title == "" {
		info.Title = snapName
	}
	info.Publisher = parsed.Snap.Publisher.DisplayName
	if info.Publisher == "" {
		info.Publisher = parsed.Snap.Publisher.Username
	}
	for _, media := range parsed.Snap.Media {
		if media.Type == "icon" {
			info.IconURL = media.URL
			break
		}
	}
	for _, entry := range parsed.ChannelMap {
		info.ChannelMap = append(info.ChannelMap, ChannelEntry{
			Channel:      entry.Channel.Name,
			Architecture: entry.Channel.Architecture,
			Revision:     entry.Revision,
			Version:      entry.Version,
			Base:         entry.Base,
			Confinement:  entry.Confinement,
			ReleasedAt:   entry.Channel.ReleasedAt,
		})
	}
	return info, nil
}

// LatestRevision resolves the build to scan for an architecture: the stable
// channel when published there, otherwise the first channel carrying the
// architecture.
func (c *Client) LatestRevision(ctx context.Context, snapName, architecture string) (*RevisionInfo, error) {
	info, err := c.GetSnapInfo(ctx, snapName)
	if err != nil {
		return nil, err
	}
	return ResolveRevision(info, architecture)
}

// ResolveRevision picks the revision for an architecture from a channel map.
func ResolveRevision(info *SnapInfo, architecture string) (*RevisionInfo, error) {
	var fallback *ChannelEntry
	for i := range info.ChannelMap {
		entry := &info.ChannelMap[i]
		if entry.Architecture != architecture {
			continue
		}
		if entry.Channel == "stable" {
			return revisionFromEntry(entry), nil
		}
		if fallback == nil {
			fallback = entry
		}
	}
	if fallback != nil {
		return revisionFromEntry(fallback), nil
	}
	return nil, fmt.Errorf("no revision published for %s on %s", info.Name, architecture)
}

func revisionFromEntry(entry *ChannelEntry) *RevisionInfo {
	confinement := entry.Confinement
	if confinement == "" {
		confinement = "strict"
	}
	return &RevisionInfo{
		Revision:     entry.Revision,
		Version:      entry.Version,
		Architecture: entry.Architecture,
		Base:         entry.Base,
		Confinement:  confinement,
		ReleasedAt:   entry.ReleasedAt,
	}
}
