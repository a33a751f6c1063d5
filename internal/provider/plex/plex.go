// internal/provider/plex/plex.go
package plex

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/cinematch/cinematch/internal/config"
	"github.com/cinematch/cinematch/internal/media"
	"github.com/cinematch/cinematch/internal/provider"
)

const plexTVURL = "https://plex.tv"

// Plex talks to one Plex Media Server over its HTTP API and to plex.tv
// for delegated login.
type Plex struct {
	name     string
	baseURL  *url.URL
	token    string
	linkType string
	tvURL    string

	libraryTitleFilter []string
	libraryTypeFilter  []media.LibraryType

	httpClient *http.Client
	logger     *logrus.Logger

	mu        sync.Mutex
	machineID string
}

// New builds a Plex provider from one configured server entry. name is
// the provider's index in the config, used in poster/link routes.
func New(name string, server config.Server, logger *logrus.Logger) (*Plex, error) {
	base, err := url.Parse(server.URL)
	if err != nil {
		return nil, fmt.Errorf("parse plex url: %w", err)
	}

	typeFilter := server.LibraryTypeFilter
	if len(typeFilter) == 0 {
		typeFilter = []media.LibraryType{media.LibraryTypeMovie, media.LibraryTypeShow}
	}

	return &Plex{
		name:               name,
		baseURL:            base,
		token:              server.Token,
		linkType:           server.LinkType,
		tvURL:              plexTVURL,
		libraryTitleFilter: server.LibraryTitleFilter,
		libraryTypeFilter:  typeFilter,
		httpClient:         &http.Client{Timeout: 30 * time.Second},
		logger:             logger,
	}, nil
}

func (p *Plex) Name() string { return p.name }

// identity mirrors the /identity response.
type identityContainer struct {
	MediaContainer struct {
		MachineIdentifier string `json:"machineIdentifier"`
	} `json:"MediaContainer"`
}

type directoryContainer struct {
	MediaContainer struct {
		Directory []struct {
			Key   string `json:"key"`
			Title string `json:"title"`
			Type  string `json:"type"`
		} `json:"Directory"`
	} `json:"MediaContainer"`
}

type metadataContainer struct {
	MediaContainer struct {
		Metadata []struct {
			RatingKey     string  `json:"ratingKey"`
			Type          string  `json:"type"`
			Title         string  `json:"title"`
			Summary       string  `json:"summary"`
			Tagline       string  `json:"tagline"`
			Year          int     `json:"year"`
			Thumb         string  `json:"thumb"`
			Duration      int     `json:"duration"`
			Rating        float64 `json:"rating"`
			ContentRating string  `json:"contentRating"`
			Genre         []struct {
				Tag string `json:"tag"`
			} `json:"Genre"`
		} `json:"Metadata"`
	} `json:"MediaContainer"`
}

// get performs an authenticated JSON GET against the media server.
func (p *Plex) get(ctx context.Context, path string, query url.Values, out any) error {
	u := *p.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	if query == nil {
		query = url.Values{}
	}
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Plex-Token", p.token)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("plex request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("plex request %s: unexpected status %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("plex decode %s: %w", path, err)
	}
	return nil
}

// IsAvailable probes the server's /identity endpoint and caches the
// machine identifier used for canonical links.
func (p *Plex) IsAvailable(ctx context.Context) bool {
	var ident identityContainer
	if err := p.get(ctx, "/identity", nil, &ident); err != nil {
		p.logger.WithFields(logrus.Fields{"provider": p.name, "error": err}).Warn("Plex server unavailable")
		return false
	}
	p.mu.Lock()
	p.machineID = ident.MediaContainer.MachineIdentifier
	p.mu.Unlock()
	return true
}

// libraries lists the sections that pass the configured title/type filters.
func (p *Plex) libraries(ctx context.Context) ([]struct{ Key, Title, Type string }, error) {
	var dirs directoryContainer
	if err := p.get(ctx, "/library/sections", nil, &dirs); err != nil {
		return nil, err
	}

	var out []struct{ Key, Title, Type string }
	for _, d := range dirs.MediaContainer.Directory {
		if !p.libraryTypeAllowed(media.LibraryType(d.Type)) {
			continue
		}
		if len(p.libraryTitleFilter) > 0 && !containsFold(p.libraryTitleFilter, d.Title) {
			continue
		}
		out = append(out, struct{ Key, Title, Type string }{d.Key, d.Title, d.Type})
	}
	return out, nil
}

func (p *Plex) libraryTypeAllowed(t media.LibraryType) bool {
	for _, allowed := range p.libraryTypeFilter {
		if allowed == t {
			return true
		}
	}
	return false
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(s, needle) {
			return true
		}
	}
	return false
}

// GetMedia resolves the candidate set for a filter query across all
// matching libraries.
func (p *Plex) GetMedia(ctx context.Context, filters []media.Filter) ([]media.Media, error) {
	libs, err := p.libraries(ctx)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	for _, f := range filters {
		key := f.Key
		if f.Operator != "" && f.Operator != "=" {
			// Plex encodes the operator into the parameter name,
			// e.g. genre!=54.
			key += strings.TrimSuffix(f.Operator, "=")
		}
		query.Add(key, strings.Join(f.Value, ","))
	}

	var out []media.Media
	for _, lib := range libs {
		var meta metadataContainer
		if err := p.get(ctx, "/library/sections/"+lib.Key+"/all", query, &meta); err != nil {
			return nil, err
		}
		for _, m := range meta.MediaContainer.Metadata {
			genres := make([]string, 0, len(m.Genre))
			for _, g := range m.Genre {
				genres = append(genres, g.Tag)
			}
			out = append(out, media.Media{
				ID:            m.RatingKey,
				Type:          media.LibraryType(m.Type),
				Title:         m.Title,
				Description:   m.Summary,
				Tagline:       m.Tagline,
				Year:          m.Year,
				PosterURL:     fmt.Sprintf("/api/poster/%s/%s", p.name, m.RatingKey),
				LinkURL:       fmt.Sprintf("/api/link/%s/%s", p.name, m.RatingKey),
				Genres:        genres,
				Duration:      m.Duration,
				Rating:        m.Rating,
				ContentRating: m.ContentRating,
			})
		}
	}
	return out, nil
}

// filterFields is the filterable metadata Plex exposes for movie and show
// libraries, keyed the way the section filter endpoints expect.
var filterFields = []media.FilterField{
	{Title: "Genre", Key: "genre", Type: "tag", LibraryTypes: []media.LibraryType{media.LibraryTypeMovie, media.LibraryTypeShow}},
	{Title: "Year", Key: "year", Type: "integer", LibraryTypes: []media.LibraryType{media.LibraryTypeMovie, media.LibraryTypeShow}},
	{Title: "Decade", Key: "decade", Type: "integer", LibraryTypes: []media.LibraryType{media.LibraryTypeMovie}},
	{Title: "Content Rating", Key: "contentRating", Type: "string", LibraryTypes: []media.LibraryType{media.LibraryTypeMovie, media.LibraryTypeShow}},
	{Title: "Studio", Key: "studio", Type: "tag", LibraryTypes: []media.LibraryType{media.LibraryTypeMovie}},
	{Title: "Director", Key: "director", Type: "tag", LibraryTypes: []media.LibraryType{media.LibraryTypeMovie}},
	{Title: "Actor", Key: "actor", Type: "tag", LibraryTypes: []media.LibraryType{media.LibraryTypeMovie, media.LibraryTypeShow}},
	{Title: "Resolution", Key: "resolution", Type: "string", LibraryTypes: []media.LibraryType{media.LibraryTypeMovie}},
	{Title: "Unwatched", Key: "unwatched", Type: "boolean", LibraryTypes: []media.LibraryType{media.LibraryTypeMovie, media.LibraryTypeShow}},
}

// filterOperators maps a field type to the operators Plex accepts for it.
// The meaning of "=" differs by type (exact match vs. contains).
var filterOperators = map[string][]media.FilterOperator{
	"string":  {{Key: "=", Title: "contains"}, {Key: "!=", Title: "does not contain"}},
	"tag":     {{Key: "=", Title: "is"}, {Key: "!=", Title: "is not"}},
	"integer": {{Key: "=", Title: "is"}, {Key: "!=", Title: "is not"}, {Key: ">>=", Title: "is greater than"}, {Key: "<<=", Title: "is less than"}},
	"boolean": {{Key: "=", Title: "is"}},
}

func (p *Plex) GetFilters(ctx context.Context) (media.Filters, error) {
	// The field list is static per Plex version; probe availability so an
	// unreachable server surfaces as requestFiltersError.
	if !p.IsAvailable(ctx) {
		return media.Filters{}, fmt.Errorf("plex server %s unavailable", p.name)
	}
	return media.Filters{Filters: filterFields, FilterTypes: filterOperators}, nil
}

// GetFilterValues lists the distinct values of one filter key across the
// configured libraries, deduplicated by value.
func (p *Plex) GetFilterValues(ctx context.Context, key string) ([]media.FilterValue, error) {
	libs, err := p.libraries(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []media.FilterValue
	for _, lib := range libs {
		var dirs directoryContainer
		if err := p.get(ctx, "/library/sections/"+lib.Key+"/"+key, nil, &dirs); err != nil {
			// Not every library supports every key; keep going.
			p.logger.WithFields(logrus.Fields{"provider": p.name, "library": lib.Title, "key": key, "error": err}).Debug("filter values lookup failed")
			continue
		}
		for _, d := range dirs.MediaContainer.Directory {
			if seen[d.Key] {
				continue
			}
			seen[d.Key] = true
			out = append(out, media.FilterValue{Title: d.Title, Value: d.Key})
		}
	}
	return out, nil
}

// plexTVUser mirrors the fields we need from plex.tv's user endpoint.
type plexTVUser struct {
	Username string `json:"username"`
	Title    string `json:"title"`
	Thumb    string `json:"thumb"`
}

// Login verifies a plex.tv token and returns the account identity.
func (p *Plex) Login(ctx context.Context, token, clientID string) (provider.UserIdentity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.tvURL+"/api/v2/user", nil)
	if err != nil {
		return provider.UserIdentity{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Plex-Token", token)
	req.Header.Set("X-Plex-Client-Identifier", clientID)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return provider.UserIdentity{}, fmt.Errorf("plex.tv login: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return provider.UserIdentity{}, provider.ErrInvalidLogin
	}
	if resp.StatusCode != http.StatusOK {
		return provider.UserIdentity{}, fmt.Errorf("plex.tv login: unexpected status %d", resp.StatusCode)
	}

	var user plexTVUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return provider.UserIdentity{}, fmt.Errorf("plex.tv login decode: %w", err)
	}
	userName := user.Username
	if userName == "" {
		userName = user.Title
	}
	return provider.UserIdentity{UserName: userName, AvatarImage: user.Thumb}, nil
}

// GetArtwork streams a transcoded poster for a rating key.
func (p *Plex) GetArtwork(ctx context.Context, key string, width int) (io.ReadCloser, http.Header, error) {
	u := *p.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + "/photo/:/transcode"
	q := url.Values{}
	q.Set("url", "/library/metadata/"+key+"/thumb")
	q.Set("width", strconv.Itoa(width))
	q.Set("height", strconv.Itoa(width*3/2))
	q.Set("minSize", "1")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("X-Plex-Token", p.token)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("plex artwork %s: %w", key, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, nil, fmt.Errorf("plex artwork %s: unexpected status %d", key, resp.StatusCode)
	}

	headers := http.Header{}
	for _, h := range []string{"Content-Type", "Content-Length", "Cache-Control"} {
		if v := resp.Header.Get(h); v != "" {
			headers.Set(h, v)
		}
	}
	return resp.Body, headers, nil
}

// GetCanonicalURL builds the configured deep link flavor for a rating key.
func (p *Plex) GetCanonicalURL(ctx context.Context, key string) (string, error) {
	p.mu.Lock()
	machineID := p.machineID
	p.mu.Unlock()

	if machineID == "" {
		if !p.IsAvailable(ctx) {
			return "", fmt.Errorf("plex server %s unavailable", p.name)
		}
		p.mu.Lock()
		machineID = p.machineID
		p.mu.Unlock()
	}

	metadataKey := "/library/metadata/" + key
	switch p.linkType {
	case "app":
		return fmt.Sprintf("plex://preplay/?metadataKey=%s&server=%s", url.QueryEscape(metadataKey), machineID), nil
	case "webLocal":
		return fmt.Sprintf("%s/web/index.html#!/server/%s/details?key=%s", strings.TrimSuffix(p.baseURL.String(), "/"), machineID, url.QueryEscape(metadataKey)), nil
	default: // webExternal
		return fmt.Sprintf("https://app.plex.tv/desktop#!/server/%s/details?key=%s", machineID, url.QueryEscape(metadataKey)), nil
	}
}
