// internal/provider/provider.go
//
// Package provider defines the capability contract the coordinator uses
// to talk to media catalogs. The core never reaches past this interface.
package provider

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/cinematch/cinematch/internal/media"
)

// ErrInvalidLogin reports a delegated login with an invalid or expired
// provider token.
var ErrInvalidLogin = errors.New("provider rejected the login token")

// UserIdentity is a verified identity returned by a delegated login.
type UserIdentity struct {
	UserName    string
	AvatarImage string
}

// Provider supplies candidate media, filter metadata, artwork, canonical
// links, and delegated login for one configured media server.
type Provider interface {
	// Name identifies the provider in URLs (poster/link routes).
	Name() string

	// IsAvailable probes the backing server.
	IsAvailable(ctx context.Context) bool

	// GetFilters returns the filter metadata for room creation.
	GetFilters(ctx context.Context) (media.Filters, error)

	// GetFilterValues returns the selectable values for one filter key.
	GetFilterValues(ctx context.Context, key string) ([]media.FilterValue, error)

	// GetMedia resolves the candidate media set for a filter query.
	GetMedia(ctx context.Context, filters []media.Filter) ([]media.Media, error)

	// Login exchanges an external token for a verified identity.
	// Returns ErrInvalidLogin when the token is not accepted.
	Login(ctx context.Context, token, clientID string) (UserIdentity, error)

	// GetArtwork streams poster artwork for a media key at the given
	// width. The returned headers carry content type and length.
	GetArtwork(ctx context.Context, key string, width int) (io.ReadCloser, http.Header, error)

	// GetCanonicalURL resolves the deep link for a media key.
	GetCanonicalURL(ctx context.Context, key string) (string, error)
}
