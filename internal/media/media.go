// internal/media/media.go
package media

// LibraryType enumerates the kinds of provider libraries we can match over.
type LibraryType string

const (
	LibraryTypeMovie LibraryType = "movie"
	LibraryTypeShow  LibraryType = "show"
	LibraryTypeMusic LibraryType = "music"
	LibraryTypePhoto LibraryType = "photo"
)

// Media is a single candidate item in a room, as presented to clients.
type Media struct {
	ID            string      `json:"id"`
	Type          LibraryType `json:"type"`
	Title         string      `json:"title"`
	Description   string      `json:"description"`
	Tagline       string      `json:"tagline,omitempty"`
	Year          int         `json:"year,omitempty"`
	PosterURL     string      `json:"posterUrl,omitempty"`
	LinkURL       string      `json:"linkUrl"`
	Genres        []string    `json:"genres"`
	Duration      int         `json:"duration"`
	Rating        float64     `json:"rating"`
	ContentRating string      `json:"contentRating,omitempty"`
}

// Match records a group agreement on one media item. Immutable once
// created; the Users list is frozen at match time.
type Match struct {
	MatchedAt int64    `json:"matchedAt"`
	Media     Media    `json:"media"`
	Users     []string `json:"users"`
}

// Filter is one clause of a room's catalog query, e.g. genre == ["comedy"].
type Filter struct {
	Key      string   `json:"key"`
	Operator string   `json:"operator"`
	Value    []string `json:"value"`
}

// FilterField describes a filterable field a provider exposes.
type FilterField struct {
	Title        string        `json:"title"`
	Key          string        `json:"key"`
	Type         string        `json:"type"`
	LibraryTypes []LibraryType `json:"libraryTypes"`
}

// FilterOperator is one operator applicable to a filter field type.
type FilterOperator struct {
	Key   string `json:"key"`
	Title string `json:"title"`
}

// Filters is the full filter metadata set for room creation UIs.
type Filters struct {
	Filters []FilterField `json:"filters"`

	// FilterTypes maps a field type (e.g. "integer") to its operators.
	// The meaning of a key like "=" can differ between field types.
	FilterTypes map[string][]FilterOperator `json:"filterTypes"`
}

// FilterValue is a concrete selectable value for a filter key.
type FilterValue struct {
	Title string `json:"title"`
	Value string `json:"value"`
}
