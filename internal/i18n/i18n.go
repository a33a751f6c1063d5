// internal/i18n/i18n.go
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"strings"

	"github.com/goccy/go-json"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

// Translator serves UI translation bundles matched against a client's
// requested language.
type Translator struct {
	matcher  language.Matcher
	tags     []language.Tag
	bundles  map[language.Tag]map[string]string
	fallback language.Tag
}

// New loads every embedded locale bundle. English is the fallback and
// must be present.
func New() (*Translator, error) {
	entries, err := fs.ReadDir(localeFS, "locales")
	if err != nil {
		return nil, fmt.Errorf("read locales: %w", err)
	}

	t := &Translator{
		bundles:  make(map[language.Tag]map[string]string),
		fallback: language.English,
	}

	// The fallback must be the matcher's first tag.
	t.tags = append(t.tags, language.English)

	for _, entry := range entries {
		name := strings.TrimSuffix(entry.Name(), ".json")
		tag, err := language.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("locale %s: %w", entry.Name(), err)
		}

		data, err := localeFS.ReadFile("locales/" + entry.Name())
		if err != nil {
			return nil, err
		}
		bundle := make(map[string]string)
		if err := json.Unmarshal(data, &bundle); err != nil {
			return nil, fmt.Errorf("locale %s: %w", entry.Name(), err)
		}

		t.bundles[tag] = bundle
		if tag != language.English {
			t.tags = append(t.tags, tag)
		}
	}

	if _, ok := t.bundles[language.English]; !ok {
		return nil, fmt.Errorf("missing fallback locale en")
	}

	t.matcher = language.NewMatcher(t.tags)
	return t, nil
}

// Translations returns the bundle best matching an Accept-Language style
// preference string, falling back to English.
func (t *Translator) Translations(preferred string) map[string]string {
	tags, _, err := language.ParseAcceptLanguage(preferred)
	if err != nil || len(tags) == 0 {
		return t.bundles[t.fallback]
	}

	_, index, _ := t.matcher.Match(tags...)
	return t.bundles[t.tags[index]]
}
