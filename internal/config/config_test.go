// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cinematch/cinematch/internal/media"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, 2, cfg.MatchThreshold)
	assert.True(t, cfg.RequiresSetup())
	assert.Equal(t, "0.0.0.0:8000", cfg.Addr())
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
hostname: 127.0.0.1
port: 9000
logLevel: DEBUG
requirePlexLogin: true
matchThreshold: 3
servers:
  - type: plex
    url: http://plex.local:32400
    token: secret
    libraryTitleFilter: ["Movies"]
    libraryTypeFilter: ["movie", "show"]
    linkType: webExternal
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.True(t, cfg.RequirePlexLogin)
	assert.Equal(t, 3, cfg.MatchThreshold)
	assert.False(t, cfg.RequiresSetup())

	require.Len(t, cfg.Servers, 1)
	srv := cfg.Servers[0]
	assert.Equal(t, "http://plex.local:32400", srv.URL)
	assert.Equal(t, "secret", srv.Token)
	assert.Equal(t, []string{"Movies"}, srv.LibraryTitleFilter)
	assert.Equal(t, []media.LibraryType{media.LibraryTypeMovie, media.LibraryTypeShow}, srv.LibraryTypeFilter)
	assert.Equal(t, "webExternal", srv.LinkType)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, `
port: 9000
servers:
  - url: http://plex.local:32400
    token: secret
`)
	t.Setenv("PORT", "9999")
	t.Setenv("LOG_LEVEL", "ERROR")
	t.Setenv("REQUIRE_PLEX_LOGIN", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, "ERROR", cfg.LogLevel)
	assert.True(t, cfg.RequirePlexLogin)
}

func TestPlexEnvSynthesizesServer(t *testing.T) {
	t.Setenv("PLEX_URL", "http://plex.example:32400")
	t.Setenv("PLEX_TOKEN", "env-token")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	require.Len(t, cfg.Servers, 1)
	assert.Equal(t, "plex", cfg.Servers[0].Type)
	assert.Equal(t, "http://plex.example:32400", cfg.Servers[0].URL)
	assert.Equal(t, "env-token", cfg.Servers[0].Token)
	assert.False(t, cfg.RequiresSetup())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	for name, contents := range map[string]string{
		"bad log level":     "logLevel: VERBOSE",
		"port out of range": "port: 70000",
		"threshold too low": "matchThreshold: 1",
		"server without token": `
servers:
  - url: http://plex.local:32400
`,
		"server with bad url": `
servers:
  - url: not-a-url
    token: secret
`,
		"server with bad link type": `
servers:
  - url: http://plex.local:32400
    token: secret
    linkType: teleport
`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, contents))
			assert.Error(t, err)
		})
	}
}

func TestLoadRejectsUnparsableFile(t *testing.T) {
	_, err := Load(writeConfig(t, "{{not yaml"))
	assert.Error(t, err)
}

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`{"servers":[{"url":"http://plex.local:32400","token":"secret"}]}`))
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	require.Len(t, cfg.Servers, 1)
	require.NoError(t, cfg.Validate())
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse([]byte(`[]`))
	assert.Error(t, err)
}

func TestSaveRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := Default()
	cfg.Servers = []Server{{Type: "plex", URL: "http://plex.local:32400", Token: "secret"}}
	cfg.RequirePlexLogin = true
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Servers, loaded.Servers)
	assert.True(t, loaded.RequirePlexLogin)
}

func TestBasicAuthFromEnv(t *testing.T) {
	t.Setenv("BASIC_AUTH_USER", "admin")
	t.Setenv("BASIC_AUTH_PASS", "hunter2")
	t.Setenv("PLEX_URL", "http://plex.local:32400")
	t.Setenv("PLEX_TOKEN", "secret")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	require.NotNil(t, cfg.BasicAuth)
	assert.Equal(t, "admin", cfg.BasicAuth.UserName)
	assert.Equal(t, "hunter2", cfg.BasicAuth.Password)
}
