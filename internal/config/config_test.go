package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/mcoot/pvg/internal/model"
)

func TestBackendValidate(t *testing.T) {
	tests := []struct {
		name    string
		backend Backend
		wantErr bool
	}{
		{"redis with key", Backend{URL: "redis://localhost:6379", Key: "secret"}, false},
		{"rediss with key", Backend{URL: "rediss://cache.example.com:6380", Key: "secret"}, false},
		{"memory without key", Backend{URL: "memory://local"}, false},
		{"missing url", Backend{Key: "secret"}, true},
		{"missing key", Backend{URL: "redis://localhost:6379"}, true},
		{"unsupported scheme", Backend{URL: "https://example.com", Key: "secret"}, true},
		{"garbage url", Backend{URL: "::::", Key: "secret"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.backend.Validate()
			if tt.wantErr {
				assert.True(t, model.IsKind(err, model.KindConfiguration), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBackendRedacted(t *testing.T) {
	b := Backend{URL: "redis://x", Key: "secret"}
	assert.Equal(t, "****", b.Redacted().Key)
	assert.Equal(t, "secret", b.Key)
	assert.Equal(t, "", Backend{}.Redacted().Key)
}

type SettingsSuite struct {
	suite.Suite
	settings *Settings
}

func TestSettingsSuite(t *testing.T) {
	suite.Run(t, new(SettingsSuite))
}

func (s *SettingsSuite) SetupTest() {
	s.T().Setenv(EnvEndpoint, "")
	s.T().Setenv(EnvCredential, "")
	s.settings = New(filepath.Join(s.T().TempDir(), "pvg"))
}

func (s *SettingsSuite) TestLoadBackendWithNothingSaved() {
	b, err := s.settings.LoadBackend()
	s.Require().NoError(err)
	s.True(b.IsZero())
}

func (s *SettingsSuite) TestSaveAndLoadBackend() {
	want := Backend{URL: "redis://localhost:6379", Key: "secret"}
	s.Require().NoError(s.settings.SaveBackend(want))

	got, err := s.settings.LoadBackend()
	s.Require().NoError(err)
	s.Equal(want, got)

	info, err := os.Stat(filepath.Join(s.settings.Dir, "backend.json"))
	s.Require().NoError(err)
	s.Equal(os.FileMode(0600), info.Mode().Perm())
}

func (s *SettingsSuite) TestEnvironmentOverridesFile() {
	s.Require().NoError(s.settings.SaveBackend(Backend{URL: "redis://file:6379", Key: "file-key"}))
	s.T().Setenv(EnvEndpoint, "redis://env:6379")

	got, err := s.settings.LoadBackend()
	s.Require().NoError(err)
	s.Equal("redis://env:6379", got.URL)
	s.Equal("file-key", got.Key)
}

func (s *SettingsSuite) TestCorruptBackendFile() {
	s.Require().NoError(os.MkdirAll(s.settings.Dir, 0700))
	s.Require().NoError(os.WriteFile(filepath.Join(s.settings.Dir, "backend.json"), []byte("{"), 0600))

	_, err := s.settings.LoadBackend()
	s.True(model.IsKind(err, model.KindConfiguration))
}

func (s *SettingsSuite) TestExportImportRoundTrip() {
	want := Backend{URL: "rediss://cache:6380", Key: "secret"}
	s.Require().NoError(s.settings.SaveBackend(want))

	var buf bytes.Buffer
	s.Require().NoError(s.settings.Export(&buf))

	other := New(filepath.Join(s.T().TempDir(), "other"))
	got, err := other.Import(&buf)
	s.Require().NoError(err)
	s.Equal(want, got)

	loaded, _ := other.LoadBackend()
	s.Equal(want, loaded)
}

func (s *SettingsSuite) TestImportRejectsIncompleteSettings() {
	for _, body := range []string{`{"url":"redis://x"}`, `{"key":"k"}`, `not json`} {
		_, err := s.settings.Import(strings.NewReader(body))
		s.True(model.IsKind(err, model.KindConfiguration), body)
	}
	b, _ := s.settings.LoadBackend()
	s.True(b.IsZero())
}

func (s *SettingsSuite) TestRememberAndForget() {
	code, err := s.settings.RememberedRoom()
	s.Require().NoError(err)
	s.Empty(code)

	s.Require().NoError(s.settings.Remember("ABCD"))
	code, _ = s.settings.RememberedRoom()
	s.Equal(model.RoomCode("ABCD"), code)

	s.Require().NoError(s.settings.Forget())
	s.Require().NoError(s.settings.Forget())
	code, _ = s.settings.RememberedRoom()
	s.Empty(code)
}

func TestDefaultDirHonoursEnv(t *testing.T) {
	t.Setenv(EnvHome, "/tmp/pvg-test-home")
	assert.Equal(t, "/tmp/pvg-test-home", DefaultDir())
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("PVG_TEST_LOADED=yes\n"), 0600))
	t.Setenv("PVG_TEST_LOADED", "")
	require.NoError(t, os.Unsetenv("PVG_TEST_LOADED"))

	require.NoError(t, LoadEnv(path, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "yes", os.Getenv("PVG_TEST_LOADED"))
}
