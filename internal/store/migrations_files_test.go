package store

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const migrationsDir = "../../db/migrations"

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	entries, err := os.ReadDir(filepath.FromSlash(migrationsDir))
	require.NoError(t, err)

	pattern := regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)
	byVersion := map[string]map[string]bool{}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := pattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		version, direction := match[1], match[2]
		if byVersion[version] == nil {
			byVersion[version] = map[string]bool{}
		}
		require.Falsef(t, byVersion[version][direction], "duplicate %s migration file for version %s", direction, version)
		byVersion[version][direction] = true
	}

	require.NotEmpty(t, byVersion, "no migrations discovered")
	for version, dirs := range byVersion {
		assert.Truef(t, dirs["up"] && dirs["down"], "version %s must include both up and down files", version)
	}
}

func TestUpMigrationsAreSortedAndFiltered(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_b.up.sql":   {Data: []byte("SELECT 2")},
		"0001_a.up.sql":   {Data: []byte("SELECT 1")},
		"0001_a.down.sql": {Data: []byte("SELECT 0")},
		"README.md":       {Data: []byte("notes")},
		"nested/x.up.sql": {Data: []byte("SELECT 3")},
	}
	files, err := upMigrations(fsys)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_a.up.sql", "0002_b.up.sql"}, files)
}
