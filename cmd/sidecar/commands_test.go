package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadURLs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urls.txt")
	content := "# weekly senders\nhttps://a.example/u?id=1\n\n   https://b.example/optout  \n#https://skipped.example\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	urls, err := readURLs(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example/u?id=1", "https://b.example/optout"}, urls)

	_, err = readURLs(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestLoadConfigDefaultPathOptional(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfgFile = ""
	t.Cleanup(func() { cfgFile = "" })

	c, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, 3001, c.Server.Port)

	cfgFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = loadConfig()
	assert.Error(t, err, "an explicit --config must exist")
}
