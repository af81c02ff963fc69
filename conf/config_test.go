package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `{
  "log": {"level": "debug"},
  "stream": {"chunk_size": 4096, "read_timeout": "1.5s", "rate_limit": 1024},
  "datagram": {"max_packet_size": 1400}
}`)
	config, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", config.Log.Level)
	assert.Equal(t, 4096, config.Stream.ChunkSize)
	assert.Equal(t, Duration(1500*time.Millisecond), config.Stream.ReadTimeout)
	assert.Equal(t, 1024.0, config.Stream.RateLimit)
	assert.Equal(t, 1400, config.Datagram.MaxPacketSize)
	assert.Len(t, config.StreamOptions(), 1)
	assert.Len(t, config.DatagramOptions(), 1)
}

func TestDurationSeconds(t *testing.T) {
	t.Parallel()
	config, err := Load(writeConfig(t, `{"stream": {"read_timeout": 2}}`))
	require.NoError(t, err)
	assert.Equal(t, Duration(2*time.Second), config.Stream.ReadTimeout)
	assert.Empty(t, config.StreamOptions())
}

func TestLoadInvalid(t *testing.T) {
	t.Parallel()
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
	_, err = Load(writeConfig(t, `{"stream": {"read_timeout": true}}`))
	assert.Error(t, err)
	_, err = Load(writeConfig(t, `{"datagram": {"max_packet_size": -1}}`))
	assert.Error(t, err)
}
