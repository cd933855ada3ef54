package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestDefault(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	require.Equal(t, DefaultAddr, c.RTMP.Addr)
	require.Equal(t, DefaultChunkSize, c.RTMP.ReadChunkSize)
	require.Equal(t, "dynamic", c.RTMP.LimitType)
	require.False(t, c.RTMP.TLS.Enabled())
	require.Empty(t, c.Record.Dir)
}

func TestParse(t *testing.T) {
	data := []byte(`
rtmp:
  addr: 127.0.0.1:1936
  app: live
  write_chunk_size: 4096
  write_window_size: 5000000
  limit_type: Hard
record:
  dir: /tmp/recordings
metrics:
  addr: :9090
log:
  level: debug
  development: true
`)

	c, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:1936", c.RTMP.Addr)
	require.Equal(t, "live", c.RTMP.App)
	require.Equal(t, uint32(4096), c.RTMP.WriteChunkSize)
	require.Equal(t, DefaultChunkSize, c.RTMP.ReadChunkSize)
	require.Equal(t, uint32(5000000), c.RTMP.WriteWindowSize)
	require.Equal(t, "hard", c.RTMP.LimitType)
	require.Equal(t, DefaultPeerBandwidth, c.RTMP.PeerBandwidth)
	require.Equal(t, "/tmp/recordings", c.Record.Dir)
	require.Equal(t, ":9090", c.Metrics.Addr)
	require.True(t, c.Log.Development)

	level, err := c.Level()
	require.NoError(t, err)
	require.Equal(t, zapcore.DebugLevel, level)
}

func TestParseInvalid(t *testing.T) {
	invalidTests := []struct {
		name string
		data string
	}{
		{"zeroChunkSize", "rtmp:\n  read_chunk_size: 0\n"},
		{"hugeChunkSize", "rtmp:\n  write_chunk_size: 4294967295\n"},
		{"limitType", "rtmp:\n  limit_type: fast\n"},
		{"negativeQueue", "rtmp:\n  write_queue_size: -1\n"},
		{"halfTLS", "rtmp:\n  tls:\n    cert_file: cert.pem\n"},
		{"logLevel", "log:\n  level: loud\n"},
		{"notYAML", "rtmp: [1, 2"},
	}

	for _, tt := range invalidTests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			require.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rtmpd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rtmp:\n  addr: :1937\n"), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":1937", c.RTMP.Addr)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
