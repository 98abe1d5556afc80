package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRunMissingConfig(t *testing.T) {
	err := run(filepath.Join(t.TempDir(), "missing.lnx"), zap.NewNop())
	assert.ErrorContains(t, err, "parsing config file")
}

func TestRunPortInUse(t *testing.T) {
	taken, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer taken.Close()

	path := filepath.Join(t.TempDir(), "h1.lnx")
	lnx := fmt.Sprintf("[interface]\nname = \"if0\"\naddress = \"10.0.0.1/24\"\nudp = %q\n", taken.LocalAddr().String())
	require.NoError(t, os.WriteFile(path, []byte(lnx), 0o644))

	err = run(path, zap.NewNop())
	assert.ErrorContains(t, err, "binding interface")
}

func TestParsePort(t *testing.T) {
	port, err := parsePort([]string{"a", "9000"}, 1)
	require.NoError(t, err)
	assert.Equal(t, uint16(9000), port)

	_, err = parsePort([]string{"a"}, 1)
	assert.Error(t, err)
	_, err = parsePort([]string{"a", "70000"}, 1)
	assert.Error(t, err)
}

func TestNewLoggerLevel(t *testing.T) {
	assert.True(t, newLogger(true).Core().Enabled(zap.DebugLevel))
	assert.False(t, newLogger(false).Core().Enabled(zap.DebugLevel))
	assert.True(t, newLogger(false).Core().Enabled(zap.InfoLevel))
}
