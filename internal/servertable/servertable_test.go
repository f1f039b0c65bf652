package servertable_test

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/jroosing/madns/internal/servertable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsEmpty(t *testing.T) {
	_, err := servertable.New(nil, 20)
	assert.ErrorIs(t, err, servertable.ErrNoServers)
}

func TestNewClampsServerReqs(t *testing.T) {
	ips := []net.IP{net.IPv4(1, 1, 1, 1), net.IPv4(8, 8, 8, 8)}
	tbl, err := servertable.New(ips, 999999)
	require.NoError(t, err)
	assert.LessOrEqual(t, tbl.ServerReqs(), 32767/2)
}

func TestSelectIgnoresOnlyTheQueriesOwnPreviousServer(t *testing.T) {
	ips := []net.IP{net.IPv4(1, 1, 1, 1), net.IPv4(8, 8, 8, 8)}
	tbl, err := servertable.New(ips, 20)
	require.NoError(t, err)

	first, ok := tbl.Select(-1)
	require.True(t, ok)
	tbl.Acquire(first)

	// A fresh query (prevServer -1) may still land on the same,
	// lowest-latency server that was just picked for another query —
	// there is no table-global exclusion.
	second, ok := tbl.Select(-1)
	require.True(t, ok)
	assert.Equal(t, first, second)

	// Excluding the query's own previous server does rule it out.
	third, ok := tbl.Select(first)
	require.True(t, ok)
	assert.NotEqual(t, first, third)
}

func TestSelectReturnsFalseWhenSaturated(t *testing.T) {
	ips := []net.IP{net.IPv4(1, 1, 1, 1)}
	tbl, err := servertable.New(ips, 1)
	require.NoError(t, err)

	idx, ok := tbl.Select(-1)
	require.True(t, ok)
	tbl.Acquire(idx)

	_, ok = tbl.Select(-1)
	assert.False(t, ok)
}

func TestReleaseUpdatesLatencyAndFrees(t *testing.T) {
	ips := []net.IP{net.IPv4(1, 1, 1, 1)}
	tbl, err := servertable.New(ips, 10)
	require.NoError(t, err)

	idx, ok := tbl.Select(-1)
	require.True(t, ok)
	tbl.Acquire(idx)
	tbl.Release(idx, 0.5)

	snap := tbl.Snapshot()
	assert.Equal(t, 0, snap[idx].InFlight)
	assert.Greater(t, snap[idx].Latency, 0.0)
}

func TestLoadResolvConfIgnoresUnrelatedLines(t *testing.T) {
	contents := "search example.com\nnameserver 1.1.1.1\noptions ndots:5\nnameserver 8.8.8.8\n# comment\n"
	path := filepath.Join(t.TempDir(), "resolv.conf")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	ips, err := servertable.LoadResolvConf(path)
	require.NoError(t, err)
	require.Len(t, ips, 2)
	assert.Equal(t, "1.1.1.1", ips[0].String())
	assert.Equal(t, "8.8.8.8", ips[1].String())
}
