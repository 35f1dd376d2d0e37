package version

import (
	"runtime/debug"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func withBuildInfo(t *testing.T, bi *debug.BuildInfo, ok bool) {
	t.Helper()
	orig := readBuildInfo
	readBuildInfo = func() (*debug.BuildInfo, bool) { return bi, ok }
	t.Cleanup(func() { readBuildInfo = orig })
}

func TestGetFromVCS(t *testing.T) {
	withBuildInfo(t, &debug.BuildInfo{
		Main: debug.Module{Version: "(devel)"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef"},
			{Key: "vcs.time", Value: "2024-05-01T10:00:00Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	}, true)

	info := Get()
	assert.Equal(t, "dev-0123456", info.Version)
	assert.Equal(t, "0123456789abcdef", info.GitCommit)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), info.BuildTime)
	assert.True(t, info.Dirty)
	assert.False(t, info.IsRelease())
	assert.Equal(t, "dev-0123456 (dirty)", info.Short())
}

func TestGetModuleVersion(t *testing.T) {
	withBuildInfo(t, &debug.BuildInfo{Main: debug.Module{Version: "v1.2.3"}}, true)

	info := Get()
	assert.Equal(t, "v1.2.3", info.Version)
	assert.True(t, info.IsRelease())
	assert.Equal(t, "v1.2.3", info.Short())
	assert.Contains(t, info.String(), "Version: v1.2.3")
	assert.NotContains(t, info.String(), "Commit:")
}

func TestGetWithoutBuildInfo(t *testing.T) {
	withBuildInfo(t, nil, false)

	info := Get()
	assert.Equal(t, "dev", info.Version)
	assert.Equal(t, "unknown", info.GitCommit)
	assert.True(t, info.BuildTime.IsZero())
}

func TestParseTime(t *testing.T) {
	assert.True(t, parseTime("").IsZero())
	assert.True(t, parseTime("unknown").IsZero())
	assert.True(t, parseTime("yesterday").IsZero())
	assert.Equal(t, 2024, parseTime("2024-01-02 03:04:05").Year())
}
