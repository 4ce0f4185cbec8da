package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func withVersion(t *testing.T, version, commit string) {
	t.Helper()
	oldVersion, oldCommit := Version, GitCommit
	Version, GitCommit = version, commit
	t.Cleanup(func() { Version, GitCommit = oldVersion, oldCommit })
}

func TestReleaseVersion(t *testing.T) {
	withVersion(t, "v1.2.3", "0123456789abcdef")

	assert.Equal(t, "v1.2.3", GetVersion())
	assert.Equal(t, "v1.2.3 (0123456)", GetShortVersion())
	assert.True(t, IsRelease())

	info := GetBuildInfo()
	assert.Equal(t, "0123456789abcdef", info.GitCommit)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
	assert.True(t, info.Release)
}

func TestDetailedVersion(t *testing.T) {
	withVersion(t, "v0.4.0", "fedcba9876543210")

	detailed := GetDetailedVersion()
	assert.Contains(t, detailed, "Version: v0.4.0")
	assert.Contains(t, detailed, "Commit: fedcba9876543210")
	assert.Contains(t, detailed, "Go: "+runtime.Version())
}

func TestParseTime(t *testing.T) {
	assert.Equal(t, 2024, parseTime("2024-03-01T10:00:00Z").Year())
	assert.Equal(t, 3, int(parseTime("2024-03-01 10:00:00").Month()))
	assert.True(t, parseTime("unknown").IsZero())
}
