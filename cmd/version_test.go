package cmd

import (
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/avencel/guildmate/guildmate"
	"github.com/stretchr/testify/assert"
)

func TestVersionCommand(t *testing.T) {
	originalVersion := guildmate.Version
	originalCommitSHA := guildmate.CommitSHA
	originalBuildTime := guildmate.BuildTime

	t.Cleanup(
		func() {
			guildmate.Version = originalVersion
			guildmate.CommitSHA = originalCommitSHA
			guildmate.BuildTime = originalBuildTime
		},
	)

	guildmate.Version = "1.0.0"
	guildmate.CommitSHA = "abc123"
	guildmate.BuildTime = "2024-10-01T12:00:00Z"

	orig := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w
	t.Cleanup(
		func() {
			os.Stdout = orig
		},
	)

	versionCmd.Run(nil, nil)

	_ = w.Close()

	out, _ := io.ReadAll(r)
	expected := fmt.Sprintf(
		"version=%s commit=%s built: %s",
		guildmate.Version,
		guildmate.CommitSHA,
		guildmate.BuildTime,
	)
	assert.Equal(t, expected, string(out))
}
