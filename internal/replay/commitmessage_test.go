package replay

import (
	"os"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvcsreplay/cvcsreplay/internal/model"
)

var commitMessageSuffix = regexp.MustCompile(`^.*\[CVCS-\d+\]$`)

func TestWriteCommitMessageEndsWithCVCSTag(t *testing.T) {
	path, err := writeCommitMessage(model.Changeset{CID: 42, Comment: "fix the build"})
	require.NoError(t, err)
	defer os.Remove(path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Regexp(t, commitMessageSuffix, string(data))
	assert.Equal(t, "fix the build [CVCS-42]", string(data))
}

func TestWriteCommitMessageHandlesEmptyComment(t *testing.T) {
	path, err := writeCommitMessage(model.Changeset{CID: 7, Comment: ""})
	require.NoError(t, err)
	defer os.Remove(path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Regexp(t, commitMessageSuffix, string(data))
	assert.Equal(t, " [CVCS-7]", string(data))
}
