package agentinfo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileKeepsExistingKeys(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "agent_info.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"agent":"build-runner-3"}`), 0o644))

	f := NewFile(path)
	require.NoError(t, f.WriteAgentInfo("fortify_pv_url", "https://ssc.example.com/ssc/html/ssc/index.jsp#!/version/10/fix"))
	require.NoError(t, f.WriteAgentInfo("fortify_build_id", "build-77"))

	got, err := f.Values()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"agent":            "build-runner-3",
		"fortify_pv_url":   "https://ssc.example.com/ssc/html/ssc/index.jsp#!/version/10/fix",
		"fortify_build_id": "build-77",
	}, got)
}

func TestFileCreatedOnFirstWrite(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "agent_info.json")

	require.NoError(t, NewFile(path).WriteAgentInfo("fortify_build_id", "b1"))
	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestFileRejectsCorruptContents(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "agent_info.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	err := NewFile(path).WriteAgentInfo("fortify_build_id", "b1")
	assert.Error(t, err)
}
