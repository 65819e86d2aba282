package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateConfigPath(t *testing.T) {
	dir := t.TempDir()

	assert.NoError(t, validateConfigPath(filepath.Join(dir, "agent.json")))
	assert.NoError(t, validateConfigPath(filepath.Join(dir, "agent.yaml")))
	assert.NoError(t, validateConfigPath(filepath.Join(dir, "agent.YML")))
	assert.NoError(t, validateConfigPath("agent.json"))

	assert.Error(t, validateConfigPath(""))
	assert.Error(t, validateConfigPath(filepath.Join(dir, "agent.toml")))
	assert.Error(t, validateConfigPath("../../etc/agent.json"))
	assert.Error(t, validateConfigPath(strings.Repeat("a", maxPathLen+1)+".json"))
}

func TestSafeReadFile(t *testing.T) {
	dir := t.TempDir()

	_, err := safeReadFile(dir + string(filepath.Separator) + "sub.json")
	assert.Error(t, err)

	require.NoError(t, os.Mkdir(filepath.Join(dir, "folder.json"), 0700))
	_, err = safeReadFile(filepath.Join(dir, "folder.json"))
	assert.Error(t, err)

	big := filepath.Join(dir, "big.json")
	require.NoError(t, os.WriteFile(big, make([]byte, maxConfigSize+1), 0600))
	_, err = safeReadFile(big)
	assert.ErrorContains(t, err, "too large")

	ok := filepath.Join(dir, "ok.json")
	require.NoError(t, safeWriteFile(ok, []byte(`{"addr":":1"}`)))
	data, err := safeReadFile(ok)
	require.NoError(t, err)
	assert.Equal(t, `{"addr":":1"}`, string(data))

	info, err := os.Stat(ok)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestValidateJSONDepth(t *testing.T) {
	assert.NoError(t, validateJSONDepth([]byte(`{"a": [1, {"b": "}}}"}]}`)))
	assert.NoError(t, validateJSONDepth([]byte(`{"escaped": "quote \" and ["}`)))

	deep := strings.Repeat("[", maxJSONDepth+1) + strings.Repeat("]", maxJSONDepth+1)
	assert.ErrorContains(t, validateJSONDepth([]byte(deep)), "too deep")

	assert.ErrorContains(t, validateJSONDepth([]byte(`{"a": 1}}`)), "unbalanced")
	assert.ErrorContains(t, validateJSONDepth([]byte(`{"a": [1`)), "unclosed")
}
