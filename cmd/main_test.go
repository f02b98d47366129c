package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fyerfyer/truthlens-rag/internal/models"
	"github.com/fyerfyer/truthlens-rag/internal/vectordb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// offlineEnv 使用哈希嵌入并关闭缓存
func offlineEnv(t *testing.T) {
	t.Setenv("EMBED_PROVIDER", "hash")
	t.Setenv("CACHE_ENABLE", "false")
	t.Setenv("LOG_LEVEL", "error")
}

// TestBuildThenQuery 测试构建与查询子命令
func TestBuildThenQuery(t *testing.T) {
	offlineEnv(t)
	dir := t.TempDir()
	doc := filepath.Join(dir, "methodology.txt")
	require.NoError(t, os.WriteFile(doc,
		[]byte("Fact-checking requires primary sources.\fAlways verify dates and names against originals."), 0644))
	location := filepath.Join(dir, "index")

	require.NoError(t, runBuild([]string{"-doc", doc, "-index", location, "-chunk-size", "50", "-chunk-overlap", "10"}))

	gen, err := vectordb.NewStore(location).Current()
	require.NoError(t, err)
	assert.NotEmpty(t, gen)

	assert.Equal(t, 0, runQuery([]string{"-index", location, "-k", "1", "how", "to", "verify", "a", "date"}))
	assert.Equal(t, models.KindInvalidArgument.ExitCode(), runQuery([]string{"-index", location, "-k", "-2", "verify"}))
	assert.Equal(t, models.KindInvalidArgument.ExitCode(), runQuery([]string{"-index", location, "-k", "0", "verify"}))
	assert.Equal(t, models.KindInvalidArgument.ExitCode(), runQuery([]string{"-index", location}))
}

// TestCommandErrors 测试子命令的错误退出码
func TestCommandErrors(t *testing.T) {
	offlineEnv(t)
	dir := t.TempDir()

	assert.Equal(t, models.KindIndexNotFound.ExitCode(),
		runQuery([]string{"-index", filepath.Join(dir, "never-built"), "verify a date"}))

	err := runBuild([]string{"-index", filepath.Join(dir, "index")})
	assert.Equal(t, models.KindConfiguration, models.KindOf(err))

	blank := filepath.Join(dir, "blank.txt")
	require.NoError(t, os.WriteFile(blank, []byte(" \n\n "), 0644))
	err = runBuild([]string{"-doc", blank, "-index", filepath.Join(dir, "index")})
	assert.Equal(t, models.KindEmptyCorpus, models.KindOf(err))
	assert.Equal(t, 3, models.KindOf(err).ExitCode())

	err = runBuild([]string{"-doc", filepath.Join(dir, "missing.pdf"), "-index", filepath.Join(dir, "index")})
	assert.Equal(t, models.KindConfiguration, models.KindOf(err))

	err = runBuild([]string{"-config", filepath.Join(dir, "missing.yaml"), "-index", filepath.Join(dir, "index")})
	assert.Equal(t, models.KindConfiguration, models.KindOf(err))

	err = runBuild([]string{"-unknown-flag"})
	assert.Equal(t, models.KindConfiguration, models.KindOf(err))
}

// TestOpenAIRequiresKey 未设置密钥时openai提供商返回配置错误
func TestOpenAIRequiresKey(t *testing.T) {
	t.Setenv("EMBED_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("EMBED_API_KEY", "")
	t.Setenv("LOG_LEVEL", "error")

	code := runQuery([]string{"-index", t.TempDir(), "verify a date"})
	assert.Equal(t, models.KindConfiguration.ExitCode(), code)
}
