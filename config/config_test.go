package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fyerfyer/truthlens-rag/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoadDefaults 测试无配置文件时使用默认值
func TestLoadDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("EMBED_API_KEY", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.Embed.Provider)
	assert.Equal(t, "text-embedding-3-small", cfg.Embed.Model)
	assert.Equal(t, 30*time.Second, cfg.Embed.Timeout)
	assert.Equal(t, 1000, cfg.Document.ChunkSize)
	assert.Equal(t, 200, cfg.Document.ChunkOverlap)
	assert.Equal(t, 3, cfg.Retrieval.TopK)
	assert.Equal(t, 2, cfg.Index.KeepGenerations)
	assert.Equal(t, "How do I verify facts?", cfg.Index.SmokeQuery)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)

	// 缺少API密钥属于配置错误
	err = cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, models.KindConfiguration, models.KindOf(err))
	assert.Equal(t, 2, models.KindOf(err).ExitCode())
}

// TestLoadFileAndEnv 测试配置文件与环境变量覆盖
func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
embed:
  provider: openai
  api_key: ${TRUTHLENS_TEST_KEY}
  timeout: 5s
document:
  chunk_size: 500
  chunk_overlap: 50
index:
  location: /tmp/idx
retrieval:
  top_k: 5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("EMBED_API_KEY", "")
	t.Setenv("TRUTHLENS_TEST_KEY", "sk-from-env")
	t.Setenv("INDEX_LOCATION", "/srv/index")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", cfg.Embed.APIKey)
	assert.Equal(t, 5*time.Second, cfg.Embed.Timeout)
	assert.Equal(t, 500, cfg.Document.ChunkSize)
	assert.Equal(t, "/srv/index", cfg.Index.Location)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.NoError(t, cfg.Validate())
}

// TestLoadOpenAIKeyFromEnv 测试OPENAI_API_KEY绑定
func TestLoadOpenAIKeyFromEnv(t *testing.T) {
	t.Setenv("EMBED_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "sk-openai")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-openai", cfg.Embed.APIKey)
	assert.NoError(t, cfg.Validate())
}

// TestValidate 测试配置校验
func TestValidate(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("EMBED_API_KEY", "")
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Embed.Provider = "hash"
	assert.NoError(t, cfg.Validate())

	cfg.Document.ChunkOverlap = 600
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk_overlap")

	cfg.Document.ChunkOverlap = 100
	cfg.Retrieval.TopK = 0
	cfg.Storage.Type = "ftp"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "top_k")
	assert.Contains(t, err.Error(), "storage.type")

	// 格式错误的配置文件
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("embed: [unclosed"), 0644))
	_, err = Load(path)
	assert.Equal(t, models.KindConfiguration, models.KindOf(err))
}

// TestLoadMissingFile 测试显式指定的配置文件不存在时返回配置错误
func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, models.KindConfiguration, models.KindOf(err))
	assert.Contains(t, err.Error(), "missing.yaml")
}
