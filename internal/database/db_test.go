package database

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/fyerfyer/truthlens-rag/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// TestOpenWriteThenReadOnly 测试写入后以只读方式重新打开
func TestOpenWriteThenReadOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "gen.db")

	db, err := Open(DefaultConfig(path), testLogger())
	require.NoError(t, err)

	rec := models.IndexRecord{
		RecordID: "r1",
		SourceID: "doc.txt",
		Text:     "hello",
		Vector:   []byte{0, 0, 128, 63},
		ModelID:  "hash-512",
	}
	require.NoError(t, db.Create(&rec).Error)
	assert.Equal(t, uint(1), rec.Seq)
	require.NoError(t, Close(db))

	cfg := DefaultConfig(path)
	cfg.ReadOnly = true
	ro, err := Open(cfg, testLogger())
	require.NoError(t, err)
	defer Close(ro)

	var got []models.IndexRecord
	require.NoError(t, ro.Order("seq").Find(&got).Error)
	require.Len(t, got, 1)
	assert.Equal(t, "hello", got[0].Text)

	// 只读连接不允许写入
	err = ro.Create(&models.IndexRecord{RecordID: "r2", SourceID: "x", Text: "x", Vector: []byte{1}, ModelID: "m"}).Error
	assert.Error(t, err)
}

// TestOpenReadOnlyMissing 测试只读打开不存在的文件
func TestOpenReadOnlyMissing(t *testing.T) {
	cfg := DefaultConfig(filepath.Join(t.TempDir(), "missing.db"))
	cfg.ReadOnly = true

	_, err := Open(cfg, testLogger())
	assert.Error(t, err)

	_, err = Open(&Config{}, testLogger())
	assert.Error(t, err)
}
