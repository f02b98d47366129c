package vectordb

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/fyerfyer/truthlens-rag/internal/database"
	"github.com/fyerfyer/truthlens-rag/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	currentFile    = "CURRENT"
	generationsDir = "generations"
	generationExt  = ".db"
	tmpExt         = ".tmp"

	// DefaultKeepGenerations 默认保留的构建代数量
	DefaultKeepGenerations = 2

	insertBatchSize = 500
)

// generationPattern 构建代名称：UTC时间戳加短随机后缀
var generationPattern = regexp.MustCompile(`^\d{8}T\d{6}\.\d{9}Z-[0-9a-f]{8}$`)

// Store 索引的持久化存储
// 每次保存写入一个新的构建代，再原子替换CURRENT指针
type Store struct {
	location string
	keep     int
	searcher string
	logger   *logrus.Logger
}

// StoreOption 存储配置选项
type StoreOption func(*Store)

// WithKeepGenerations 设置保留的构建代数量，最少保留2个
func WithKeepGenerations(n int) StoreOption {
	return func(s *Store) {
		s.keep = n
	}
}

// WithStoreSearcher 设置加载后索引使用的检索后端
func WithStoreSearcher(name string) StoreOption {
	return func(s *Store) {
		s.searcher = name
	}
}

// WithStoreLogger 设置日志
func WithStoreLogger(logger *logrus.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore 创建索引存储
func NewStore(location string, opts ...StoreOption) *Store {
	s := &Store{
		location: location,
		keep:     DefaultKeepGenerations,
		searcher: "flat",
		logger:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.keep < DefaultKeepGenerations {
		s.keep = DefaultKeepGenerations
	}
	return s
}

// Location 返回索引目录
func (s *Store) Location() string {
	return s.location
}

// Save 将索引写入新的构建代并切换CURRENT指针
func (s *Store) Save(ctx context.Context, idx *Index) (string, error) {
	if idx == nil || idx.Len() == 0 {
		return "", models.ErrEmptyCorpus
	}

	dir := filepath.Join(s.location, generationsDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", models.NewError(models.KindInternal, "failed to create index directory", err)
	}

	gen := newGenerationName()
	finalPath := filepath.Join(dir, gen+generationExt)
	tmpPath := finalPath + tmpExt
	log := s.logger.WithFields(logrus.Fields{"location": s.location, "generation": gen})

	if err := s.writeGeneration(ctx, tmpPath, gen, idx); err != nil {
		_ = os.Remove(tmpPath)
		return "", err
	}
	if err := syncFile(tmpPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", models.NewError(models.KindInternal, "failed to sync generation file", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", models.NewError(models.KindInternal, "failed to publish generation file", err)
	}
	if err := syncDir(dir); err != nil {
		log.WithError(err).Warn("Failed to sync generations directory")
	}

	if err := s.writeCurrent(gen); err != nil {
		return "", models.NewError(models.KindInternal, "failed to update CURRENT pointer", err)
	}

	idx.info.Generation = gen
	log.WithField("records", idx.Len()).Info("Index generation saved")

	if err := s.prune(gen); err != nil {
		log.WithError(err).Warn("Failed to prune old generations")
	}
	return gen, nil
}

// writeGeneration 在一个事务中写入清单与全部记录
func (s *Store) writeGeneration(ctx context.Context, path, gen string, idx *Index) error {
	_ = os.Remove(path)

	db, err := database.Open(database.DefaultConfig(path), s.logger)
	if err != nil {
		return models.NewError(models.KindInternal, "failed to create generation database", err)
	}
	defer database.Close(db)

	info := idx.Info()
	manifest := &models.IndexManifest{
		Generation:   gen,
		ModelID:      info.ModelID,
		Dimension:    info.Dimension,
		RecordCount:  idx.Len(),
		ChunkSize:    info.ChunkSize,
		ChunkOverlap: info.ChunkOverlap,
		Metadata: datatypes.NewJSONType(models.ManifestMeta{
			SourceIDs: info.SourceIDs,
			Documents: info.Documents,
		}),
	}

	rows := make([]models.IndexRecord, idx.Len())
	for i, rec := range idx.records {
		rows[i] = models.IndexRecord{
			RecordID:    rec.ID,
			SourceID:    rec.SourceID,
			Page:        rec.Page,
			ChunkIndex:  rec.ChunkIndex,
			StartOffset: rec.Start,
			EndOffset:   rec.End,
			Text:        rec.Text,
			Vector:      encodeVector(rec.Vector),
			ModelID:     info.ModelID,
		}
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(manifest).Error; err != nil {
			return fmt.Errorf("failed to write manifest: %w", err)
		}
		if err := tx.CreateInBatches(rows, insertBatchSize).Error; err != nil {
			return fmt.Errorf("failed to write records: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.NewError(models.KindInternal, "failed to write generation", err)
	}
	return nil
}

// Load 读取CURRENT指向的构建代
// 返回的索引固定在该构建代上，之后的保存不会影响它
func (s *Store) Load(ctx context.Context) (*Index, error) {
	gen, err := s.Current()
	if err != nil {
		return nil, err
	}

	path := filepath.Join(s.location, generationsDir, gen+generationExt)
	cfg := database.DefaultConfig(path)
	cfg.ReadOnly = true
	db, err := database.Open(cfg, s.logger)
	if err != nil {
		return nil, models.NewError(models.KindIndexNotFound, "generation "+gen+" is not readable", err)
	}
	defer database.Close(db)

	var manifest models.IndexManifest
	if err := db.WithContext(ctx).First(&manifest).Error; err != nil {
		return nil, models.NewError(models.KindIndexNotFound, "generation "+gen+" has no manifest", err)
	}
	if manifest.Generation != gen || manifest.Dimension < 1 {
		return nil, models.Errorf(models.KindIndexNotFound, "generation %s has an invalid manifest", gen)
	}

	var rows []models.IndexRecord
	if err := db.WithContext(ctx).Order("seq ASC").Find(&rows).Error; err != nil {
		return nil, models.NewError(models.KindIndexNotFound, "generation "+gen+" records are not readable", err)
	}
	if len(rows) == 0 || len(rows) != manifest.RecordCount {
		return nil, models.Errorf(models.KindIndexNotFound,
			"generation %s holds %d records, manifest expects %d", gen, len(rows), manifest.RecordCount)
	}

	records := make([]Record, len(rows))
	for i, row := range rows {
		vector, err := decodeVector(row.Vector)
		if err != nil || len(vector) != manifest.Dimension {
			return nil, models.Errorf(models.KindIndexNotFound, "generation %s record %s has a corrupt vector", gen, row.RecordID)
		}
		records[i] = Record{
			ID:         row.RecordID,
			SourceID:   row.SourceID,
			Page:       row.Page,
			ChunkIndex: row.ChunkIndex,
			Start:      row.StartOffset,
			End:        row.EndOffset,
			Text:       row.Text,
			Vector:     vector,
		}
	}

	meta := manifest.Metadata.Data()
	idx, err := NewIndex(manifest.ModelID, records,
		WithSearcher(s.searcher),
		WithInfo(Info{
			Generation:   gen,
			ChunkSize:    manifest.ChunkSize,
			ChunkOverlap: manifest.ChunkOverlap,
			SourceIDs:    meta.SourceIDs,
			Documents:    meta.Documents,
		}),
	)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"location":   s.location,
		"generation": gen,
		"records":    idx.Len(),
		"model":      idx.Model(),
	}).Debug("Index generation loaded")
	return idx, nil
}

// Exists 判断索引是否已构建
func (s *Store) Exists() bool {
	gen, err := s.Current()
	if err != nil {
		return false
	}
	_, err = os.Stat(filepath.Join(s.location, generationsDir, gen+generationExt))
	return err == nil
}

// Current 返回CURRENT指向的构建代名称
func (s *Store) Current() (string, error) {
	data, err := os.ReadFile(filepath.Join(s.location, currentFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", models.Errorf(models.KindIndexNotFound, "no index has been built at %s", s.location)
		}
		return "", models.NewError(models.KindIndexNotFound, "index pointer is not readable", err)
	}

	gen := strings.TrimSpace(string(data))
	if !generationPattern.MatchString(gen) {
		return "", models.Errorf(models.KindIndexNotFound, "index pointer at %s is corrupt", s.location)
	}
	return gen, nil
}

// Generations 按从旧到新的顺序列出已发布的构建代
func (s *Store) Generations() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.location, generationsDir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var gens []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, generationExt) {
			continue
		}
		gen := strings.TrimSuffix(name, generationExt)
		if generationPattern.MatchString(gen) {
			gens = append(gens, gen)
		}
	}
	sort.Strings(gens)
	return gens, nil
}

// writeCurrent 原子替换CURRENT指针
func (s *Store) writeCurrent(gen string) error {
	path := filepath.Join(s.location, currentFile)
	tmp := path + tmpExt

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(gen + "\n"); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	return syncDir(s.location)
}

// prune 删除超出保留数量的旧构建代
func (s *Store) prune(current string) error {
	gens, err := s.Generations()
	if err != nil {
		return err
	}
	if len(gens) <= s.keep {
		return nil
	}

	var errs []error
	for _, gen := range gens[:len(gens)-s.keep] {
		if gen == current {
			continue
		}
		path := filepath.Join(s.location, generationsDir, gen+generationExt)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		s.logger.WithField("generation", gen).Debug("Pruned index generation")
	}
	return errors.Join(errs...)
}

// newGenerationName 生成按时间排序的构建代名称
func newGenerationName() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return time.Now().UTC().Format("20060102T150405.000000000Z") + "-" + suffix
}

// encodeVector 将向量编码为小端float32字节序列
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// decodeVector 解码小端float32字节序列
func decodeVector(buf []byte) ([]float32, error) {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil, fmt.Errorf("invalid vector blob length %d", len(buf))
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v, nil
}

// syncFile 将文件内容刷到磁盘
func syncFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

// syncDir 将目录项刷到磁盘
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
