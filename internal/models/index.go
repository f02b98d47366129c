package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// IndexManifest 索引构建代的清单
// 每个构建代的数据库文件中只有一行
type IndexManifest struct {
	ID           uint                             `gorm:"primaryKey;autoIncrement"` // 主键ID
	Generation   string                           `gorm:"not null;uniqueIndex"`     // 构建代标识
	ModelID      string                           `gorm:"not null"`                 // 嵌入模型标识
	Dimension    int                              `gorm:"not null"`                 // 向量维度
	RecordCount  int                              `gorm:"not null"`                 // 记录数量
	ChunkSize    int                              `gorm:"not null"`                 // 构建时的分块大小
	ChunkOverlap int                              `gorm:"not null"`                 // 构建时的分块重叠
	CreatedAt    time.Time                        `gorm:"not null"`                 // 创建时间
	Metadata     datatypes.JSONType[ManifestMeta] `gorm:"type:json"`                // 来源文档及其元数据
}

// ManifestMeta 清单中以JSON保存的来源信息
type ManifestMeta struct {
	SourceIDs []string                     `json:"source_ids"`          // 来源文档，按首次出现顺序
	Documents map[string]map[string]string `json:"documents,omitempty"` // 来源文档的解析元数据，如页数
}

// BeforeCreate GORM的钩子函数，创建记录前自动设置时间
func (m *IndexManifest) BeforeCreate(tx *gorm.DB) (err error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	return nil
}

// TableName 明确指定表名
func (IndexManifest) TableName() string {
	return "index_manifest"
}

// IndexRecord 向量记录数据模型
// Seq 保存插入顺序，检索时用于打破相似度平局
type IndexRecord struct {
	Seq         uint   `gorm:"primaryKey;autoIncrement"` // 插入顺序
	RecordID    string `gorm:"not null;uniqueIndex"`     // 记录唯一ID
	SourceID    string `gorm:"not null;index"`           // 来源文档标识
	Page        int    `gorm:"not null"`                 // 页码（从0开始）
	ChunkIndex  int    `gorm:"not null"`                 // 文档内分块序号
	StartOffset int    `gorm:"not null"`                 // 页内起始字符位置
	EndOffset   int    `gorm:"not null"`                 // 页内结束字符位置
	Text        string `gorm:"type:text;not null"`       // 分块原文
	Vector      []byte `gorm:"type:blob;not null"`       // 小端float32编码的向量
	ModelID     string `gorm:"not null"`                 // 嵌入模型标识
}

// TableName 明确指定表名
func (IndexRecord) TableName() string {
	return "index_records"
}
