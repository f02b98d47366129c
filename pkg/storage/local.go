package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// LocalStorage 本地文件存储实现
type LocalStorage struct {
	basePath string // 基础存储路径
}

// LocalConfig 本地存储配置
type LocalConfig struct {
	Path string // 本地存储路径
}

// NewLocalStorage 创建本地存储实例
func NewLocalStorage(cfg LocalConfig) (*LocalStorage, error) {
	absPath, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	if err := os.MkdirAll(absPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &LocalStorage{basePath: absPath}, nil
}

// Save 保存文件到本地存储
func (s *LocalStorage) Save(reader io.Reader, filename string) (FileInfo, error) {
	id := uuid.New().String()
	name := sanitizeFilename(filename)
	relPath := objectKey(id, name)
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(relPath))

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return FileInfo{}, fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return FileInfo{}, fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	size, err := io.Copy(file, reader)
	if err != nil {
		_ = os.RemoveAll(filepath.Dir(fullPath))
		return FileInfo{}, fmt.Errorf("failed to write file: %w", err)
	}

	return FileInfo{
		ID:       id,
		Name:     name,
		Size:     size,
		MimeType: getMimeType(name),
		Path:     relPath,
	}, nil
}

// Get 获取文件内容
func (s *LocalStorage) Get(id string) (io.ReadCloser, FileInfo, error) {
	info, err := s.stat(id)
	if err != nil {
		return nil, FileInfo{}, err
	}

	file, err := os.Open(filepath.Join(s.basePath, filepath.FromSlash(info.Path)))
	if err != nil {
		return nil, FileInfo{}, fmt.Errorf("failed to open file: %w", err)
	}
	return file, info, nil
}

// Delete 删除文件
func (s *LocalStorage) Delete(id string) error {
	if _, err := s.stat(id); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(s.basePath, id)); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// List 列出所有文件
func (s *LocalStorage) List() ([]FileInfo, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	var files []FileInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := s.stat(e.Name())
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		files = append(files, info)
	}
	return files, nil
}

// Exists 检查文件是否存在
func (s *LocalStorage) Exists(id string) (bool, error) {
	_, err := s.stat(id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// stat 读取ID目录下唯一的文件
func (s *LocalStorage) stat(id string) (FileInfo, error) {
	if _, err := uuid.Parse(id); err != nil {
		return FileInfo{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	entries, err := os.ReadDir(filepath.Join(s.basePath, id))
	if err != nil {
		if os.IsNotExist(err) {
			return FileInfo{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return FileInfo{}, fmt.Errorf("failed to read file directory: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			return FileInfo{}, fmt.Errorf("failed to stat file: %w", err)
		}
		return FileInfo{
			ID:       id,
			Name:     e.Name(),
			Size:     fi.Size(),
			MimeType: getMimeType(e.Name()),
			Path:     objectKey(id, e.Name()),
		}, nil
	}
	return FileInfo{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}
