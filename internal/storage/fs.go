package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// NewOsFS 以 root 为根目录构建磁盘文件系统，目录不存在时自动创建。
func NewOsFS(root string) (afero.Fs, error) {
	if root == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}
	return afero.NewBasePathFs(afero.NewOsFs(), abs), nil
}

// NewMemFS 返回纯内存文件系统，测试与临时缓存使用。
func NewMemFS() afero.Fs {
	return afero.NewMemMapFs()
}

// Exists 报告 name 是否存在且为普通文件。
func Exists(fsys afero.Fs, name string) (bool, error) {
	info, err := fsys.Stat(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return !info.IsDir(), nil
}

// WriteFileAtomic 通过临时文件 + rename 写入 name，write 失败时清理临时文件，
// 保证读者只会看到完整的旧文件或完整的新文件。
func WriteFileAtomic(fsys afero.Fs, name string, write func(io.Writer) error) error {
	dir := filepath.Dir(name)
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tempFile, err := afero.TempFile(fsys, dir, ".snapshot-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	err = write(tempFile)
	if err == nil {
		err = tempFile.Sync()
	}
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		fsys.Remove(tempName)
		return err
	}

	if err := fsys.Rename(tempName, name); err != nil {
		fsys.Remove(tempName)
		return err
	}
	return nil
}

// RemoveIfExists 删除文件，不存在时不视为错误。
func RemoveIfExists(fsys afero.Fs, name string) error {
	if err := fsys.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
