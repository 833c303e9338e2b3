package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// archiveStamp 是归档文件名里的时间戳格式，毫秒精度避免同秒翻转冲突。
const archiveStamp = "20060102T150405.000"

// auditFile 是审计流的落盘目标。写入超过 limit 字节时，当前文件被
// 改名为 <path>.<时间戳> 归档，随后按份数与存留期清理旧归档。
// 审计记录是追责依据，翻转失败时写入报错而不是静默丢弃。
type auditFile struct {
	mu      sync.Mutex
	path    string
	limit   int64
	keep    int
	retain  time.Duration
	out     *os.File
	written int64
}

func openAuditFile(path string, maxSizeMB, maxBackups, maxAgeDays int) (*auditFile, error) {
	if path == "" {
		return nil, errors.New("audit file path is required")
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 100
	}
	if maxBackups <= 0 {
		maxBackups = 7
	}
	if maxAgeDays <= 0 {
		maxAgeDays = 30
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}
	f := &auditFile{
		path:   path,
		limit:  int64(maxSizeMB) * 1024 * 1024,
		keep:   maxBackups,
		retain: time.Duration(maxAgeDays) * 24 * time.Hour,
	}
	if err := f.open(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *auditFile) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.out == nil {
		if err := f.open(); err != nil {
			return 0, err
		}
	}
	if f.written+int64(len(p)) > f.limit {
		if err := f.roll(); err != nil {
			return 0, err
		}
	}
	n, err := f.out.Write(p)
	f.written += int64(n)
	return n, err
}

func (f *auditFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.out == nil {
		return nil
	}
	err := f.out.Close()
	f.out = nil
	f.written = 0
	return err
}

func (f *auditFile) open() error {
	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat audit log: %w", err)
	}
	f.out = file
	f.written = info.Size()
	return nil
}

// roll 把当前文件归档并重新打开一个空文件。
func (f *auditFile) roll() error {
	if f.out != nil {
		_ = f.out.Close()
		f.out = nil
		f.written = 0
	}
	archive := fmt.Sprintf("%s.%s", f.path, time.Now().Format(archiveStamp))
	if err := os.Rename(f.path, archive); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("archive audit log: %w", err)
	}
	f.prune()
	return f.open()
}

// prune 删除超出保留份数或超过存留期的归档。归档名含可排序时间戳，
// 字典序即时间序。
func (f *auditFile) prune() {
	archives, err := filepath.Glob(f.path + ".*")
	if err != nil {
		return
	}
	sort.Sort(sort.Reverse(sort.StringSlice(archives)))

	cutoff := time.Now().Add(-f.retain)
	for i, archive := range archives {
		if i >= f.keep {
			_ = os.Remove(archive)
			continue
		}
		if info, err := os.Stat(archive); err == nil && info.ModTime().Before(cutoff) {
			_ = os.Remove(archive)
		}
	}
}
