package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// FileLogger mirrors entries to a JSON lines file, one record per line
type FileLogger struct {
	basePath string
	file     *os.File
	mu       sync.Mutex
	encoder  *json.Encoder
	maxSize  int64
	maxFiles int
	now      func() time.Time
}

// FileLoggerConfig configures the file logger
type FileLoggerConfig struct {
	BasePath string `yaml:"base_path"`
	MaxSize  int64  `yaml:"max_size"`  // bytes before rotation (default 100MB)
	MaxFiles int    `yaml:"max_files"` // rotated files to keep (default 10)
}

// fileRecord tags each line with its kind
type fileRecord struct {
	Kind     string         `json:"kind"`
	Activity *ActivityLog   `json:"activity,omitempty"`
	Admin    *AdminAuditLog `json:"admin,omitempty"`
}

// NewFileLogger creates a new file-based audit logger
func NewFileLogger(config FileLoggerConfig) (*FileLogger, error) {
	if err := os.MkdirAll(config.BasePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	logger := &FileLogger{
		basePath: config.BasePath,
		maxSize:  config.MaxSize,
		maxFiles: config.MaxFiles,
		now:      time.Now,
	}
	if logger.maxSize <= 0 {
		logger.maxSize = 100 * 1024 * 1024
	}
	if logger.maxFiles <= 0 {
		logger.maxFiles = 10
	}

	if err := logger.openLogFile(); err != nil {
		return nil, err
	}
	return logger, nil
}

func (l *FileLogger) currentPath() string {
	return filepath.Join(l.basePath, "audit.log")
}

func (l *FileLogger) openLogFile() error {
	file, err := os.OpenFile(l.currentPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}
	l.file = file
	l.encoder = json.NewEncoder(file)
	return nil
}

func (l *FileLogger) rotate() error {
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close audit log file: %w", err)
	}

	rotated := filepath.Join(l.basePath, fmt.Sprintf("audit-%s.log", l.now().UTC().Format("20060102-150405.000000000")))
	if err := os.Rename(l.currentPath(), rotated); err != nil {
		return fmt.Errorf("failed to rename log file: %w", err)
	}

	files, err := filepath.Glob(filepath.Join(l.basePath, "audit-*.log"))
	if err == nil && len(files) > l.maxFiles {
		// Timestamped names sort oldest first
		sort.Strings(files)
		for _, f := range files[:len(files)-l.maxFiles] {
			_ = os.Remove(f)
		}
	}

	return l.openLogFile()
}

func (l *FileLogger) write(rec fileRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if info, err := l.file.Stat(); err == nil && info.Size() >= l.maxSize {
		if err := l.rotate(); err != nil {
			return err
		}
	}

	if err := l.encoder.Encode(rec); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// LogActivity appends an activity record
func (l *FileLogger) LogActivity(ctx context.Context, entry *ActivityLog) error {
	fillRequestInfo(ctx, entry)
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.now().UTC()
	}
	return l.write(fileRecord{Kind: "activity", Activity: entry})
}

// LogAdminAction appends an admin audit record
func (l *FileLogger) LogAdminAction(ctx context.Context, entry *AdminAuditLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.now().UTC()
	}
	return l.write(fileRecord{Kind: "admin", Admin: entry})
}

// Close closes the current file
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
