package metrics

import (
	"fmt"
	"io/ioutil"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Logger interface {
	Log(info *MetricsInfo)
}

// ZapLogger writes metrics as a structured log entry.
type ZapLogger struct {
	logger *zap.Logger
}

func NewZapLogger(logger *zap.Logger) *ZapLogger {
	return &ZapLogger{logger: logger}
}

func (l *ZapLogger) Log(info *MetricsInfo) {
	infoStr, err := info.ToJSON()
	if err != nil {
		l.logger.Error("metrics encoding failed", zap.Error(err))
		return
	}
	l.logger.Info("run metrics", zap.String("run_id", info.RunID), zap.String("metrics", strings.TrimSpace(infoStr)))
}

const defaultQueueSize = 2000
const defaultLogWriters = 2
const defaultMaxLogFileSize = 1024 * 1024 * 1024
const defaultMaxLogFiles = 10

// FileLogger appends metrics as JSON lines to rotated files in LogDir.
type FileLogger struct {
	MetricsQueue   chan *MetricsInfo
	LogDir         string
	MaxLogFileSize int64
	MaxLogFiles    int

	logger *zap.Logger
	wg     sync.WaitGroup
}

func NewFileLogger(logDir string, maxLogFileSize int64, maxLogFiles int, logger *zap.Logger) (*FileLogger, error) {
	if maxLogFileSize <= 0 {
		maxLogFileSize = defaultMaxLogFileSize
	}
	if maxLogFiles <= 0 {
		maxLogFiles = defaultMaxLogFiles
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("FileLogger: %v", err)
	}
	l := &FileLogger{
		MetricsQueue:   make(chan *MetricsInfo, defaultQueueSize),
		LogDir:         logDir,
		MaxLogFileSize: maxLogFileSize,
		MaxLogFiles:    maxLogFiles,
		logger:         logger,
	}

	for i := 0; i < defaultLogWriters; i++ {
		f, err := l.openLogFile(i)
		if err != nil {
			close(l.MetricsQueue)
			l.wg.Wait()
			return nil, fmt.Errorf("FileLogger%d: log open error: %v", i, err)
		}
		l.wg.Add(1)
		go l.startLogWriter(f, i)
	}

	return l, nil
}

func (l *FileLogger) Log(info *MetricsInfo) {
	l.MetricsQueue <- info
}

// Close flushes the queue and stops the writers.
func (l *FileLogger) Close() {
	close(l.MetricsQueue)
	l.wg.Wait()
}

func (l *FileLogger) startLogWriter(f *os.File, idx int) {
	defer l.wg.Done()
	defer func() { f.Close() }()

	for info := range l.MetricsQueue {
		infoStr, err := info.ToJSON()
		if err != nil {
			l.logger.Error("metrics encoding failed", zap.Int("writer", idx), zap.Error(err))
			continue
		}

		f, err = l.tryRotateLogFile(f, idx)
		if err != nil {
			continue
		}

		if _, err := f.WriteString(infoStr); err != nil {
			l.logger.Error("metrics write failed", zap.Int("writer", idx), zap.Error(err))
			continue
		}
		f.Sync()
	}
}

func (l *FileLogger) openLogFile(idx int) (*os.File, error) {
	logFilePath := path.Join(l.LogDir, fmt.Sprintf("log%d", idx))
	return os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}

func (l *FileLogger) tryRotateLogFile(currFile *os.File, idx int) (*os.File, error) {
	info, err := currFile.Stat()
	if err != nil {
		l.logger.Warn("log rotation failed", zap.Int("writer", idx), zap.Error(err))
		return currFile, nil
	}

	if info.Size() < l.MaxLogFileSize {
		return currFile, nil
	}

	currLogFilePath := path.Join(l.LogDir, fmt.Sprintf("log%d", idx))
	var rotatedLogFilePath string
	for i := 0; i < l.MaxLogFiles; i++ {
		filePath := path.Join(l.LogDir, fmt.Sprintf("log%d.%d", idx, i))
		if _, err := os.Stat(filePath); os.IsNotExist(err) {
			rotatedLogFilePath = filePath
			break
		}
	}

	if len(rotatedLogFilePath) == 0 {
		files, err := ioutil.ReadDir(l.LogDir)
		if err != nil {
			l.logger.Warn("log rotation failed", zap.Int("writer", idx), zap.Error(err))
			return currFile, nil
		}

		var oldestFile os.FileInfo
		oldestTime := time.Now()
		for _, file := range files {
			if !file.Mode().IsRegular() {
				continue
			}

			fileName := filepath.Base(file.Name())
			fn := strings.TrimSuffix(fileName, path.Ext(fileName))

			if fn != fmt.Sprintf("log%d", idx) || fileName == fn {
				continue
			}

			if file.ModTime().Before(oldestTime) {
				oldestFile = file
				oldestTime = file.ModTime()
			}
		}

		if oldestFile != nil {
			rotatedLogFilePath = path.Join(l.LogDir, oldestFile.Name())
		} else {
			rotatedLogFilePath = path.Join(l.LogDir, fmt.Sprintf("log%d.%d", idx, 0))
		}

		l.logger.Debug("maximum number of log files reached", zap.Int("writer", idx), zap.String("overwriting", rotatedLogFilePath))
		err = os.Remove(rotatedLogFilePath)
		if err != nil {
			l.logger.Warn("log rotation failed", zap.Int("writer", idx), zap.Error(err))
			return currFile, nil
		}
	}

	currFile.Close()
	err = os.Rename(currLogFilePath, rotatedLogFilePath)
	if err != nil {
		l.logger.Warn("log rotation failed", zap.Int("writer", idx), zap.Error(err))
	} else {
		l.logger.Debug("log file rotated", zap.Int("writer", idx), zap.String("path", rotatedLogFilePath))
	}

	f, err := l.openLogFile(idx)
	if err != nil {
		l.logger.Error("log reopen failed", zap.Int("writer", idx), zap.Error(err))
		return currFile, err
	}
	return f, nil
}
