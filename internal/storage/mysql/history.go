package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	xerrors "CronCat-Agent/internal/errors"
)

// 执行结果状态
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// ExecutionRecord 是一次付费提交的落库结构。
type ExecutionRecord struct {
	ID          int64  `json:"id"`
	EventID     string `json:"event_id"`
	RunID       string `json:"run_id"`
	Kind        string `json:"kind"`
	AgentID     string `json:"agent_id"`
	Slot        uint64 `json:"slot"`
	TriggerHash string `json:"trigger_hash,omitempty"`
	TxHash      string `json:"tx_hash,omitempty"`
	Status      string `json:"status"`
	FailureKind string `json:"failure_kind,omitempty"`
	Error       string `json:"error,omitempty"`
	GasUsed     uint64 `json:"gas_used"`
	CreatedAt   int64  `json:"created_at"`
}

// HistoryRepository 抽象执行历史的持久化。
type HistoryRepository interface {
	Save(ctx context.Context, record *ExecutionRecord) error
	ListLatest(ctx context.Context, limit int) ([]ExecutionRecord, error)
	Close() error
}

// Open 根据 Driver 选择实现，默认使用本地文件。
func Open(ctx context.Context, cfg Config) (HistoryRepository, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "file", "memory":
		repo, err := NewFileHistory(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		return repo, nil
	case "mysql":
		repo, err := NewSQLHistory(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return repo, nil
	default:
		return nil, xerrors.New(xerrors.CodeConfig, fmt.Sprintf("不支持的历史存储驱动 %q", cfg.Driver))
	}
}

const fileHistoryWindow = 512

// FileHistory 以 JSON lines 追加写入本地文件，并在内存保留最近的记录。
type FileHistory struct {
	mu       sync.RWMutex
	dataFile string
	records  []ExecutionRecord
	nextID   int64
}

// NewFileHistory 创建或恢复一个文件历史库。
func NewFileHistory(dataDir string) (*FileHistory, error) {
	if dataDir == "" {
		dataDir = "data"
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建数据目录失败")
	}
	repo := &FileHistory{dataFile: filepath.Join(dataDir, "executions.log"), nextID: 1}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Save 追加一条记录并分配 ID。EventID 已存在时不重复写入。
func (f *FileHistory) Save(_ context.Context, record *ExecutionRecord) error {
	if record == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "记录不能为空")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if record.EventID != "" {
		for _, existing := range f.records {
			if existing.EventID == record.EventID {
				record.ID = existing.ID
				return nil
			}
		}
	}
	record.ID = f.nextID

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化执行记录失败: %w", err)
	}
	file, err := os.OpenFile(f.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开执行日志失败")
	}
	defer file.Close()
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入执行日志失败")
	}

	f.nextID++
	f.records = append([]ExecutionRecord{*record}, f.records...)
	if len(f.records) > fileHistoryWindow {
		f.records = f.records[:fileHistoryWindow]
	}
	return nil
}

// ListLatest 返回最近的记录，最新的在前。
func (f *FileHistory) ListLatest(_ context.Context, limit int) ([]ExecutionRecord, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if limit <= 0 || limit > len(f.records) {
		limit = len(f.records)
	}
	out := make([]ExecutionRecord, limit)
	copy(out, f.records[:limit])
	return out, nil
}

// Close 无需释放资源。
func (f *FileHistory) Close() error { return nil }

func (f *FileHistory) loadFromDisk() error {
	file, err := os.OpenFile(f.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取执行日志失败")
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var restored []ExecutionRecord
	for scanner.Scan() {
		var record ExecutionRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		if record.ID >= f.nextID {
			f.nextID = record.ID + 1
		}
		restored = append([]ExecutionRecord{record}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析执行日志失败")
	}
	if len(restored) > fileHistoryWindow {
		restored = restored[:fileHistoryWindow]
	}
	f.records = restored
	return nil
}

// SQLHistory 使用 MySQL 保存执行历史。
type SQLHistory struct {
	db *sql.DB
}

// NewSQLHistory 建立连接池并执行迁移。
func NewSQLHistory(ctx context.Context, cfg Config) (*SQLHistory, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLHistory{db: db}, nil
}

const insertExecutionSQL = `INSERT INTO executions
    (event_id, run_id, kind, agent_id, slot, trigger_hash, tx_hash, status, failure_kind, error_message, gas_used, created_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Save 写入一条记录。重复的 EventID 视为已写入。
func (s *SQLHistory) Save(ctx context.Context, record *ExecutionRecord) error {
	if record == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "记录不能为空")
	}
	result, err := s.db.ExecContext(ctx, insertExecutionSQL,
		record.EventID,
		record.RunID,
		record.Kind,
		record.AgentID,
		record.Slot,
		record.TriggerHash,
		record.TxHash,
		record.Status,
		record.FailureKind,
		record.Error,
		record.GasUsed,
		record.CreatedAt,
	)
	if err != nil {
		if isDuplicateEntry(err) {
			return nil
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入执行记录失败")
	}
	if id, err := result.LastInsertId(); err == nil {
		record.ID = id
	}
	return nil
}

const selectLatestExecutionsSQL = `SELECT id, event_id, run_id, kind, agent_id, slot, trigger_hash, tx_hash, status, failure_kind, COALESCE(error_message, ''), gas_used, created_at
    FROM executions ORDER BY id DESC LIMIT ?`

// ListLatest 查询最近的记录。
func (s *SQLHistory) ListLatest(ctx context.Context, limit int) ([]ExecutionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, selectLatestExecutionsSQL, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询执行记录失败")
	}
	defer rows.Close()

	var records []ExecutionRecord
	for rows.Next() {
		var r ExecutionRecord
		if err := rows.Scan(&r.ID, &r.EventID, &r.RunID, &r.Kind, &r.AgentID, &r.Slot, &r.TriggerHash,
			&r.TxHash, &r.Status, &r.FailureKind, &r.Error, &r.GasUsed, &r.CreatedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析执行记录失败")
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历执行记录失败")
	}
	return records, nil
}

// Close 关闭底层数据库连接。
func (s *SQLHistory) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
