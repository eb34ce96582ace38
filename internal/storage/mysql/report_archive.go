package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// ErrReportNotFound 表示查询的报告不存在。
var ErrReportNotFound = errors.New("报告不存在")

// ReportRecord 表示一次调研运行产出的最终报告落库结构。
type ReportRecord struct {
	ID          int64
	RunID       string
	Objective   string
	CompanyName string
	Report      string
	TaskCount   int
	CreatedAt   int64
	UpdatedAt   int64
}

// ReportArchive 抽象报告数据的持久化接口。
type ReportArchive interface {
	Create(ctx context.Context, record *ReportRecord) error
	GetByID(ctx context.Context, id int64) (*ReportRecord, error)
	GetByRunID(ctx context.Context, runID string) (*ReportRecord, error)
	Update(ctx context.Context, record ReportRecord) error
	Delete(ctx context.Context, id int64) error
	ListLatest(ctx context.Context, limit int) ([]ReportRecord, error)
	WithTransaction(ctx context.Context, fn func(ctx context.Context, archive ReportArchive) error) error
}

// MemoryReportArchive 使用本地 JSON 文件模拟 MySQL 的效果，方便迭代开发。
type MemoryReportArchive struct {
	mu       sync.RWMutex
	dataFile string
	records  []ReportRecord
	nextID   int64
}

// NewMemoryReportArchive 创建一个文件持久化的内存报告档案。
func NewMemoryReportArchive(dataDir string) (*MemoryReportArchive, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	path := filepath.Join(dataDir, "reports.log")
	archive := &MemoryReportArchive{dataFile: path, nextID: 1}
	if err := archive.loadFromDisk(); err != nil {
		return nil, err
	}
	return archive, nil
}

// Create 记录报告并分配自增 ID。
func (m *MemoryReportArchive) Create(_ context.Context, record *ReportRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record.ID = m.nextID
	m.nextID++
	m.records = append(m.records, *record)
	return m.persistLocked()
}

// GetByID 按 ID 查询报告。
func (m *MemoryReportArchive) GetByID(_ context.Context, id int64) (*ReportRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, record := range m.records {
		if record.ID == id {
			cloned := record
			return &cloned, nil
		}
	}
	return nil, ErrReportNotFound
}

// GetByRunID 按运行 ID 查询报告。
func (m *MemoryReportArchive) GetByRunID(_ context.Context, runID string) (*ReportRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, record := range m.records {
		if record.RunID == runID {
			cloned := record
			return &cloned, nil
		}
	}
	return nil, ErrReportNotFound
}

// Update 覆盖已有报告记录。
func (m *MemoryReportArchive) Update(_ context.Context, record ReportRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.records {
		if m.records[i].ID == record.ID {
			m.records[i] = record
			return m.persistLocked()
		}
	}
	return ErrReportNotFound
}

// Delete 删除指定报告。
func (m *MemoryReportArchive) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.records {
		if m.records[i].ID == id {
			m.records = append(m.records[:i], m.records[i+1:]...)
			return m.persistLocked()
		}
	}
	return ErrReportNotFound
}

// ListLatest 返回最近的报告，按创建时间倒序排列。
func (m *MemoryReportArchive) ListLatest(_ context.Context, limit int) ([]ReportRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sorted := make([]ReportRecord, len(m.records))
	copy(sorted, m.records)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].CreatedAt == sorted[j].CreatedAt {
			return sorted[i].ID > sorted[j].ID
		}
		return sorted[i].CreatedAt > sorted[j].CreatedAt
	})

	if limit <= 0 || limit > len(sorted) {
		limit = len(sorted)
	}
	return sorted[:limit], nil
}

// WithTransaction 在内存实现里直接顺序执行，失败不回滚。
func (m *MemoryReportArchive) WithTransaction(ctx context.Context, fn func(ctx context.Context, archive ReportArchive) error) error {
	return fn(ctx, m)
}

func (m *MemoryReportArchive) persistLocked() error {
	tmp := m.dataFile + ".tmp"
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("打开报告日志失败: %w", err)
	}

	for _, record := range m.records {
		encoded, err := json.Marshal(record)
		if err != nil {
			file.Close()
			return fmt.Errorf("序列化报告记录失败: %w", err)
		}
		if _, err := file.Write(append(encoded, '\n')); err != nil {
			file.Close()
			return fmt.Errorf("写入报告日志失败: %w", err)
		}
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("关闭报告日志失败: %w", err)
	}
	if err := os.Rename(tmp, m.dataFile); err != nil {
		return fmt.Errorf("替换报告日志失败: %w", err)
	}
	return nil
}

func (m *MemoryReportArchive) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取报告日志失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var restored []ReportRecord
	for scanner.Scan() {
		var record ReportRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		restored = append(restored, record)
		if record.ID >= m.nextID {
			m.nextID = record.ID + 1
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析报告日志失败: %w", err)
	}

	if len(restored) > 0 {
		m.records = restored
	}
	return nil
}

// SQLReportArchive 使用真实的 MySQL 数据库存储最终报告。
type SQLReportArchive struct {
	db  *sql.DB
	ops archiveOps
}

// NewSQLReportArchive 创建连接池并应用迁移。
func NewSQLReportArchive(ctx context.Context, cfg Config) (*SQLReportArchive, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLReportArchive{db: db, ops: archiveOps{q: db}}, nil
}

// Close 关闭底层数据库连接。
func (s *SQLReportArchive) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLReportArchive) Create(ctx context.Context, record *ReportRecord) error {
	return s.ops.create(ctx, record)
}

func (s *SQLReportArchive) GetByID(ctx context.Context, id int64) (*ReportRecord, error) {
	return s.ops.getByID(ctx, id)
}

func (s *SQLReportArchive) GetByRunID(ctx context.Context, runID string) (*ReportRecord, error) {
	return s.ops.getByRunID(ctx, runID)
}

func (s *SQLReportArchive) Update(ctx context.Context, record ReportRecord) error {
	return s.ops.update(ctx, record)
}

func (s *SQLReportArchive) Delete(ctx context.Context, id int64) error {
	return s.ops.delete(ctx, id)
}

func (s *SQLReportArchive) ListLatest(ctx context.Context, limit int) ([]ReportRecord, error) {
	return s.ops.listLatest(ctx, limit)
}

// WithTransaction 在单个事务内执行回调，回调返回错误时回滚。
func (s *SQLReportArchive) WithTransaction(ctx context.Context, fn func(ctx context.Context, archive ReportArchive) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}

	txArchive := &txReportArchive{ops: archiveOps{q: tx}}
	if err := fn(ctx, txArchive); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	return nil
}

// txReportArchive 把事务适配为 ReportArchive，不支持嵌套事务。
type txReportArchive struct {
	ops archiveOps
}

func (t *txReportArchive) Create(ctx context.Context, record *ReportRecord) error {
	return t.ops.create(ctx, record)
}

func (t *txReportArchive) GetByID(ctx context.Context, id int64) (*ReportRecord, error) {
	return t.ops.getByID(ctx, id)
}

func (t *txReportArchive) GetByRunID(ctx context.Context, runID string) (*ReportRecord, error) {
	return t.ops.getByRunID(ctx, runID)
}

func (t *txReportArchive) Update(ctx context.Context, record ReportRecord) error {
	return t.ops.update(ctx, record)
}

func (t *txReportArchive) Delete(ctx context.Context, id int64) error {
	return t.ops.delete(ctx, id)
}

func (t *txReportArchive) ListLatest(ctx context.Context, limit int) ([]ReportRecord, error) {
	return t.ops.listLatest(ctx, limit)
}

func (t *txReportArchive) WithTransaction(ctx context.Context, fn func(ctx context.Context, archive ReportArchive) error) error {
	return fn(ctx, t)
}

// queryer 覆盖 *sql.DB 与 *sql.Tx 共有的查询能力。
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type archiveOps struct {
	q queryer
}

const reportColumns = `id, run_id, objective, company_name, report, task_count, created_at, updated_at`

func (o archiveOps) create(ctx context.Context, record *ReportRecord) error {
	const stmt = `INSERT INTO reports
    (run_id, objective, company_name, report, task_count, created_at, updated_at)
    VALUES (?, ?, ?, ?, ?, ?, ?)`

	if record.CreatedAt == 0 {
		record.CreatedAt = time.Now().Unix()
	}
	if record.UpdatedAt == 0 {
		record.UpdatedAt = record.CreatedAt
	}

	res, err := o.q.ExecContext(ctx, stmt,
		record.RunID,
		record.Objective,
		record.CompanyName,
		record.Report,
		record.TaskCount,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("写入报告失败: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("获取报告ID失败: %w", err)
	}
	record.ID = id
	return nil
}

func (o archiveOps) getByID(ctx context.Context, id int64) (*ReportRecord, error) {
	row := o.q.QueryRowContext(ctx, `SELECT `+reportColumns+`
    FROM reports WHERE id = ?`, id)
	return scanReport(row)
}

func (o archiveOps) getByRunID(ctx context.Context, runID string) (*ReportRecord, error) {
	row := o.q.QueryRowContext(ctx, `SELECT `+reportColumns+`
    FROM reports WHERE run_id = ?`, runID)
	return scanReport(row)
}

func (o archiveOps) update(ctx context.Context, record ReportRecord) error {
	const stmt = `UPDATE reports SET run_id = ?, objective = ?, company_name = ?, report = ?, task_count = ?, created_at = ?, updated_at = ?
    WHERE id = ?`

	res, err := o.q.ExecContext(ctx, stmt,
		record.RunID,
		record.Objective,
		record.CompanyName,
		record.Report,
		record.TaskCount,
		record.CreatedAt,
		record.UpdatedAt,
		record.ID,
	)
	if err != nil {
		return fmt.Errorf("更新报告失败: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("获取更新行数失败: %w", err)
	}
	if affected == 0 {
		return ErrReportNotFound
	}
	return nil
}

func (o archiveOps) delete(ctx context.Context, id int64) error {
	res, err := o.q.ExecContext(ctx, `DELETE FROM reports WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("删除报告失败: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("获取删除行数失败: %w", err)
	}
	if affected == 0 {
		return ErrReportNotFound
	}
	return nil
}

func (o archiveOps) listLatest(ctx context.Context, limit int) ([]ReportRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := o.q.QueryContext(ctx, `SELECT `+reportColumns+`
    FROM reports ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("查询报告失败: %w", err)
	}
	defer rows.Close()

	var records []ReportRecord
	for rows.Next() {
		var record ReportRecord
		if err := rows.Scan(&record.ID, &record.RunID, &record.Objective, &record.CompanyName, &record.Report, &record.TaskCount, &record.CreatedAt, &record.UpdatedAt); err != nil {
			return nil, fmt.Errorf("解析报告记录失败: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历报告记录失败: %w", err)
	}
	return records, nil
}

func scanReport(row *sql.Row) (*ReportRecord, error) {
	var record ReportRecord
	if err := row.Scan(&record.ID, &record.RunID, &record.Objective, &record.CompanyName, &record.Report, &record.TaskCount, &record.CreatedAt, &record.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReportNotFound
		}
		return nil, fmt.Errorf("解析报告记录失败: %w", err)
	}
	return &record, nil
}

var (
	_ ReportArchive = (*MemoryReportArchive)(nil)
	_ ReportArchive = (*SQLReportArchive)(nil)
	_ ReportArchive = (*txReportArchive)(nil)
)
