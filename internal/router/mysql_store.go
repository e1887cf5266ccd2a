package router

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"IntentLayer-Lite/internal/compiler"
	xerrors "IntentLayer-Lite/internal/errors"
	"IntentLayer-Lite/internal/intent"
	storemysql "IntentLayer-Lite/internal/storage/mysql"
)

const recordColumns = `id, mandate_id, agent, intent_type, payload, status, attempts, max_retries, terminal,
        last_error, error_code, violations, result, created_at, updated_at`

// MySQLStore 使用 MySQL intent_records 表记录意图状态，表结构由迁移脚本维护。
type MySQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewMySQLStore 基于已迁移的连接池创建存储。
func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db, now: time.Now}
}

// Create 插入新的意图记录。
func (s *MySQLStore) Create(ctx context.Context, record *Record) error {
	if record == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "record 不能为空")
	}
	if strings.TrimSpace(record.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "意图 ID 不能为空")
	}
	payload, err := json.Marshal(record.Intent)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码意图失败")
	}

	now := s.now().Unix()
	if record.CreatedAt == 0 {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	const stmt = `INSERT INTO intent_records
        (id, mandate_id, agent, intent_type, payload, status, attempts, max_retries, terminal, last_error, error_code,
        created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '', '', ?, ?)`

	_, err = s.db.ExecContext(ctx, stmt,
		record.ID,
		record.MandateID,
		record.Agent,
		string(record.Type),
		string(payload),
		string(record.Status),
		record.Attempts,
		record.MaxRetries,
		record.Terminal,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		if storemysql.IsDuplicateEntry(err) {
			return ErrIntentConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入意图失败")
	}
	return nil
}

// Get 查询指定意图。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM intent_records WHERE id = ?`, id)
	record, err := scanRecord(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrIntentNotFound
		}
		return nil, err
	}
	return record, nil
}

// Claim 将意图标记为运行中并返回最新状态。
func (s *MySQLStore) Claim(ctx context.Context, id string) (*Record, error) {
	const stmt = `UPDATE intent_records SET status = ?, attempts = attempts + 1, updated_at = ?, last_error = '', error_code = ''
        WHERE id = ? AND attempts < max_retries AND (status = ? OR (status = ? AND terminal = 0))`

	res, err := s.db.ExecContext(ctx, stmt,
		string(StatusRunning),
		s.now().Unix(),
		id,
		string(StatusPending),
		string(StatusFailed),
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新意图状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	record, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return record, claimError(record)
	}
	return record, nil
}

// MarkSucceeded 写入编译或执行结果。
func (s *MySQLStore) MarkSucceeded(ctx context.Context, id string, status Status, result Result) error {
	encoded, err := json.Marshal(result)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码执行结果失败")
	}
	const stmt = `UPDATE intent_records SET status = ?, terminal = 0, result = ?, violations = NULL, last_error = '',
        error_code = '', updated_at = ? WHERE id = ?`
	return s.exec(ctx, "标记意图成功失败", stmt, string(status), string(encoded), s.now().Unix(), id)
}

// MarkRejected 记录约束拒绝。
func (s *MySQLStore) MarkRejected(ctx context.Context, id string, code xerrors.Code, message string, violations []compiler.Violation) error {
	encoded, err := json.Marshal(violations)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码违规项失败")
	}
	const stmt = `UPDATE intent_records SET status = ?, terminal = 1, last_error = ?, error_code = ?, violations = ?,
        updated_at = ? WHERE id = ?`
	return s.exec(ctx, "标记意图拒绝失败", stmt, string(StatusRejected), message, string(code), string(encoded), s.now().Unix(), id)
}

// MarkFailed 将意图标记为失败，result 非空时一并保存已广播的交易。
func (s *MySQLStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, message string, terminal bool, result *Result) error {
	if result == nil {
		const stmt = `UPDATE intent_records SET status = ?, terminal = ?, last_error = ?, error_code = ?, updated_at = ? WHERE id = ?`
		return s.exec(ctx, "标记意图失败出错", stmt, string(StatusFailed), terminal, message, string(code), s.now().Unix(), id)
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码执行结果失败")
	}
	const stmt = `UPDATE intent_records SET status = ?, terminal = ?, last_error = ?, error_code = ?, result = ?,
        updated_at = ? WHERE id = ?`
	return s.exec(ctx, "标记意图失败出错", stmt, string(StatusFailed), terminal, message, string(code), string(encoded), s.now().Unix(), id)
}

func (s *MySQLStore) exec(ctx context.Context, action, stmt string, args ...any) error {
	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, action)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrIntentNotFound
	}
	return nil
}

// List 返回符合条件的意图记录。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Record, error) {
	opts.applyDefaults()

	query := `SELECT ` + recordColumns + ` FROM intent_records`
	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}

	order := " ORDER BY updated_at DESC, created_at DESC, id DESC"
	if opts.Order == SortByUpdatedAsc {
		order = " ORDER BY updated_at ASC, created_at ASC, id ASC"
	}
	query += order + " LIMIT ? OFFSET ?"

	args := append(filterArgs, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询意图列表失败")
	}
	defer rows.Close()

	records := make([]*Record, 0, opts.Limit)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历意图失败")
	}
	return records, nil
}

// Stats 返回符合过滤条件的意图聚合信息。
func (s *MySQLStore) Stats(ctx context.Context, opts ListOptions) (Stats, error) {
	opts.applyDefaults()

	query := `SELECT status, COUNT(*), COALESCE(MIN(updated_at), 0), COALESCE(MAX(updated_at), 0) FROM intent_records`
	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	query += " GROUP BY status"

	rows, err := s.db.QueryContext(ctx, query, filterArgs...)
	if err != nil {
		return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询意图统计失败")
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var (
			status         string
			count          int
			oldest, newest int64
		)
		if err := rows.Scan(&status, &count, &oldest, &newest); err != nil {
			return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析意图统计失败")
		}
		for i := 0; i < count; i++ {
			stats.add(Status(status))
		}
		if newest > stats.NewestUpdatedAt {
			stats.NewestUpdatedAt = newest
		}
		if stats.OldestUpdatedAt == 0 || (oldest != 0 && oldest < stats.OldestUpdatedAt) {
			stats.OldestUpdatedAt = oldest
		}
	}
	if err := rows.Err(); err != nil {
		return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历意图统计失败")
	}
	if stats.Total == 0 {
		stats.OldestUpdatedAt = 0
		stats.NewestUpdatedAt = 0
	}
	return stats, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		record     Record
		kind       string
		status     string
		payload    string
		lastError  sql.NullString
		violations sql.NullString
		result     sql.NullString
	)
	if err := row.Scan(
		&record.ID,
		&record.MandateID,
		&record.Agent,
		&kind,
		&payload,
		&status,
		&record.Attempts,
		&record.MaxRetries,
		&record.Terminal,
		&lastError,
		&record.ErrorCode,
		&violations,
		&result,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析意图记录失败")
	}
	record.Type = intent.Type(kind)
	record.Status = Status(status)
	record.LastError = lastError.String

	var in intent.Intent
	if err := json.Unmarshal([]byte(payload), &in); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析意图内容失败")
	}
	record.Intent = &in
	if violations.Valid && strings.TrimSpace(violations.String) != "" {
		if err := json.Unmarshal([]byte(violations.String), &record.Violations); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析违规项失败")
		}
	}
	if result.Valid && strings.TrimSpace(result.String) != "" {
		var res Result
		if err := json.Unmarshal([]byte(result.String), &res); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析执行结果失败")
		}
		record.Result = &res
	}
	return &record, nil
}

func buildFilterClause(opts ListOptions) (string, []any) {
	conditions := make([]string, 0, 6)
	args := make([]any, 0, 8)

	if len(opts.Statuses) > 0 {
		placeholders := make([]string, 0, len(opts.Statuses))
		for _, status := range opts.Statuses {
			placeholders = append(placeholders, "?")
			args = append(args, string(status))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if opts.MandateID != "" {
		conditions = append(conditions, "mandate_id = ?")
		args = append(args, opts.MandateID)
	}
	if opts.Agent != "" {
		conditions = append(conditions, "agent = ?")
		args = append(args, intent.Checksum(opts.Agent))
	}
	if opts.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, opts.UpdatedLTE)
	}
	if opts.HasResult != nil {
		if *opts.HasResult {
			conditions = append(conditions, "result IS NOT NULL")
		} else {
			conditions = append(conditions, "result IS NULL")
		}
	}
	if opts.Query != "" {
		pattern := "%" + opts.Query + "%"
		conditions = append(conditions, "(id LIKE ? OR mandate_id LIKE ? OR agent LIKE ? OR last_error LIKE ? OR error_code LIKE ?)")
		args = append(args, pattern, pattern, pattern, pattern, pattern)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " AND "), args
}

var _ Store = (*MySQLStore)(nil)
