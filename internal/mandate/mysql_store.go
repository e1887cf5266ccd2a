package mandate

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"strings"

	xerrors "IntentLayer-Lite/internal/errors"
	"IntentLayer-Lite/internal/intent"
	storemysql "IntentLayer-Lite/internal/storage/mysql"
	"IntentLayer-Lite/pkg/units"
)

const mandateColumns = `id, owner, agent, network, max_spend_per_intent, daily_spend_limit, allowed_tokens,
        allowed_protocols, allowed_intent_types, risk_level, max_slippage_bps, expires_at, status, revoke_reason,
        metadata, created_at, updated_at`

// MySQLStore 使用 MySQL mandates 表保存授权书，表结构由迁移脚本维护。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 基于已迁移的连接池创建存储。
func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

// Create 插入授权书，主键冲突时返回 ErrMandateConflict。
func (s *MySQLStore) Create(ctx context.Context, m *Mandate) error {
	if m == nil || strings.TrimSpace(m.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "授权书 ID 不能为空")
	}
	row, err := encodeRow(m)
	if err != nil {
		return err
	}
	const stmt = `INSERT INTO mandates (` + mandateColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, stmt,
		m.ID, m.Owner, m.Agent, m.Network,
		m.MaxSpendPerIntent.String(), m.DailySpendLimit.String(),
		row.tokens, row.protocols, row.types,
		string(m.RiskLevel), m.MaxSlippageBps, m.ExpiresAt, string(m.Status), m.RevokeReason,
		row.metadata, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		if storemysql.IsDuplicateEntry(err) {
			return ErrMandateConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入授权书失败")
	}
	return nil
}

// Get 查询指定授权书。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Mandate, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+mandateColumns+` FROM mandates WHERE id = ?`, id)
	m, err := scanMandate(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrMandateNotFound
		}
		return nil, err
	}
	return m, nil
}

// Update 覆盖可变字段。
func (s *MySQLStore) Update(ctx context.Context, m *Mandate) error {
	if m == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "授权书不能为空")
	}
	row, err := encodeRow(m)
	if err != nil {
		return err
	}
	const stmt = `UPDATE mandates SET network = ?, max_spend_per_intent = ?, daily_spend_limit = ?, allowed_tokens = ?,
        allowed_protocols = ?, allowed_intent_types = ?, risk_level = ?, max_slippage_bps = ?, expires_at = ?,
        status = ?, revoke_reason = ?, metadata = ?, updated_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, stmt,
		m.Network, m.MaxSpendPerIntent.String(), m.DailySpendLimit.String(),
		row.tokens, row.protocols, row.types,
		string(m.RiskLevel), m.MaxSlippageBps, m.ExpiresAt,
		string(m.Status), m.RevokeReason, row.metadata, m.UpdatedAt, m.ID,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新授权书失败")
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrMandateNotFound
	}
	return nil
}

// List 按创建时间倒序分页查询。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Mandate, error) {
	opts.applyDefaults()

	var (
		where []string
		args  []any
	)
	if opts.Owner != "" {
		where = append(where, "owner = ?")
		args = append(args, opts.Owner)
	}
	if opts.Agent != "" {
		where = append(where, "agent = ?")
		args = append(args, opts.Agent)
	}
	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(opts.Status))
	}

	query := `SELECT ` + mandateColumns + ` FROM mandates`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?"
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询授权书失败")
	}
	defer rows.Close()

	results := make([]*Mandate, 0)
	for rows.Next() {
		m, err := scanMandate(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, m)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历授权书失败")
	}
	return results, nil
}

// Close 关闭底层连接池。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type encodedRow struct {
	tokens    string
	protocols string
	types     string
	metadata  string
}

func encodeRow(m *Mandate) (encodedRow, error) {
	var row encodedRow
	var err error
	if row.tokens, err = encodeJSON(m.AllowedTokens); err != nil {
		return row, err
	}
	if row.protocols, err = encodeJSON(m.AllowedProtocols); err != nil {
		return row, err
	}
	if row.types, err = encodeJSON(m.AllowedIntentTypes); err != nil {
		return row, err
	}
	if row.metadata, err = encodeJSON(m.Metadata); err != nil {
		return row, err
	}
	return row, nil
}

func encodeJSON[T any](value T) (string, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码授权书字段失败")
	}
	if string(encoded) == "null" {
		return "", nil
	}
	return string(encoded), nil
}

func decodeJSON(raw sql.NullString, target any) error {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw.String), target); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析授权书字段失败")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMandate(scanner rowScanner) (*Mandate, error) {
	var (
		m                             Mandate
		maxSpend, daily, risk, status string
		tokens, protocols, types      sql.NullString
		meta, reason                  sql.NullString
	)
	if err := scanner.Scan(
		&m.ID, &m.Owner, &m.Agent, &m.Network, &maxSpend, &daily,
		&tokens, &protocols, &types, &risk, &m.MaxSlippageBps, &m.ExpiresAt,
		&status, &reason, &meta, &m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取授权书失败")
	}

	var err error
	if m.MaxSpendPerIntent, err = units.ParseAmount(maxSpend); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析 max_spend_per_intent 失败")
	}
	if m.DailySpendLimit, err = units.ParseAmount(daily); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析 daily_spend_limit 失败")
	}
	m.RiskLevel = RiskLevel(risk)
	m.Status = Status(status)
	m.RevokeReason = reason.String

	if err := decodeJSON(tokens, &m.AllowedTokens); err != nil {
		return nil, err
	}
	if err := decodeJSON(protocols, &m.AllowedProtocols); err != nil {
		return nil, err
	}
	var allowedTypes []intent.Type
	if err := decodeJSON(types, &allowedTypes); err != nil {
		return nil, err
	}
	m.AllowedIntentTypes = allowedTypes
	if err := decodeJSON(meta, &m.Metadata); err != nil {
		return nil, err
	}
	return &m, nil
}

var _ Store = (*MySQLStore)(nil)
