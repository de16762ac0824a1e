package plan

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "Legend-Guardian/internal/errors"
)

// MySQLStore 使用 MySQL 记录计划状态，支持多实例共享。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 创建 MySQL 计划存储并初始化表结构。
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

var _ Store = (*MySQLStore)(nil)

func (s *MySQLStore) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS plans (
        id VARCHAR(64) PRIMARY KEY,
        correlation_id VARCHAR(64) DEFAULT '',
        goal TEXT NOT NULL,
        project_id VARCHAR(255) DEFAULT '',
        workspace_id VARCHAR(255) DEFAULT '',
        source VARCHAR(64) DEFAULT '',
        on_error VARCHAR(16) NOT NULL DEFAULT 'abort',
        steps TEXT NOT NULL,
        results TEXT,
        metadata TEXT,
        status VARCHAR(32) NOT NULL,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        INDEX idx_plan_status (status),
        INDEX idx_plan_updated (updated_at)
)`
	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 plans 表失败")
	}
	return nil
}

// Create 插入新的计划记录。
func (s *MySQLStore) Create(ctx context.Context, p *Plan) error {
	if p == nil || strings.TrimSpace(p.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "计划 ID 不能为空")
	}
	if p.Status == "" {
		p.Status = StatusPending
	}
	now := time.Now().Unix()
	p.CreatedAt = now
	p.UpdatedAt = now

	steps, err := json.Marshal(p.Steps)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化步骤失败")
	}
	metadata, err := marshalNullable(p.Metadata)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化计划元数据失败")
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO plans
        (id, correlation_id, goal, project_id, workspace_id, source, on_error, steps, results, metadata, status, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?, ?, ?)`,
		p.ID, p.CorrelationID, p.Goal, p.ProjectID, p.WorkspaceID, p.Source,
		string(p.OnError), steps, metadata, string(p.Status), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrPlanConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入计划失败")
	}
	return nil
}

// Get 返回指定计划。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Plan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, correlation_id, goal, project_id, workspace_id,
        source, on_error, steps, results, metadata, status, created_at, updated_at
        FROM plans WHERE id = ?`, id)
	p, err := scanPlan(row)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return nil, ErrPlanNotFound
	}
	return p, err
}

// Claim 以状态条件更新实现乐观抢占，避免同一计划被多个工作协程执行。
func (s *MySQLStore) Claim(ctx context.Context, id string) (*Plan, error) {
	now := time.Now().Unix()
	result, err := s.db.ExecContext(ctx,
		`UPDATE plans SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(StatusRunning), now, id, string(StatusPending))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "抢占计划失败")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取抢占结果失败")
	}
	if affected == 0 {
		existing, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if existing.Terminal() {
			return nil, ErrPlanTerminal
		}
		return nil, ErrPlanConflict
	}
	return s.Get(ctx, id)
}

// Finish 回写计划的终态与结果。
func (s *MySQLStore) Finish(ctx context.Context, p *Plan) error {
	if p == nil || !p.Terminal() {
		return xerrors.New(xerrors.CodeInvalidArgument, "只能回写终态计划")
	}
	results, err := marshalNullable(p.Results)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化执行结果失败")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE plans SET status = ?, results = ?, updated_at = ? WHERE id = ?`,
		string(p.Status), results, time.Now().Unix(), p.ID)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "回写计划结果失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取回写结果失败")
	}
	if affected == 0 {
		return ErrPlanNotFound
	}
	return nil
}

// List 返回符合过滤条件的计划，按更新时间降序。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Plan, error) {
	opts.applyDefaults()

	var (
		conditions []string
		args       []any
	)
	if len(opts.Statuses) > 0 {
		placeholders := make([]string, len(opts.Statuses))
		for i, status := range opts.Statuses {
			placeholders[i] = "?"
			args = append(args, string(status))
		}
		conditions = append(conditions, "status IN ("+strings.Join(placeholders, ",")+")")
	}
	if opts.Query != "" {
		conditions = append(conditions, "(goal LIKE ? OR project_id LIKE ?)")
		needle := "%" + opts.Query + "%"
		args = append(args, needle, needle)
	}

	query := `SELECT id, correlation_id, goal, project_id, workspace_id,
        source, on_error, steps, results, metadata, status, created_at, updated_at FROM plans`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY updated_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询计划列表失败")
	}
	defer rows.Close()

	var out []*Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历计划列表失败")
	}
	return out, nil
}

// Stats 返回计划状态统计。
func (s *MySQLStore) Stats(ctx context.Context) (PlanStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM plans GROUP BY status`)
	if err != nil {
		return PlanStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "统计计划失败")
	}
	defer rows.Close()

	var stats PlanStats
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return PlanStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取统计结果失败")
		}
		stats.Total += count
		switch Status(status) {
		case StatusPending:
			stats.Pending = count
		case StatusRunning:
			stats.Running = count
		case StatusCompleted:
			stats.Completed = count
		case StatusFailed:
			stats.Failed = count
		case StatusCanceled:
			stats.Canceled = count
		}
	}
	if err := rows.Err(); err != nil {
		return PlanStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历统计结果失败")
	}
	return stats, nil
}

// Close 关闭数据库连接。
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (*Plan, error) {
	var (
		p        Plan
		onError  string
		status   string
		steps    []byte
		results  sql.NullString
		metadata sql.NullString
	)
	err := row.Scan(&p.ID, &p.CorrelationID, &p.Goal, &p.ProjectID, &p.WorkspaceID,
		&p.Source, &onError, &steps, &results, &metadata, &status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取计划记录失败")
	}
	p.OnError = ErrorPolicy(onError)
	p.Status = Status(status)
	if err := json.Unmarshal(steps, &p.Steps); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析计划步骤失败")
	}
	if results.Valid && results.String != "" {
		if err := json.Unmarshal([]byte(results.String), &p.Results); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析执行结果失败")
		}
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &p.Metadata); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析计划元数据失败")
		}
	}
	return &p, nil
}

func marshalNullable(value any) (any, error) {
	switch v := value.(type) {
	case map[string]any:
		if len(v) == 0 {
			return nil, nil
		}
	case []StepResult:
		if len(v) == 0 {
			return nil, nil
		}
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return raw, nil
}
