package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	xerrors "Legend-Guardian/internal/errors"
)

// MySQLStore 把情节记忆落到 MySQL，进程重启后记忆不丢失。
// 容量语义与内存实现一致：超过上限时删除最旧的记录。
type MySQLStore struct {
	db       *sql.DB
	capacity int
	scorer   Scorer
}

// NewMySQLStore 创建 MySQL 情节存储并初始化表结构。
func NewMySQLStore(dsn string, capacity int, opts ...RingOption) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}
	if capacity <= 0 {
		capacity = defaultCapacity
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

	// 借用 RingOption 里的打分配置, 两种实现保持同一套相似度语义。
	ring := &RingStore{scorer: overlapScorer{}}
	for _, opt := range opts {
		if opt != nil {
			opt(ring)
		}
	}

	store := &MySQLStore{db: db, capacity: capacity, scorer: ring.scorer}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

var _ Store = (*MySQLStore)(nil)

func (s *MySQLStore) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS episodes (
        seq BIGINT AUTO_INCREMENT PRIMARY KEY,
        id VARCHAR(64) NOT NULL UNIQUE,
        event_type VARCHAR(128) NOT NULL,
        summary TEXT NOT NULL,
        metadata TEXT,
        created_at BIGINT NOT NULL,
        INDEX idx_episode_event_type (event_type),
        INDEX idx_episode_created (created_at)
)`
	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 episodes 表失败")
	}
	return nil
}

// Append 插入情节并按容量淘汰最旧记录。
func (s *MySQLStore) Append(ctx context.Context, episode Episode) error {
	if episode.ID == "" {
		episode.ID = uuid.NewString()
	}
	if episode.CreatedAt.IsZero() {
		episode.CreatedAt = time.Now()
	}

	var metadata []byte
	if len(episode.Metadata) > 0 {
		raw, err := json.Marshal(episode.Metadata)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化情节元数据失败")
		}
		metadata = raw
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO episodes (id, event_type, summary, metadata, created_at) VALUES (?, ?, ?, ?, ?)`,
		episode.ID, episode.EventType, episode.Summary, metadata, episode.CreatedAt.UnixNano())
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return xerrors.Wrap(xerrors.CodeConflict, err, "情节 ID 已存在")
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入情节失败")
	}

	// 淘汰超出容量的最旧记录。存量未满时子查询为空, 语句不删除任何行。
	_, err = s.db.ExecContext(ctx, `DELETE FROM episodes
        WHERE seq <= (SELECT seq FROM (
            SELECT seq FROM episodes ORDER BY seq DESC LIMIT 1 OFFSET ?
        ) AS cutoff)`, s.capacity)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "淘汰过旧情节失败")
	}
	return nil
}

// Recent 返回最近的 n 条情节，新者在前。
func (s *MySQLStore) Recent(ctx context.Context, n int) ([]Episode, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_type, summary, metadata, created_at FROM episodes ORDER BY seq DESC LIMIT ?`, n)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询情节失败")
	}
	defer rows.Close()
	return scanEpisodes(rows)
}

// ByEventType 返回指定事件类型的全部情节，新者在前。
func (s *MySQLStore) ByEventType(ctx context.Context, eventType string) ([]Episode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_type, summary, metadata, created_at FROM episodes WHERE event_type = ? ORDER BY seq DESC`,
		eventType)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "按事件类型查询情节失败")
	}
	defer rows.Close()
	return scanEpisodes(rows)
}

// Similar 在进程内对全部存量打分，容量上限保证了扫描代价可控。
func (s *MySQLStore) Similar(ctx context.Context, query string, k int) ([]ScoredEpisode, error) {
	query = strings.TrimSpace(query)
	if query == "" || k <= 0 {
		return nil, nil
	}
	episodes, err := s.Recent(ctx, s.capacity)
	if err != nil {
		return nil, err
	}

	var out []ScoredEpisode
	for _, episode := range episodes {
		score := s.scorer.Score(query, episode.Summary)
		if score <= 0 {
			continue
		}
		out = append(out, ScoredEpisode{Episode: episode, Score: score})
	}
	stableSortByScore(out)
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Len 返回当前存量。
func (s *MySQLStore) Len(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM episodes`).Scan(&count); err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "统计情节数量失败")
	}
	return count, nil
}

// Close 关闭数据库连接。
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

func scanEpisodes(rows *sql.Rows) ([]Episode, error) {
	var out []Episode
	for rows.Next() {
		var (
			episode   Episode
			metadata  sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&episode.ID, &episode.EventType, &episode.Summary, &metadata, &createdAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取情节记录失败")
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &episode.Metadata); err != nil {
				return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析情节元数据失败")
			}
		}
		episode.CreatedAt = time.Unix(0, createdAt)
		out = append(out, episode)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历情节记录失败")
	}
	return out, nil
}
