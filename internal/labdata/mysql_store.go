package labdata

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	xerrors "LabNexus/internal/errors"
	"LabNexus/internal/ledger"
)

// MySQLConfig 描述 MySQL 连接参数。
type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// MySQLStore 将实验室数据持久化到 MySQL。
type MySQLStore struct {
	db *sql.DB
}

var _ Store = (*MySQLStore)(nil)

// NewMySQLStore 建立连接池并初始化表结构。
func NewMySQLStore(ctx context.Context, cfg MySQLConfig) (*MySQLStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "连接 MySQL 失败")
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(20)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(10)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS experiments (
			id VARCHAR(64) NOT NULL PRIMARY KEY,
			title VARCHAR(255) NOT NULL,
			scientific_question TEXT,
			description TEXT,
			status VARCHAR(32) NOT NULL,
			protocol_id VARCHAR(64),
			reagent_usages JSON,
			tags JSON,
			notes TEXT,
			results_summary TEXT,
			ledger_tx_id VARCHAR(128),
			created_at VARCHAR(40) NOT NULL,
			updated_at VARCHAR(40) NOT NULL,
			INDEX idx_experiments_status (status)
		)`,
		`CREATE TABLE IF NOT EXISTS protocols (
			id VARCHAR(64) NOT NULL PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			description TEXT,
			source_type VARCHAR(32) NOT NULL,
			source_reference VARCHAR(255),
			steps JSON,
			tags JSON,
			metadata JSON,
			created_at VARCHAR(40) NOT NULL,
			updated_at VARCHAR(40) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS reagents (
			id VARCHAR(64) NOT NULL PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			catalog_number VARCHAR(128),
			vendor VARCHAR(128),
			storage_conditions VARCHAR(128),
			quantity DOUBLE NOT NULL,
			unit VARCHAR(32),
			metadata JSON,
			created_at VARCHAR(40) NOT NULL,
			updated_at VARCHAR(40) NOT NULL,
			UNIQUE KEY uq_reagents_vendor_catalog (vendor, catalog_number)
		)`,
		`CREATE TABLE IF NOT EXISTS reagent_usage (
			id VARCHAR(64) NOT NULL PRIMARY KEY,
			reagent_id VARCHAR(64) NOT NULL,
			experiment_id VARCHAR(64),
			quantity DOUBLE NOT NULL,
			unit VARCHAR(32),
			note TEXT,
			recorded_at VARCHAR(40) NOT NULL,
			INDEX idx_usage_reagent (reagent_id)
		)`,
		`CREATE TABLE IF NOT EXISTS provenance_records (
			experiment_id VARCHAR(64) NOT NULL PRIMARY KEY,
			data_hash VARCHAR(80) NOT NULL,
			tx_id VARCHAR(128) NOT NULL,
			block_height BIGINT UNSIGNED NOT NULL,
			network_id VARCHAR(64) NOT NULL,
			sequence BIGINT UNSIGNED NOT NULL,
			metadata JSON,
			created_at BIGINT NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化表结构失败")
		}
	}
	return nil
}

func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

// CreateExperiment 插入一条实验记录。
func (s *MySQLStore) CreateExperiment(ctx context.Context, exp *Experiment) error {
	if exp == nil || strings.TrimSpace(exp.Title) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "实验标题不能为空")
	}
	if exp.ID == "" {
		exp.ID = NewExperimentID()
	}
	if exp.Status == "" {
		exp.Status = StatusPlanned
	}
	exp.CreatedAt = nowISO()
	exp.UpdatedAt = exp.CreatedAt

	usages, err := marshalJSON(exp.ReagentUsages)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化试剂消耗失败")
	}
	tags, err := marshalJSON(exp.Tags)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化标签失败")
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO experiments
		(id, title, scientific_question, description, status, protocol_id,
		 reagent_usages, tags, notes, results_summary, ledger_tx_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exp.ID, exp.Title, exp.ScientificQuestion, exp.Description, string(exp.Status),
		nullable(exp.ProtocolID), usages, tags, exp.Notes, exp.ResultsSummary,
		nullable(exp.LedgerTxID), exp.CreatedAt, exp.UpdatedAt)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入实验记录失败")
	}
	return nil
}

// GetExperiment 按 ID 查询实验。
func (s *MySQLStore) GetExperiment(ctx context.Context, id string) (*Experiment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, title, scientific_question, description,
		status, protocol_id, reagent_usages, tags, notes, results_summary, ledger_tx_id,
		created_at, updated_at FROM experiments WHERE id = ?`, id)
	exp, err := scanExperiment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, xerrors.New(xerrors.CodeNotFound, "实验不存在",
			xerrors.WithMetadata("experiment_id", id))
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询实验记录失败")
	}
	return exp, nil
}

// UpdateExperiment 覆盖已有实验并刷新更新时间。
func (s *MySQLStore) UpdateExperiment(ctx context.Context, exp *Experiment) error {
	if exp == nil || exp.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "实验 ID 不能为空")
	}
	if exp.Status != "" && !ValidStatus(exp.Status) {
		return xerrors.New(xerrors.CodeInvalidArgument, "实验状态非法",
			xerrors.WithMetadata("status", string(exp.Status)))
	}
	exp.UpdatedAt = nowISO()

	usages, err := marshalJSON(exp.ReagentUsages)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化试剂消耗失败")
	}
	tags, err := marshalJSON(exp.Tags)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化标签失败")
	}

	result, err := s.db.ExecContext(ctx, `UPDATE experiments SET title = ?,
		scientific_question = ?, description = ?, status = ?, protocol_id = ?,
		reagent_usages = ?, tags = ?, notes = ?, results_summary = ?, ledger_tx_id = ?,
		updated_at = ? WHERE id = ?`,
		exp.Title, exp.ScientificQuestion, exp.Description, string(exp.Status),
		nullable(exp.ProtocolID), usages, tags, exp.Notes, exp.ResultsSummary,
		nullable(exp.LedgerTxID), exp.UpdatedAt, exp.ID)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新实验记录失败")
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		if _, getErr := s.GetExperiment(ctx, exp.ID); getErr != nil {
			return getErr
		}
	}
	return nil
}

// ListExperiments 按创建时间倒序返回实验；status 为空表示不过滤。
func (s *MySQLStore) ListExperiments(ctx context.Context, status ExperimentStatus, limit int) ([]*Experiment, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, title, scientific_question, description, status, protocol_id,
		reagent_usages, tags, notes, results_summary, ledger_tx_id, created_at, updated_at
		FROM experiments`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询实验列表失败")
	}
	defer rows.Close()

	var out []*Experiment
	for rows.Next() {
		exp, err := scanExperiment(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析实验记录失败")
		}
		out = append(out, exp)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历实验列表失败")
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExperiment(row rowScanner) (*Experiment, error) {
	var exp Experiment
	var status string
	var protocolID, ledgerTxID sql.NullString
	var usages, tags []byte
	if err := row.Scan(&exp.ID, &exp.Title, &exp.ScientificQuestion, &exp.Description,
		&status, &protocolID, &usages, &tags, &exp.Notes, &exp.ResultsSummary,
		&ledgerTxID, &exp.CreatedAt, &exp.UpdatedAt); err != nil {
		return nil, err
	}
	exp.Status = ExperimentStatus(status)
	exp.ProtocolID = protocolID.String
	exp.LedgerTxID = ledgerTxID.String
	if len(usages) > 0 {
		json.Unmarshal(usages, &exp.ReagentUsages)
	}
	if len(tags) > 0 {
		json.Unmarshal(tags, &exp.Tags)
	}
	if exp.ReagentUsages == nil {
		exp.ReagentUsages = []ReagentUsage{}
	}
	if exp.Tags == nil {
		exp.Tags = []string{}
	}
	return &exp, nil
}

// CreateProtocol 插入一条方案记录。
func (s *MySQLStore) CreateProtocol(ctx context.Context, p *Protocol) error {
	if p == nil || strings.TrimSpace(p.Name) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "方案名称不能为空")
	}
	if p.ID == "" {
		p.ID = NewProtocolID()
	}
	if p.SourceType == "" {
		p.SourceType = "manual"
	}
	p.CreatedAt = nowISO()
	p.UpdatedAt = p.CreatedAt

	steps, err := marshalJSON(p.Steps)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化方案步骤失败")
	}
	tags, _ := marshalJSON(p.Tags)
	metadata, _ := marshalJSON(p.Metadata)

	_, err = s.db.ExecContext(ctx, `INSERT INTO protocols
		(id, name, description, source_type, source_reference, steps, tags, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Description, p.SourceType, nullable(p.SourceReference),
		steps, tags, metadata, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入方案记录失败")
	}
	return nil
}

// GetProtocol 按 ID 查询方案。
func (s *MySQLStore) GetProtocol(ctx context.Context, id string) (*Protocol, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, description, source_type,
		source_reference, steps, tags, metadata, created_at, updated_at
		FROM protocols WHERE id = ?`, id)
	p, err := scanProtocol(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, xerrors.New(xerrors.CodeNotFound, "方案不存在",
			xerrors.WithMetadata("protocol_id", id))
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询方案记录失败")
	}
	return p, nil
}

// UpdateProtocol 覆盖已有方案并刷新更新时间。
func (s *MySQLStore) UpdateProtocol(ctx context.Context, p *Protocol) error {
	if p == nil || p.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "方案 ID 不能为空")
	}
	p.UpdatedAt = nowISO()

	steps, err := marshalJSON(p.Steps)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化方案步骤失败")
	}
	tags, _ := marshalJSON(p.Tags)
	metadata, _ := marshalJSON(p.Metadata)

	result, err := s.db.ExecContext(ctx, `UPDATE protocols SET name = ?, description = ?,
		source_type = ?, source_reference = ?, steps = ?, tags = ?, metadata = ?,
		updated_at = ? WHERE id = ?`,
		p.Name, p.Description, p.SourceType, nullable(p.SourceReference),
		steps, tags, metadata, p.UpdatedAt, p.ID)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新方案记录失败")
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		if _, getErr := s.GetProtocol(ctx, p.ID); getErr != nil {
			return getErr
		}
	}
	return nil
}

// SearchProtocols 在名称与描述上做子串匹配。
func (s *MySQLStore) SearchProtocols(ctx context.Context, query string, limit int) ([]*Protocol, error) {
	if limit <= 0 {
		limit = 20
	}
	needle := "%" + strings.TrimSpace(query) + "%"
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, description, source_type,
		source_reference, steps, tags, metadata, created_at, updated_at FROM protocols
		WHERE name LIKE ? OR description LIKE ? ORDER BY created_at DESC LIMIT ?`,
		needle, needle, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "检索方案失败")
	}
	defer rows.Close()

	var out []*Protocol
	for rows.Next() {
		p, err := scanProtocol(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析方案记录失败")
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历方案列表失败")
	}
	return out, nil
}

func scanProtocol(row rowScanner) (*Protocol, error) {
	var p Protocol
	var sourceReference sql.NullString
	var steps, tags, metadata []byte
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.SourceType, &sourceReference,
		&steps, &tags, &metadata, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.SourceReference = sourceReference.String
	if len(steps) > 0 {
		json.Unmarshal(steps, &p.Steps)
	}
	if len(tags) > 0 {
		json.Unmarshal(tags, &p.Tags)
	}
	if len(metadata) > 0 {
		json.Unmarshal(metadata, &p.Metadata)
	}
	if p.Steps == nil {
		p.Steps = []ProtocolStep{}
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}
	return &p, nil
}

// UpsertReagent 新建试剂；同一 vendor + catalog_number 已存在时累加数量。
func (s *MySQLStore) UpsertReagent(ctx context.Context, r *Reagent) error {
	if r == nil || strings.TrimSpace(r.Name) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "试剂名称不能为空")
	}
	if r.ID == "" {
		r.ID = NewReagentID()
	}
	now := nowISO()
	r.CreatedAt = now
	r.UpdatedAt = now

	metadata, _ := marshalJSON(r.Metadata)
	_, err := s.db.ExecContext(ctx, `INSERT INTO reagents
		(id, name, catalog_number, vendor, storage_conditions, quantity, unit, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE quantity = quantity + VALUES(quantity), updated_at = VALUES(updated_at)`,
		r.ID, r.Name, r.CatalogNumber, r.Vendor, r.StorageConditions,
		r.Quantity, r.Unit, metadata, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入试剂记录失败")
	}
	return nil
}

// GetReagent 按 ID 查询试剂。
func (s *MySQLStore) GetReagent(ctx context.Context, id string) (*Reagent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, catalog_number, vendor,
		storage_conditions, quantity, unit, metadata, created_at, updated_at
		FROM reagents WHERE id = ?`, id)
	r, err := scanReagent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, xerrors.New(xerrors.CodeNotFound, "试剂不存在",
			xerrors.WithMetadata("reagent_id", id))
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询试剂记录失败")
	}
	return r, nil
}

// ListReagents 按名称、供应商或货号做子串匹配；query 为空返回全部。
func (s *MySQLStore) ListReagents(ctx context.Context, query string, limit int) ([]*Reagent, error) {
	if limit <= 0 {
		limit = 50
	}
	needle := "%" + strings.TrimSpace(query) + "%"
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, catalog_number, vendor,
		storage_conditions, quantity, unit, metadata, created_at, updated_at FROM reagents
		WHERE name LIKE ? OR vendor LIKE ? OR catalog_number LIKE ?
		ORDER BY name ASC LIMIT ?`, needle, needle, needle, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "检索试剂失败")
	}
	defer rows.Close()

	var out []*Reagent
	for rows.Next() {
		r, err := scanReagent(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析试剂记录失败")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历试剂列表失败")
	}
	return out, nil
}

func scanReagent(row rowScanner) (*Reagent, error) {
	var r Reagent
	var metadata []byte
	if err := row.Scan(&r.ID, &r.Name, &r.CatalogNumber, &r.Vendor, &r.StorageConditions,
		&r.Quantity, &r.Unit, &metadata, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		json.Unmarshal(metadata, &r.Metadata)
	}
	return &r, nil
}

// RecordUsage 在同一事务内登记消耗并扣减库存。
func (s *MySQLStore) RecordUsage(ctx context.Context, usage *ReagentUsage) error {
	if usage == nil || usage.ReagentID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "reagent_id 不能为空")
	}
	if usage.Quantity <= 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "消耗数量必须为正数")
	}
	if usage.ID == "" {
		usage.ID = NewUsageID()
	}
	usage.RecordedAt = nowISO()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启消耗事务失败")
	}

	result, err := tx.ExecContext(ctx, `UPDATE reagents SET quantity = quantity - ?,
		updated_at = ? WHERE id = ?`, usage.Quantity, usage.RecordedAt, usage.ReagentID)
	if err != nil {
		tx.Rollback()
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "扣减试剂库存失败")
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		tx.Rollback()
		return xerrors.New(xerrors.CodeNotFound, "试剂不存在",
			xerrors.WithMetadata("reagent_id", usage.ReagentID))
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO reagent_usage
		(id, reagent_id, experiment_id, quantity, unit, note, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		usage.ID, usage.ReagentID, nullable(usage.ExperimentID),
		usage.Quantity, usage.Unit, usage.Note, usage.RecordedAt); err != nil {
		tx.Rollback()
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入消耗记录失败")
	}

	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交消耗事务失败")
	}
	return nil
}

// ListUsage 返回指定试剂的消耗记录，时间倒序。
func (s *MySQLStore) ListUsage(ctx context.Context, reagentID string, limit int) ([]*ReagentUsage, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, reagent_id, experiment_id, quantity, unit, note, recorded_at
		FROM reagent_usage`
	args := []any{}
	if reagentID != "" {
		query += ` WHERE reagent_id = ?`
		args = append(args, reagentID)
	}
	query += ` ORDER BY recorded_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询消耗记录失败")
	}
	defer rows.Close()

	var out []*ReagentUsage
	for rows.Next() {
		var u ReagentUsage
		var experimentID sql.NullString
		if err := rows.Scan(&u.ID, &u.ReagentID, &experimentID, &u.Quantity,
			&u.Unit, &u.Note, &u.RecordedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析消耗记录失败")
		}
		u.ExperimentID = experimentID.String
		out = append(out, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历消耗记录失败")
	}
	return out, nil
}

// SaveProvenance 缓存一条存证记录，按实验 ID 覆盖旧值。
func (s *MySQLStore) SaveProvenance(ctx context.Context, record *ledger.ProvenanceRecord) error {
	if record == nil || record.ExperimentID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "存证记录缺少实验 ID")
	}
	metadata, _ := marshalJSON(record.Metadata)
	_, err := s.db.ExecContext(ctx, `INSERT INTO provenance_records
		(experiment_id, data_hash, tx_id, block_height, network_id, sequence, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE data_hash = VALUES(data_hash), tx_id = VALUES(tx_id),
		block_height = VALUES(block_height), network_id = VALUES(network_id),
		sequence = VALUES(sequence), metadata = VALUES(metadata), created_at = VALUES(created_at)`,
		record.ExperimentID, record.DataHash, record.TxID, record.BlockHeight,
		record.NetworkID, record.Sequence, metadata, record.CreatedAt)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入存证缓存失败")
	}
	return nil
}

// GetProvenance 返回实验的本地存证缓存。
func (s *MySQLStore) GetProvenance(ctx context.Context, experimentID string) (*ledger.ProvenanceRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT experiment_id, data_hash, tx_id, block_height,
		network_id, sequence, metadata, created_at FROM provenance_records
		WHERE experiment_id = ?`, experimentID)

	var record ledger.ProvenanceRecord
	var metadata []byte
	err := row.Scan(&record.ExperimentID, &record.DataHash, &record.TxID,
		&record.BlockHeight, &record.NetworkID, &record.Sequence, &metadata, &record.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, xerrors.New(xerrors.CodeNotFound, "实验尚无存证记录",
			xerrors.WithMetadata("experiment_id", experimentID))
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询存证缓存失败")
	}
	if len(metadata) > 0 {
		json.Unmarshal(metadata, &record.Metadata)
	}
	return &record, nil
}

// Close 关闭连接池。
func (s *MySQLStore) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("关闭 MySQL 连接失败: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
