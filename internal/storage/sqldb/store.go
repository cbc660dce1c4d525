// Package sqldb is the durable implementation of ports.Store on top of
// database/sql. It runs on SQLite (modernc, no cgo) or PostgreSQL (lib/pq).
package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/polything/phoenix-template/internal/core/domain"
	"github.com/polything/phoenix-template/internal/core/ports"
	"github.com/polything/phoenix-template/internal/storage/dialect"
)

// Store keeps one row per run with every stage output in its own column,
// one row per research source keyed by normalized URL, and one row per
// knowledge entry.
type Store struct {
	db      *sqlx.DB
	dialect dialect.Dialect
}

var _ ports.Store = (*Store)(nil)

// Config holds database connection configuration
type Config struct {
	Driver string // sqlite or postgres
	DSN    string
}

// New opens the database and creates the schema if needed.
func New(cfg Config) (*Store, error) {
	d, err := dialect.FromDriverName(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("unsupported database driver: %w", err)
	}

	db, err := sqlx.Open(d.DriverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if n := d.MaxOpenConns(); n > 0 {
		db.SetMaxOpenConns(n)
	}

	for _, stmt := range d.PragmaStatements() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma: %w", err)
		}
	}

	store := &Store{db: db, dialect: d}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// NewSQLite opens a SQLite store at path.
func NewSQLite(path string) (*Store, error) {
	return New(Config{Driver: "sqlite", DSN: path})
}

// DB returns the underlying sqlx.DB for advanced operations
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// stageColumns lists the stages with a dedicated output column.
var stageColumns = []domain.StageName{
	domain.StageIntakeBrief,
	domain.StageResearch,
	domain.StageSynthesis,
	domain.StageResourcing,
	domain.StageAngleMatrix,
	domain.StageBacklog,
	domain.StageOutline,
	domain.StageDraft,
	domain.StageVoiceTransfer,
	domain.StageFactCheck,
	domain.StageCompliance,
	domain.StageSEO,
	domain.StagePackaging,
	domain.StageSchedulingMeta,
}

func stageColumn(stage domain.StageName) string {
	return "stage_" + string(stage)
}

func (s *Store) initSchema() error {
	text := s.dialect.TextType()
	ts := s.dialect.TimestampType()
	boolean := s.dialect.BooleanType()
	float := s.dialect.RealType()

	var stageCols strings.Builder
	for _, st := range stageColumns {
		fmt.Fprintf(&stageCols, "\t%s %s,\n", stageColumn(st), text)
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS pipeline_runs (
	id ` + text + ` PRIMARY KEY,
	client_id ` + text + ` NOT NULL,
	status ` + text + ` NOT NULL,
	stage ` + text + `,
	brief ` + text + ` NOT NULL,
	human_review_required ` + boolean + ` NOT NULL DEFAULT FALSE,
	telemetry ` + text + `,
	error ` + text + `,
	stage_order ` + text + `,
	profile ` + text + `,
` + stageCols.String() + `	created_at ` + ts + ` NOT NULL,
	updated_at ` + ts + ` NOT NULL,
	completed_at ` + ts + `
)`,
		`CREATE TABLE IF NOT EXISTS research_sources (
	url ` + text + ` PRIMARY KEY,
	domain ` + text + ` NOT NULL,
	tier INTEGER NOT NULL DEFAULT 0,
	authoritative ` + boolean + ` NOT NULL DEFAULT FALSE,
	title ` + text + `,
	summary ` + text + `,
	insights ` + text + `,
	published_at ` + ts + `,
	credibility_score ` + float + ` NOT NULL DEFAULT 0,
	corroboration_count INTEGER NOT NULL DEFAULT 0,
	times_referenced INTEGER NOT NULL DEFAULT 0,
	first_seen_at ` + ts + ` NOT NULL,
	last_referenced_at ` + ts + ` NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS research_citations (
	insight_id ` + text + ` NOT NULL,
	run_id ` + text + ` NOT NULL,
	url ` + text + ` NOT NULL,
	PRIMARY KEY (insight_id, url)
)`,
		`CREATE TABLE IF NOT EXISTS knowledge_entries (
	id ` + text + ` PRIMARY KEY,
	client_id ` + text + ` NOT NULL DEFAULT '',
	type ` + text + ` NOT NULL,
	title ` + text + ` NOT NULL,
	body ` + text + ` NOT NULL,
	success_score ` + float + ` NOT NULL DEFAULT 0,
	usage_count INTEGER NOT NULL DEFAULT 0,
	source_run_id ` + text + ` NOT NULL DEFAULT '',
	source_stage ` + text + ` NOT NULL DEFAULT '',
	created_at ` + ts + ` NOT NULL,
	updated_at ` + ts + ` NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS clients (
	id ` + text + ` PRIMARY KEY,
	name ` + text + ` NOT NULL,
	email ` + text + ` NOT NULL,
	profile ` + text + ` NOT NULL,
	created_at ` + ts + ` NOT NULL,
	updated_at ` + ts + ` NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_pipeline_runs_client ON pipeline_runs(client_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_pipeline_runs_status ON pipeline_runs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_research_citations_url ON research_citations(url)`,
		`CREATE INDEX IF NOT EXISTS idx_knowledge_client ON knowledge_entries(client_id, type)`,
		`CREATE INDEX IF NOT EXISTS idx_knowledge_source_run ON knowledge_entries(source_run_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// Runs

var runBaseColumns = []string{
	"id", "client_id", "status", "stage", "brief", "human_review_required",
	"telemetry", "error", "stage_order", "profile", "created_at", "updated_at", "completed_at",
}

func runColumns() []string {
	cols := append([]string(nil), runBaseColumns...)
	for _, st := range stageColumns {
		cols = append(cols, stageColumn(st))
	}
	return cols
}

// runValues flattens a run into column order.
func runValues(run *domain.PipelineRun) ([]any, error) {
	brief, err := json.Marshal(run.Brief)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal brief: %w", err)
	}
	telemetry, err := json.Marshal(run.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal telemetry: %w", err)
	}
	var runErr sql.NullString
	if run.Error != nil {
		b, err := json.Marshal(run.Error)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal run error: %w", err)
		}
		runErr = sql.NullString{String: string(b), Valid: true}
	}
	order, err := json.Marshal(run.Results.Names())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stage order: %w", err)
	}
	var profile sql.NullString
	if run.Profile != nil {
		b, err := json.Marshal(run.Profile)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal profile: %w", err)
		}
		profile = sql.NullString{String: string(b), Valid: true}
	}
	var completed sql.NullTime
	if run.CompletedAt != nil {
		completed = sql.NullTime{Time: *run.CompletedAt, Valid: true}
	}

	vals := []any{
		run.ID, run.ClientID, string(run.Status), string(run.Stage), string(brief),
		run.HumanReviewRequired, string(telemetry), runErr, string(order), profile,
		run.CreatedAt, run.UpdatedAt, completed,
	}
	for _, st := range stageColumns {
		res := run.Results.Get(st)
		if res == nil {
			vals = append(vals, sql.NullString{})
			continue
		}
		b, err := json.Marshal(res)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s result: %w", st, err)
		}
		vals = append(vals, sql.NullString{String: string(b), Valid: true})
	}
	return vals, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.PipelineRun, error) {
	var (
		run                               domain.PipelineRun
		status, stage, brief              string
		telemetry, runErr, order, profile sql.NullString
		completed                         sql.NullTime
		stageVals                         = make([]sql.NullString, len(stageColumns))
	)
	dest := []any{
		&run.ID, &run.ClientID, &status, &stage, &brief, &run.HumanReviewRequired,
		&telemetry, &runErr, &order, &profile, &run.CreatedAt, &run.UpdatedAt, &completed,
	}
	for i := range stageVals {
		dest = append(dest, &stageVals[i])
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	run.Status = domain.RunStatus(status)
	run.Stage = domain.StageName(stage)
	if err := json.Unmarshal([]byte(brief), &run.Brief); err != nil {
		return nil, fmt.Errorf("failed to unmarshal brief: %w", err)
	}
	if telemetry.Valid && telemetry.String != "" {
		if err := json.Unmarshal([]byte(telemetry.String), &run.Telemetry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal telemetry: %w", err)
		}
	}
	if runErr.Valid && runErr.String != "" {
		run.Error = &domain.RunError{}
		if err := json.Unmarshal([]byte(runErr.String), run.Error); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run error: %w", err)
		}
	}
	if profile.Valid && profile.String != "" {
		run.Profile = &domain.ClientProfile{}
		if err := json.Unmarshal([]byte(profile.String), run.Profile); err != nil {
			return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
		}
	}
	if completed.Valid {
		t := completed.Time
		run.CompletedAt = &t
	}

	byStage := make(map[domain.StageName]*domain.StageResult, len(stageColumns))
	for i, st := range stageColumns {
		if !stageVals[i].Valid {
			continue
		}
		var res domain.StageResult
		if err := json.Unmarshal([]byte(stageVals[i].String), &res); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s result: %w", st, err)
		}
		byStage[st] = &res
	}

	// stage_order restores execution order of the result columns.
	var names []domain.StageName
	if order.Valid && order.String != "" {
		if err := json.Unmarshal([]byte(order.String), &names); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stage order: %w", err)
		}
	}
	for _, name := range names {
		if res, ok := byStage[name]; ok {
			run.Results = append(run.Results, res)
			delete(byStage, name)
		}
	}
	for _, st := range stageColumns {
		if res, ok := byStage[st]; ok {
			run.Results = append(run.Results, res)
		}
	}
	return &run, nil
}

func (s *Store) CreateRun(ctx context.Context, run *domain.PipelineRun) error {
	vals, err := runValues(run)
	if err != nil {
		return err
	}
	query, args, err := s.dialect.Builder().
		Insert("pipeline_runs").
		Columns(runColumns()...).
		Values(vals...).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*domain.PipelineRun, error) {
	query, args, err := s.dialect.Builder().
		Select(runColumns()...).
		From("pipeline_runs").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	run, err := scanRun(s.db.QueryRowxContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

func (s *Store) UpdateRun(ctx context.Context, run *domain.PipelineRun) error {
	vals, err := runValues(run)
	if err != nil {
		return err
	}
	update := s.dialect.Builder().Update("pipeline_runs")
	for i, col := range runColumns() {
		if col == "id" || col == "created_at" {
			continue
		}
		update = update.Set(col, vals[i])
	}
	query, args, err := update.Where(sq.Eq{"id": run.ID}).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update: %w", err)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s: %w", run.ID, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) ListRuns(ctx context.Context, opts ports.RunListOptions) ([]*domain.PipelineRun, error) {
	q := s.dialect.Builder().
		Select(runColumns()...).
		From("pipeline_runs").
		OrderBy("created_at DESC", "id DESC")
	if opts.ClientID != "" {
		q = q.Where(sq.Eq{"client_id": opts.ClientID})
	}
	if len(opts.Statuses) > 0 {
		statuses := make([]string, len(opts.Statuses))
		for i, st := range opts.Statuses {
			statuses[i] = string(st)
		}
		q = q.Where(sq.Eq{"status": statuses})
	}
	if opts.Limit > 0 {
		q = q.Limit(uint64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Offset(uint64(opts.Offset))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*domain.PipelineRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Research sources

type sourceRow struct {
	URL                string         `db:"url"`
	Domain             string         `db:"domain"`
	Tier               int            `db:"tier"`
	Authoritative      bool           `db:"authoritative"`
	Title              sql.NullString `db:"title"`
	Summary            sql.NullString `db:"summary"`
	Insights           sql.NullString `db:"insights"`
	PublishedAt        sql.NullTime   `db:"published_at"`
	CredibilityScore   float64        `db:"credibility_score"`
	CorroborationCount int            `db:"corroboration_count"`
	TimesReferenced    int            `db:"times_referenced"`
	FirstSeenAt        time.Time      `db:"first_seen_at"`
	LastReferencedAt   time.Time      `db:"last_referenced_at"`
}

func (r *sourceRow) toDomain() (*domain.ResearchSource, error) {
	src := &domain.ResearchSource{
		URL:                r.URL,
		Domain:             r.Domain,
		Tier:               r.Tier,
		Authoritative:      r.Authoritative,
		Title:              r.Title.String,
		Summary:            r.Summary.String,
		CredibilityScore:   r.CredibilityScore,
		CorroborationCount: r.CorroborationCount,
		TimesReferenced:    r.TimesReferenced,
		FirstSeenAt:        r.FirstSeenAt,
		LastReferencedAt:   r.LastReferencedAt,
	}
	if r.PublishedAt.Valid {
		t := r.PublishedAt.Time
		src.PublishedAt = &t
	}
	if r.Insights.Valid && r.Insights.String != "" {
		if err := json.Unmarshal([]byte(r.Insights.String), &src.Insights); err != nil {
			return nil, fmt.Errorf("failed to unmarshal insights: %w", err)
		}
	}
	return src, nil
}

func (s *Store) GetSource(ctx context.Context, url string) (*domain.ResearchSource, error) {
	query := s.dialect.Rebind(`SELECT url, domain, tier, authoritative, title, summary, insights,
		published_at, credibility_score, corroboration_count, times_referenced,
		first_seen_at, last_referenced_at
		FROM research_sources WHERE url = ?`)

	var row sourceRow
	err := s.db.GetContext(ctx, &row, query, url)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("source %s: %w", url, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source: %w", err)
	}
	return row.toDomain()
}

func (s *Store) SaveSource(ctx context.Context, src *domain.ResearchSource) error {
	insights, err := json.Marshal(src.Insights)
	if err != nil {
		return fmt.Errorf("failed to marshal insights: %w", err)
	}
	var published sql.NullTime
	if src.PublishedAt != nil {
		published = sql.NullTime{Time: *src.PublishedAt, Valid: true}
	}

	cols := []string{
		"url", "domain", "tier", "authoritative", "title", "summary", "insights",
		"published_at", "credibility_score", "corroboration_count", "times_referenced",
		"first_seen_at", "last_referenced_at",
	}
	query, args, err := s.dialect.Builder().
		Insert("research_sources").
		Columns(cols...).
		Values(src.URL, src.Domain, src.Tier, src.Authoritative, src.Title, src.Summary, string(insights),
			published, src.CredibilityScore, src.CorroborationCount, src.TimesReferenced,
			src.FirstSeenAt, src.LastReferencedAt).
		Suffix(s.dialect.UpsertClause([]string{"url"}, cols[1:])).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build upsert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to save source: %w", err)
	}
	return nil
}

func (s *Store) ReplaceCitations(ctx context.Context, insightID, runID string, urls []string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM research_citations WHERE insight_id = ?`), insightID); err != nil {
		return fmt.Errorf("failed to clear citations: %w", err)
	}

	if len(urls) > 0 {
		insert := s.dialect.Builder().
			Insert("research_citations").
			Columns("insight_id", "run_id", "url").
			Suffix(s.dialect.UpsertClause([]string{"insight_id", "url"}, nil))
		for _, u := range urls {
			insert = insert.Values(insightID, runID, u)
		}
		query, args, err := insert.ToSql()
		if err != nil {
			return fmt.Errorf("failed to build citation insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to insert citations: %w", err)
		}
	}

	return tx.Commit()
}

func (s *Store) CitationURLs(ctx context.Context, insightID string) ([]string, error) {
	var urls []string
	query := s.dialect.Rebind(`SELECT url FROM research_citations WHERE insight_id = ? ORDER BY url`)
	if err := s.db.SelectContext(ctx, &urls, query, insightID); err != nil {
		return nil, fmt.Errorf("failed to query citations: %w", err)
	}
	return urls, nil
}

func (s *Store) CitingRuns(ctx context.Context, url string) (int, error) {
	var n int
	query := s.dialect.Rebind(`SELECT COUNT(DISTINCT run_id) FROM research_citations WHERE url = ?`)
	if err := s.db.GetContext(ctx, &n, query, url); err != nil {
		return 0, fmt.Errorf("failed to count citing runs: %w", err)
	}
	return n, nil
}

// Knowledge

type knowledgeRow struct {
	ID           string    `db:"id"`
	ClientID     string    `db:"client_id"`
	Type         string    `db:"type"`
	Title        string    `db:"title"`
	Body         string    `db:"body"`
	SuccessScore float64   `db:"success_score"`
	UsageCount   int       `db:"usage_count"`
	SourceRunID  string    `db:"source_run_id"`
	SourceStage  string    `db:"source_stage"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (r *knowledgeRow) toDomain() *domain.KnowledgeEntry {
	return &domain.KnowledgeEntry{
		ID:           r.ID,
		ClientID:     r.ClientID,
		Type:         domain.KnowledgeType(r.Type),
		Title:        r.Title,
		Body:         r.Body,
		SuccessScore: r.SuccessScore,
		UsageCount:   r.UsageCount,
		SourceRunID:  r.SourceRunID,
		SourceStage:  domain.StageName(r.SourceStage),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

var knowledgeColumns = []string{
	"id", "client_id", "type", "title", "body", "success_score", "usage_count",
	"source_run_id", "source_stage", "created_at", "updated_at",
}

func (s *Store) SaveKnowledge(ctx context.Context, e *domain.KnowledgeEntry) error {
	query, args, err := s.dialect.Builder().
		Insert("knowledge_entries").
		Columns(knowledgeColumns...).
		Values(e.ID, e.ClientID, string(e.Type), e.Title, e.Body, e.SuccessScore, e.UsageCount,
			e.SourceRunID, string(e.SourceStage), e.CreatedAt, e.UpdatedAt).
		Suffix(s.dialect.UpsertClause([]string{"id"}, knowledgeColumns[1:])).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build upsert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to save knowledge entry: %w", err)
	}
	return nil
}

func (s *Store) GetKnowledge(ctx context.Context, id string) (*domain.KnowledgeEntry, error) {
	query, args, err := s.dialect.Builder().
		Select(knowledgeColumns...).
		From("knowledge_entries").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	var row knowledgeRow
	err = s.db.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("knowledge entry %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get knowledge entry: %w", err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListKnowledge(ctx context.Context, opts ports.KnowledgeListOptions) ([]*domain.KnowledgeEntry, error) {
	q := s.dialect.Builder().
		Select(knowledgeColumns...).
		From("knowledge_entries").
		OrderBy("success_score DESC", "id ASC")
	if opts.ClientID != "" {
		if opts.IncludeGlobal {
			q = q.Where(sq.Eq{"client_id": []string{opts.ClientID, ""}})
		} else {
			q = q.Where(sq.Eq{"client_id": opts.ClientID})
		}
	}
	if opts.SourceRunID != "" {
		q = q.Where(sq.Eq{"source_run_id": opts.SourceRunID})
	}
	if len(opts.Types) > 0 {
		types := make([]string, len(opts.Types))
		for i, t := range opts.Types {
			types[i] = string(t)
		}
		q = q.Where(sq.Eq{"type": types})
	}
	if opts.Limit > 0 {
		q = q.Limit(uint64(opts.Limit))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	var rows []knowledgeRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query knowledge: %w", err)
	}

	entries := make([]*domain.KnowledgeEntry, len(rows))
	for i := range rows {
		entries[i] = rows[i].toDomain()
	}
	return entries, nil
}

// Clients

func (s *Store) GetProfile(ctx context.Context, clientID string) (*domain.ClientProfile, error) {
	var raw string
	query := s.dialect.Rebind(`SELECT profile FROM clients WHERE id = ?`)
	err := s.db.GetContext(ctx, &raw, query, clientID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("client %s: %w", clientID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	var p domain.ClientProfile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client profile: %w", err)
	}
	return &p, nil
}

func (s *Store) SaveProfile(ctx context.Context, profile *domain.ClientProfile) error {
	now := time.Now().UTC()
	if existing, err := s.GetProfile(ctx, profile.ID); err == nil {
		profile.CreatedAt = existing.CreatedAt
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	} else if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	profile.UpdatedAt = now

	raw, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to marshal client profile: %w", err)
	}
	query, args, err := s.dialect.Builder().
		Insert("clients").
		Columns("id", "name", "email", "profile", "created_at", "updated_at").
		Values(profile.ID, profile.Name, profile.Email, string(raw), profile.CreatedAt, profile.UpdatedAt).
		Suffix(s.dialect.UpsertClause([]string{"id"}, []string{"name", "email", "profile", "updated_at"})).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build upsert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}
	return nil
}
