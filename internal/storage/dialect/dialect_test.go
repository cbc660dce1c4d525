package dialect

import (
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		dialectType DialectType
		wantName    string
		wantErr     bool
	}{
		{"sqlite", SQLite, "sqlite", false},
		{"postgres", Postgres, "postgres", false},
		{"mysql", DialectType("mysql"), "", true},
		{"unknown", DialectType("unknown"), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New(tt.dialectType)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err == nil && d.Name() != tt.wantName {
				t.Errorf("Name() = %v, want %v", d.Name(), tt.wantName)
			}
		})
	}
}

func TestFromDriverName(t *testing.T) {
	tests := []struct {
		driverName string
		wantName   string
		wantDriver string
		wantErr    bool
	}{
		{"sqlite", "sqlite", "sqlite", false},
		{"sqlite3", "sqlite", "sqlite", false},
		{"postgres", "postgres", "postgres", false},
		{"PostgreSQL", "postgres", "postgres", false},
		{"unknown", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.driverName, func(t *testing.T) {
			d, err := FromDriverName(tt.driverName)
			if (err != nil) != tt.wantErr {
				t.Errorf("FromDriverName() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err != nil {
				return
			}
			if d.Name() != tt.wantName {
				t.Errorf("Name() = %v, want %v", d.Name(), tt.wantName)
			}
			if d.DriverName() != tt.wantDriver {
				t.Errorf("DriverName() = %v, want %v", d.DriverName(), tt.wantDriver)
			}
		})
	}
}

func TestSQLiteDialect_Rebind(t *testing.T) {
	d := &sqliteDialect{}
	query := "SELECT * FROM pipeline_runs WHERE id = ? AND status = ?"
	got := d.Rebind(query)
	if got != query {
		t.Errorf("Rebind() = %v, want %v", got, query)
	}
}

func TestPostgresDialect_Rebind(t *testing.T) {
	d := &postgresDialect{}
	tests := []struct {
		query string
		want  string
	}{
		{"SELECT * FROM pipeline_runs WHERE id = ?", "SELECT * FROM pipeline_runs WHERE id = $1"},
		{"SELECT * FROM pipeline_runs WHERE id = ? AND status = ?", "SELECT * FROM pipeline_runs WHERE id = $1 AND status = $2"},
		{"INSERT INTO clients VALUES (?, ?, ?)", "INSERT INTO clients VALUES ($1, $2, $3)"},
		{"SELECT * FROM clients", "SELECT * FROM clients"},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got := d.Rebind(tt.query)
			if got != tt.want {
				t.Errorf("Rebind() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBuilderPlaceholders(t *testing.T) {
	tests := []struct {
		name    string
		dialect Dialect
		want    string
	}{
		{"sqlite", &sqliteDialect{}, "SELECT id FROM pipeline_runs WHERE client_id = ? AND status IN (?,?)"},
		{"postgres", &postgresDialect{}, "SELECT id FROM pipeline_runs WHERE client_id = $1 AND status IN ($2,$3)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, args, err := tt.dialect.Builder().
				Select("id").
				From("pipeline_runs").
				Where("client_id = ?", "c1").
				Where(map[string]any{"status": []string{"pending", "running"}}).
				ToSql()
			if err != nil {
				t.Fatalf("ToSql() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("query = %q, want %q", got, tt.want)
			}
			if len(args) != 3 {
				t.Errorf("args = %v", args)
			}
		})
	}
}

func TestUpsertClause(t *testing.T) {
	tests := []struct {
		name     string
		dialect  Dialect
		conflict []string
		update   []string
		want     string
	}{
		{"sqlite nothing", &sqliteDialect{}, []string{"id"}, nil, "ON CONFLICT(id) DO NOTHING"},
		{"sqlite update", &sqliteDialect{}, []string{"id"}, []string{"name", "updated_at"},
			"ON CONFLICT(id) DO UPDATE SET name=excluded.name, updated_at=excluded.updated_at"},
		{"sqlite composite", &sqliteDialect{}, []string{"insight_id", "url"}, nil, "ON CONFLICT(insight_id, url) DO NOTHING"},
		{"postgres nothing", &postgresDialect{}, []string{"id"}, nil, "ON CONFLICT (id) DO NOTHING"},
		{"postgres update", &postgresDialect{}, []string{"id"}, []string{"name", "updated_at"},
			"ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, updated_at = EXCLUDED.updated_at"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.dialect.UpsertClause(tt.conflict, tt.update); got != tt.want {
				t.Errorf("UpsertClause() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDialect_Types(t *testing.T) {
	tests := []struct {
		name          string
		dialect       Dialect
		boolType      string
		timestampType string
		realType      string
	}{
		{"sqlite", &sqliteDialect{}, "INTEGER", "TIMESTAMP", "REAL"},
		{"postgres", &postgresDialect{}, "BOOLEAN", "TIMESTAMP WITH TIME ZONE", "DOUBLE PRECISION"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.dialect.BooleanType(); got != tt.boolType {
				t.Errorf("BooleanType() = %v, want %v", got, tt.boolType)
			}
			if got := tt.dialect.TimestampType(); got != tt.timestampType {
				t.Errorf("TimestampType() = %v, want %v", got, tt.timestampType)
			}
			if got := tt.dialect.RealType(); got != tt.realType {
				t.Errorf("RealType() = %v, want %v", got, tt.realType)
			}
			if got := tt.dialect.TextType(); got != "TEXT" {
				t.Errorf("TextType() = %v, want TEXT", got)
			}
		})
	}
}

func TestDialect_PragmaStatements(t *testing.T) {
	sqliteD := &sqliteDialect{}
	if len(sqliteD.PragmaStatements()) == 0 {
		t.Error("SQLite should have pragma statements")
	}
	if sqliteD.MaxOpenConns() != 1 {
		t.Error("SQLite should use a single connection")
	}

	pgD := &postgresDialect{}
	if pgD.PragmaStatements() != nil {
		t.Error("PostgreSQL should not have pragma statements")
	}
}
