package db

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/zulandar/nudge/internal/config"
	"github.com/zulandar/nudge/internal/models"
)

func mysqlConfig() config.DatabaseConfig {
	return config.DatabaseConfig{
		Driver: "mysql",
		Host:   "127.0.0.1",
		Port:   3306,
		Name:   "nudge",
		User:   "root",
	}
}

func TestDSN(t *testing.T) {
	tests := []struct {
		name     string
		cfg      func() config.DatabaseConfig
		database string
		want     string
	}{
		{
			name:     "default local",
			cfg:      mysqlConfig,
			database: "nudge",
			want:     "root@tcp(127.0.0.1:3306)/nudge?parseTime=true",
		},
		{
			name: "password and custom port",
			cfg: func() config.DatabaseConfig {
				c := mysqlConfig()
				c.User = "svc"
				c.Password = "pw"
				c.Port = 3307
				return c
			},
			database: "nudge_prod",
			want:     "svc:pw@tcp(127.0.0.1:3307)/nudge_prod?parseTime=true",
		},
		{
			name:     "admin without database",
			cfg:      mysqlConfig,
			database: "",
			want:     "root@tcp(127.0.0.1:3306)/?parseTime=true",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DSN(tt.cfg(), tt.database)
			if got != tt.want {
				t.Errorf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDSN_IPv6Host(t *testing.T) {
	c := mysqlConfig()
	c.Host = "::1"
	dsn := DSN(c, "nudge")
	if !strings.Contains(dsn, "[::1]:3306") {
		t.Errorf("DSN should bracket IPv6 host: %s", dsn)
	}
}

func TestConnect_UnsupportedDriver(t *testing.T) {
	_, err := Connect(config.DatabaseConfig{Driver: "postgres"})
	if err == nil {
		t.Fatal("expected error for unsupported driver")
	}
	if !strings.Contains(err.Error(), "unsupported driver") {
		t.Errorf("error = %q", err)
	}
}

func TestSQLiteDSN(t *testing.T) {
	got := SQLiteDSN("/var/lib/nudge/nudge.db")
	for _, want := range []string{"_busy_timeout=5000", "_txlock=immediate"} {
		if !strings.Contains(got, want) {
			t.Errorf("SQLiteDSN = %q, missing %q", got, want)
		}
	}
}

func TestConnectSQLiteAndMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nudge.db")
	gdb, err := Connect(config.DatabaseConfig{Driver: "sqlite", Path: path})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	for _, m := range AllModels() {
		if !gdb.Migrator().HasTable(m) {
			t.Errorf("table for %T not created", m)
		}
	}

	// Migration is idempotent.
	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("second AutoMigrate: %v", err)
	}

	ev := models.ContactEvent{RecipientID: "21BCS001", Seq: 1, Subject: "s", Status: models.StatusSent}
	if err := gdb.Create(&ev).Error; err != nil {
		t.Fatalf("create: %v", err)
	}
	dup := models.ContactEvent{RecipientID: "21BCS001", Seq: 1, Subject: "t", Status: models.StatusSent}
	if err := gdb.Create(&dup).Error; err == nil {
		t.Error("expected unique violation on (recipient_id, seq)")
	}
}

func TestAllModels(t *testing.T) {
	if got := len(AllModels()); got != 5 {
		t.Errorf("AllModels() returned %d models, want 5", got)
	}
}
