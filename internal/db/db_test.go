package db

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	return db
}

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.DatabaseConfig
		want string
	}{
		{
			name: "default local",
			cfg:  config.DatabaseConfig{User: "root", Host: "127.0.0.1", Port: 3306, Name: "switchboard"},
			want: "root@tcp(127.0.0.1:3306)/switchboard?parseTime=true",
		},
		{
			name: "with password",
			cfg:  config.DatabaseConfig{User: "desk", Password: "pw", Host: "10.0.0.5", Port: 3307, Name: "support"},
			want: "desk:pw@tcp(10.0.0.5:3307)/support?parseTime=true",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DSN(tt.cfg)
			if got != tt.want {
				t.Errorf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConnect_UnsupportedDriver(t *testing.T) {
	_, err := Connect(config.DatabaseConfig{Driver: "oracle"})
	if err == nil {
		t.Fatal("expected error for unsupported driver")
	}
	if !strings.Contains(err.Error(), "unsupported driver") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "unsupported driver")
	}
}

func TestConnect_SQLiteAndMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sb.db")
	db, err := Connect(config.DatabaseConfig{Driver: "sqlite", Path: path})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	for _, m := range AllModels() {
		if !db.Migrator().HasTable(m) {
			t.Errorf("table for %T not created", m)
		}
	}
}

func TestUpsertUser_InsertThenUpdate(t *testing.T) {
	db := openTestDB(t)
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}

	if err := UpsertUser(db, models.RegisteredUser{UserID: "U1", Name: "Alice", Role: models.RoleEmployee}); err != nil {
		t.Fatalf("first UpsertUser: %v", err)
	}
	if err := UpsertUser(db, models.RegisteredUser{UserID: "U1", Name: "Alice Smith", Manager: "Bob", Role: models.RoleEmployeeReviewer}); err != nil {
		t.Fatalf("second UpsertUser: %v", err)
	}

	users, err := ListUsers(db)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("len(users) = %d, want 1", len(users))
	}
	if users[0].Name != "Alice Smith" {
		t.Errorf("Name = %q, want %q", users[0].Name, "Alice Smith")
	}
	if users[0].Manager != "Bob" {
		t.Errorf("Manager = %q, want %q", users[0].Manager, "Bob")
	}
	if users[0].Role != models.RoleEmployeeReviewer {
		t.Errorf("Role = %d, want %d", users[0].Role, models.RoleEmployeeReviewer)
	}
}

func TestCreateDatabase_SQLiteNoop(t *testing.T) {
	cfg := config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "x.db")}
	if err := CreateDatabase(cfg); err != nil {
		t.Fatalf("CreateDatabase: %v", err)
	}
}
