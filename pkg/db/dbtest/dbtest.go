// Package dbtest opens throwaway in-memory sqlite databases with the
// reconciliation schema for package tests.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/peptidecrm-backend/pkg/db/models"
)

// contactIdentityIndexes mirror the partial unique indexes of the contacts
// migration, which AutoMigrate cannot express.
var contactIdentityIndexes = []string{
	"CREATE UNIQUE INDEX IF NOT EXISTS uq_contacts_org_email ON contacts (org_id, lower(email)) WHERE email IS NOT NULL",
	"CREATE UNIQUE INDEX IF NOT EXISTS uq_contacts_org_external_customer ON contacts (org_id, external_customer_id) WHERE external_customer_id IS NOT NULL",
}

// New returns a fresh database migrated with every reconciliation model. Each
// call gets its own named in-memory database.
func New(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(
		&models.Organization{},
		&models.Contact{},
		&models.Peptide{},
		&models.Lot{},
		&models.SalesOrder{},
		&models.SalesOrderItem{},
		&models.TenantPricing{},
	); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	for _, stmt := range contactIdentityIndexes {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("index contacts: %v", err)
		}
	}

	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn
}

// Seed inserts records or fails the test.
func Seed(t testing.TB, conn *gorm.DB, records ...any) {
	t.Helper()
	for _, record := range records {
		if err := conn.Create(record).Error; err != nil {
			t.Fatalf("seed %T: %v", record, err)
		}
	}
}
