package payments

import (
	"path/filepath"
	"testing"

	"github.com/consultly/consultly/app/models"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB opens an isolated SQLite database in the test's temp dir. A file
// DB (instead of :memory:) keeps the connection pool pointed at one store
// and lets concurrent writers serialize via the busy timeout.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "payments_test.db") +
		"?_busy_timeout=10000&_txlock=immediate"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Client{},
		&models.Order{},
		&models.Payout{},
		&models.PayoutLineItem{},
		&models.PaymentWebhookEvent{},
	))
	return db
}

func seedConsultant(t *testing.T, db *gorm.DB, email, status string) *models.User {
	t.Helper()

	u := &models.User{
		Email:  email,
		Name:   "Test Consultant",
		Role:   models.ROLE_CONSULTANT,
		Status: status,
	}
	require.NoError(t, db.Create(u).Error)
	return u
}

func countRows(t *testing.T, db *gorm.DB, model interface{}) int64 {
	t.Helper()

	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}
