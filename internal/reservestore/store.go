// Package reservestore is the durable bootstrap cache for
// protocoldata.Cache (spec §4.B): reserve configuration is immutable for a
// run, so it is safe — and useful — to persist the last known-good
// snapshot across restarts and seed a fresh ProtocolDataCache from it at
// startup. LoadInto is the only path that fills that cache; reserve
// configuration is not re-fetched from the chain. This is not the "persistent storage of history" spec §1's
// Non-goals exclude — that term covers HF/attempt history, which stays
// in-memory only (pkg/riskset, pkg/history).
//
// Grounded on the teacher's own internal/db/transaction_recorder.go: same
// gorm.Open/AutoMigrate/Transaction shape, generalized from one
// append-only snapshot table to a replace-on-bootstrap reserve table.
package reservestore

import (
	"fmt"
	"time"

	glebarezsqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/onchainops/liquidator/pkg/domain"
	"github.com/onchainops/liquidator/pkg/protocoldata"
)

// Driver selects the backing SQL dialect. MySQL for production (matching
// the teacher's own stack); SQLite (pure-Go, via glebarez/sqlite) for
// local development and tests, avoiding a live MySQL dependency.
type Driver string

const (
	DriverMySQL  Driver = "mysql"
	DriverSQLite Driver = "sqlite"
)

// reserveRecord persists one ProtocolDataCache entry.
type reserveRecord struct {
	Underlying               string `gorm:"primaryKey;type:varchar(42)"`
	Decimals                 uint8  `gorm:"not null"`
	LiquidationBonusBps      uint16 `gorm:"not null"`
	IsCollateralEnabled      bool   `gorm:"not null"`
	IsBorrowEnabled          bool   `gorm:"not null"`
	VariableDebtTokenAddress string `gorm:"type:varchar(42);not null"`
	ATokenAddress            string `gorm:"type:varchar(42);not null"`
	PriceFeedHandle          string `gorm:"type:varchar(42);not null"`
	UpdatedAt                time.Time `gorm:"autoUpdateTime"`
}

func (reserveRecord) TableName() string { return "reserve_configs" }

// Store wraps a GORM connection holding the persisted reserve snapshot.
type Store struct {
	db *gorm.DB
}

// Open connects with the given driver/dsn and migrates the schema.
// dsn for mysql: "user:password@tcp(host:port)/dbname?parseTime=True".
// dsn for sqlite: a file path, or ":memory:" for tests.
func Open(driver Driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverMySQL:
		dialector = mysql.Open(dsn)
	case DriverSQLite:
		dialector = glebarezsqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("reservestore: unknown driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("reservestore: connect: %w", err)
	}
	return OpenWithDB(db)
}

// OpenWithDB wraps an already-connected *gorm.DB (dependency injection for
// tests, or a DB shared with other recorders).
func OpenWithDB(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&reserveRecord{}); err != nil {
		return nil, fmt.Errorf("reservestore: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// SaveAll replaces the persisted snapshot with the cache's current reserve
// set in one transaction (spec §4.B: the cache is "populated once on
// startup" — a save is a full bootstrap snapshot, never an incremental
// patch).
func (s *Store) SaveAll(reserves []domain.Reserve) error {
	records := make([]reserveRecord, 0, len(reserves))
	for _, r := range reserves {
		records = append(records, toRecord(r))
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&reserveRecord{}).Error; err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		return tx.Create(&records).Error
	})
}

// LoadInto seeds cache from the last persisted snapshot and returns how
// many reserves were loaded.
func (s *Store) LoadInto(cache *protocoldata.Cache) (int, error) {
	var records []reserveRecord
	if err := s.db.Find(&records).Error; err != nil {
		return 0, fmt.Errorf("reservestore: load: %w", err)
	}
	for _, rec := range records {
		// rawBonusBps = bonus+10000 always takes Put's ">10000" branch and
		// recomputes the same bonus, so the fallback-vs-raw distinction at
		// the original Put call is lossless across a save/load round trip.
		cache.Put(
			domain.Address(rec.Underlying),
			rec.Decimals,
			uint32(rec.LiquidationBonusBps)+10000,
			rec.IsCollateralEnabled,
			rec.IsBorrowEnabled,
			domain.Address(rec.VariableDebtTokenAddress),
			domain.Address(rec.ATokenAddress),
			domain.Address(rec.PriceFeedHandle),
		)
	}
	return len(records), nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRecord(r domain.Reserve) reserveRecord {
	return reserveRecord{
		Underlying:               string(r.Underlying),
		Decimals:                 r.Decimals,
		LiquidationBonusBps:      r.LiquidationBonusBps,
		IsCollateralEnabled:      r.IsCollateralEnabled,
		IsBorrowEnabled:          r.IsBorrowEnabled,
		VariableDebtTokenAddress: string(r.VariableDebtTokenAddress),
		ATokenAddress:            string(r.ATokenAddress),
		PriceFeedHandle:          string(r.PriceFeedHandle),
	}
}
