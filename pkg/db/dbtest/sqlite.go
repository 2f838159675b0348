// Package dbtest opens isolated in-memory sqlite databases carrying the
// service schema, for repository and service tests.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var schema = []string{`
CREATE TABLE products (
  id TEXT PRIMARY KEY,
  tailor_id TEXT NOT NULL,
  title TEXT NOT NULL,
  description TEXT,
  price_cents INTEGER NOT NULL,
  currency TEXT NOT NULL DEFAULT 'USD',
  is_active BOOLEAN NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE TABLE carts (
  id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL,
  version INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME,
  CONSTRAINT ux_carts_owner UNIQUE (owner_id)
);`, `
CREATE TABLE cart_items (
  id TEXT PRIMARY KEY,
  cart_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  quantity INTEGER NOT NULL CHECK (quantity >= 1),
  unit_price_cents INTEGER NOT NULL,
  fabric_choice TEXT,
  notes TEXT,
  measurement_session_id TEXT,
  position INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE TABLE orders (
  id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL,
  status TEXT NOT NULL,
  total_cents INTEGER NOT NULL,
  platform_fee_cents INTEGER NOT NULL,
  tailor_amount_cents INTEGER NOT NULL,
  currency TEXT NOT NULL,
  gateway_session_ref TEXT,
  session_expires_at DATETIME,
  payment_intent_ref TEXT,
  shipping_address TEXT NOT NULL,
  shipping_method TEXT NOT NULL,
  notes TEXT,
  tracking_ref TEXT,
  carrier TEXT,
  measurement_session_id TEXT,
  checkout_key TEXT NOT NULL,
  cart_id TEXT,
  cancel_reason TEXT,
  version INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME,
  paid_at DATETIME,
  shipped_at DATETIME,
  completed_at DATETIME,
  cancelled_at DATETIME,
  CONSTRAINT ck_orders_split CHECK (platform_fee_cents + tailor_amount_cents = total_cents),
  CONSTRAINT ck_orders_shipped_tracking CHECK (status NOT IN ('shipped','delivered') OR tracking_ref IS NOT NULL)
);`, `
CREATE UNIQUE INDEX ux_orders_gateway_session_ref ON orders (gateway_session_ref) WHERE gateway_session_ref IS NOT NULL;`, `
CREATE UNIQUE INDEX ux_orders_pending_checkout ON orders (owner_id, checkout_key) WHERE status = 'pending' AND gateway_session_ref IS NULL;`, `
CREATE TABLE order_items (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  tailor_id TEXT NOT NULL,
  title TEXT NOT NULL,
  description TEXT,
  quantity INTEGER NOT NULL,
  unit_price_cents INTEGER NOT NULL,
  subtotal_cents INTEGER NOT NULL,
  fabric_choice TEXT,
  notes TEXT,
  measurement_session_id TEXT,
  position INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME
);`, `
CREATE TABLE order_transitions (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  from_status TEXT,
  to_status TEXT NOT NULL,
  trigger_source TEXT NOT NULL,
  actor_id TEXT,
  gateway_event_id TEXT,
  reason TEXT,
  created_at DATETIME
);`, `
CREATE TABLE outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload BLOB NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`, `
CREATE TABLE outbox_dlq (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload_json BLOB NOT NULL,
  error_reason TEXT NOT NULL,
  error_message TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  failed_at DATETIME
);`, `
CREATE UNIQUE INDEX ux_outbox_dlq_event ON outbox_dlq (event_id);`,
}

// Schema returns the statements Open applies, so tests can check them
// against the goose migrations.
func Schema() []string {
	out := make([]string, len(schema))
	copy(out, schema)
	return out
}

// Open returns a fresh in-memory database with the full schema applied.
// A single connection is used so every query observes the same transaction state.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return conn
}
