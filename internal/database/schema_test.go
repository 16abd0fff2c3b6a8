package database

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const migrationsDir = "../../migrations"

func readMigration(t *testing.T, name string) string {
	t.Helper()
	content, err := os.ReadFile(filepath.Join(migrationsDir, name))
	if err != nil {
		t.Fatalf("Failed to read migration %s: %v", name, err)
	}
	return string(content)
}

// Feature: storefront-api, Property 21: Pending migrations are executed
func TestMigrationFilesExist(t *testing.T) {
	if _, err := os.Stat(migrationsDir); os.IsNotExist(err) {
		t.Fatal("Migrations directory does not exist")
	}

	expectedMigrations := []string{
		"00001_create_products_table.sql",
		"00002_create_carts_table.sql",
		"00003_create_cart_items_table.sql",
		"00004_create_stock_reservations_table.sql",
		"00005_create_orders_table.sql",
		"00006_create_order_items_table.sql",
		"00007_create_updated_at_trigger.sql",
	}

	for _, migration := range expectedMigrations {
		path := filepath.Join(migrationsDir, migration)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			t.Errorf("Migration file %s does not exist", migration)
		}
	}
}

func TestMigrationFilesHaveUpAndDown(t *testing.T) {
	files, err := os.ReadDir(migrationsDir)
	if err != nil {
		t.Fatalf("Failed to read migrations directory: %v", err)
	}

	sqlFileCount := 0
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".sql") {
			continue
		}

		sqlFileCount++
		contentStr := readMigration(t, file.Name())

		for _, directive := range []string{
			"-- +goose Up",
			"-- +goose Down",
			"-- +goose StatementBegin",
			"-- +goose StatementEnd",
		} {
			if !strings.Contains(contentStr, directive) {
				t.Errorf("Migration file %s missing '%s' directive", file.Name(), directive)
			}
		}
	}

	if sqlFileCount == 0 {
		t.Error("No SQL migration files found")
	}
}

func TestMigrationFilesCreateExpectedTables(t *testing.T) {
	expectedTables := map[string]string{
		"products":           "00001_create_products_table.sql",
		"carts":              "00002_create_carts_table.sql",
		"cart_items":         "00003_create_cart_items_table.sql",
		"stock_reservations": "00004_create_stock_reservations_table.sql",
		"orders":             "00005_create_orders_table.sql",
		"order_items":        "00006_create_order_items_table.sql",
	}

	for tableName, migrationFile := range expectedTables {
		contentStr := readMigration(t, migrationFile)

		if !strings.Contains(contentStr, "CREATE TABLE IF NOT EXISTS "+tableName+" (") {
			t.Errorf("Migration file %s does not create table %s", migrationFile, tableName)
		}
		if !strings.Contains(contentStr, "DROP TABLE IF EXISTS "+tableName+";") {
			t.Errorf("Migration file %s does not drop table %s in down section", migrationFile, tableName)
		}
	}
}

func TestProductsTableHasRequiredColumns(t *testing.T) {
	contentStr := readMigration(t, "00001_create_products_table.sql")

	requiredColumns := []string{
		"id UUID PRIMARY KEY",
		"name VARCHAR",
		"price DECIMAL",
		"stock INTEGER",
		"CHECK (stock >= 0)",
		"is_active BOOLEAN",
		"created_at TIMESTAMPTZ",
		"updated_at TIMESTAMPTZ",
	}

	for _, column := range requiredColumns {
		if !strings.Contains(contentStr, column) {
			t.Errorf("Products table missing required column definition: %s", column)
		}
	}
}

func TestStockReservationsTableConstraints(t *testing.T) {
	contentStr := readMigration(t, "00004_create_stock_reservations_table.sql")

	// One hold per (cart, product); a hold must outlive its creation.
	for _, want := range []string{
		"UNIQUE (cart_id, product_id)",
		"CHECK (quantity > 0)",
		"CHECK (expires_at > created_at)",
		"REFERENCES carts(id) ON DELETE CASCADE",
		"REFERENCES products(id)",
		"ON stock_reservations (product_id, expires_at)",
	} {
		if !strings.Contains(contentStr, want) {
			t.Errorf("stock_reservations migration missing %q", want)
		}
	}
}

func TestCartTablesHaveUniqueConstraints(t *testing.T) {
	if !strings.Contains(readMigration(t, "00002_create_carts_table.sql"), "UNIQUE (user_id)") {
		t.Error("Carts table missing unique constraint on user_id")
	}

	items := readMigration(t, "00003_create_cart_items_table.sql")
	if !strings.Contains(items, "UNIQUE (cart_id, product_id)") {
		t.Error("Cart items table missing unique constraint on (cart_id, product_id)")
	}
	if !strings.Contains(items, "ON DELETE CASCADE") {
		t.Error("Cart items are not removed with their cart")
	}
}

func TestOrdersTableHasStatusConstraint(t *testing.T) {
	contentStr := readMigration(t, "00005_create_orders_table.sql")

	for _, status := range []string{"pending", "confirmed", "shipped", "delivered", "cancelled"} {
		if !strings.Contains(contentStr, "'"+status+"'") {
			t.Errorf("Orders table status constraint missing value: %s", status)
		}
	}
}

func TestUpdatedAtTriggerCoversMutableTables(t *testing.T) {
	contentStr := readMigration(t, "00007_create_updated_at_trigger.sql")

	for _, table := range []string{"products", "orders"} {
		if !strings.Contains(contentStr, "BEFORE UPDATE ON "+table) {
			t.Errorf("updated_at trigger missing for %s", table)
		}
	}
	if !strings.Contains(contentStr, "DROP FUNCTION IF EXISTS set_updated_at()") {
		t.Error("Down section does not drop set_updated_at")
	}
}
