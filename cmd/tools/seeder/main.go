package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping DB: %v", err)
	}

	saleID := seedFlashSales(db)
	seedPromotions(db, saleID)

	log.Println("Seeding completed successfully!")
}

func seedFlashSales(db *sql.DB) uuid.UUID {
	fmt.Println("Seeding Flash Sales...")
	saleID := uuid.New()
	now := time.Now().UTC()
	_, err := db.Exec(`
		INSERT INTO flash_sales (id, name, product_ids, discount_percent, start_time, end_time, max_quantity, is_active)
		VALUES ($1, 'Weekend Flash Sale', ARRAY[$2, $3]::uuid[], 30, $4, $5, 500, TRUE)
		ON CONFLICT (id) DO NOTHING;
	`, saleID, uuid.New(), uuid.New(), now.Add(-time.Hour), now.Add(48*time.Hour))
	if err != nil {
		log.Printf("Failed to seed flash sale: %v", err)
	}
	return saleID
}

func seedPromotions(db *sql.DB, saleID uuid.UUID) {
	promos := []struct {
		Code       string
		Name       string
		Kind       string
		Definition string
		FlashSale  *uuid.UUID
		MinSpend   int64
	}{
		{
			Code: "WELCOME10",
			Name: "10% off for new customers",
			Kind: "basic",
			Definition: `{
				"conditions": {"operator": "AND", "children": [
					{"field": "user.orderCount", "operator": "=", "value": 0}
				]},
				"discount": {"id": "WELCOME10", "type": "percentage", "value": 10, "priority": 5, "stackable": false}
			}`,
		},
		{
			Code: "FREESHIP50K",
			Name: "Flat 50k off orders above 500k",
			Kind: "basic",
			Definition: `{
				"conditions": {"operator": "AND", "children": [
					{"field": "order.total", "operator": ">=", "value": 50000000}
				]},
				"discount": {"id": "FREESHIP50K", "type": "fixed", "value": 5000000, "priority": 1, "stackable": true}
			}`,
			MinSpend: 50000000,
		},
		{
			Code: "BOGO-SNACKS",
			Name: "Buy 2 get 1 free on snacks",
			Kind: "bogo",
			Definition: fmt.Sprintf(`{
				"bogo": {"buyQuantity": 2, "getQuantity": 1, "discountPercent": 100,
					"applicableCategoryIds": [%q], "maxApplications": 3},
				"discount": {"id": "BOGO-SNACKS", "type": "fixed", "value": 0, "priority": 3, "stackable": false}
			}`, uuid.New()),
		},
		{
			Code: "BULK-TIERS",
			Name: "Volume pricing",
			Kind: "tiered",
			Definition: `{
				"tiers": [
					{"minQuantity": 1, "maxQuantity": 10, "pricePerUnit": 10000},
					{"minQuantity": 11, "maxQuantity": 50, "pricePerUnit": 9000},
					{"minQuantity": 51, "pricePerUnit": 8000}
				],
				"discount": {"id": "BULK-TIERS", "type": "fixed", "value": 0, "priority": 2, "stackable": false}
			}`,
		},
		{
			Code: "FLASH30",
			Name: "Weekend flash sale",
			Kind: "flash_sale",
			Definition: `{
				"exclusions": [{"type": "tag", "tags": ["gift-card"], "reason": "gift cards keep face value"}],
				"discount": {"id": "FLASH30", "type": "fixed", "value": 0, "priority": 10, "stackable": false}
			}`,
			FlashSale: &saleID,
		},
	}

	fmt.Println("Seeding Promotions...")
	for _, p := range promos {
		_, err := db.Exec(`
			INSERT INTO promotions (id, code, name, kind, definition, flash_sale_id, min_spend, is_active)
			VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, TRUE)
			ON CONFLICT (code) DO UPDATE SET definition = EXCLUDED.definition, kind = EXCLUDED.kind;
		`, uuid.New(), p.Code, p.Name, p.Kind, p.Definition, p.FlashSale, p.MinSpend)
		if err != nil {
			log.Printf("Failed to seed promotion %s: %v", p.Code, err)
		}
	}
}
