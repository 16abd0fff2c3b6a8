package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"storefront/internal/config"
	"storefront/internal/database"
	"storefront/internal/domain"
	"storefront/internal/logger"
	"storefront/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// seedProduct is one entry of the products JSON file.
type seedProduct struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	SKU         string          `json:"sku"`
	ImageURL    string          `json:"image_url"`
	Stock       int             `json:"stock"`
	Inactive    bool            `json:"inactive"`
}

func loadProducts(path string, now time.Time) ([]*domain.Product, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var entries []seedProduct
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	products := make([]*domain.Product, 0, len(entries))
	for i, e := range entries {
		if e.Name == "" || e.Stock < 0 || e.Price.IsNegative() {
			return nil, fmt.Errorf("product %d: name is required and price and stock must not be negative", i)
		}
		products = append(products, &domain.Product{
			ID:          uuid.New(),
			Name:        e.Name,
			Description: e.Description,
			Price:       e.Price,
			SKU:         e.SKU,
			ImageURL:    e.ImageURL,
			Stock:       e.Stock,
			IsActive:    !e.Inactive,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	return products, nil
}

func main() {
	file := flag.String("file", "products.json", "JSON file with the products to create")
	flag.Parse()

	cfg := config.Load()

	log, err := logger.New(cfg.Server.Env, cfg.Server.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	products, err := loadProducts(*file, time.Now().UTC())
	if err != nil {
		log.Fatal("Failed to load products", zap.Error(err))
	}

	ctx := context.Background()
	dbService, err := database.New(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer dbService.Close()

	if err := database.RunMigrations(dbService.DB(), "migrations", log); err != nil {
		log.Fatal("Failed to run migrations", zap.Error(err))
	}

	store := repository.NewStore(dbService.DB(), log, cfg.Checkout.MaxRetries)
	err = store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		for _, p := range products {
			if err := repos.Products.Create(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Fatal("Failed to create products", zap.Error(err))
	}

	log.Info("Products created", zap.Int("count", len(products)))
}
