// Package main provides a CLI tool for seeding the database with a demo
// pharmacy catalogue and stock.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"pharmapos/internal/app"
	"pharmapos/internal/config"
	"pharmapos/internal/core/apperror"
	appctx "pharmapos/internal/core/context"
	"pharmapos/internal/core/types"
	"pharmapos/internal/domain/auth"
	"pharmapos/internal/domain/inventory"
	"pharmapos/pkg/logger"
)

type seedBatch struct {
	number string
	qty    int64
	months int // expiry, months from now
	cost   types.MinorUnits
}

type seedProduct struct {
	inventory.NewProduct
	batches []seedBatch
}

func wholesale(v types.MinorUnits) *types.MinorUnits { return &v }

var catalogue = []seedProduct{
	{
		NewProduct: inventory.NewProduct{Name: "Paracetamol 500mg", SKU: "PARA-500", Category: "analgesic", Unit: "strip", UnitPrice: 350, WholesalePrice: wholesale(300), ReorderLevel: 20},
		batches:    []seedBatch{{"PA-2401", 40, 4, 180}, {"PA-2407", 120, 14, 175}},
	},
	{
		NewProduct: inventory.NewProduct{Name: "Ibuprofen 200mg", SKU: "IBU-200", Category: "analgesic", Unit: "strip", UnitPrice: 480, ReorderLevel: 15},
		batches:    []seedBatch{{"IB-2403", 60, 8, 260}},
	},
	{
		NewProduct: inventory.NewProduct{Name: "Amoxicillin 250mg", SKU: "AMOX-250", Category: "antibiotic", Unit: "box", UnitPrice: 1250, WholesalePrice: wholesale(1100), ReorderLevel: 10},
		batches:    []seedBatch{{"AM-2312", 12, 2, 700}, {"AM-2405", 30, 11, 690}},
	},
	{
		NewProduct: inventory.NewProduct{Name: "Cetirizine 10mg", SKU: "CET-10", Category: "antihistamine", Unit: "strip", UnitPrice: 220, ReorderLevel: 10},
		batches:    []seedBatch{{"CE-2402", 50, 18, 90}},
	},
	{
		NewProduct: inventory.NewProduct{Name: "Oral Rehydration Salts", SKU: "ORS-1", Category: "electrolyte", Unit: "sachet", UnitPrice: 90, ReorderLevel: 50},
		batches:    []seedBatch{{"OR-2406", 200, 24, 40}},
	},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       "info",
		Development: true,
	})
	if err != nil {
		fmt.Printf("failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(log)

	if cfg.StorageBackend != config.BackendPostgres {
		log.Fatal("seeding needs STORAGE_BACKEND=postgres")
	}

	ctx := appctx.WithUser(context.Background(), &appctx.UserContext{UserID: "seed", IsAdmin: true})

	backend, err := app.Open(ctx, cfg, app.Options{})
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer backend.Close()

	log.Info("connected to database")

	created, skipped := 0, 0
	for _, sp := range catalogue {
		ok, err := seed(ctx, backend.Inventory, sp)
		if err != nil {
			log.Fatalw("failed to seed product", "sku", sp.SKU, "error", err)
		}
		if ok {
			created++
		} else {
			skipped++
		}
	}
	log.Infow("catalogue seeded", "created", created, "skipped", skipped)

	if cfg.JWTSecret != "" {
		jwtService := auth.NewJWTService(auth.DefaultJWTConfig(cfg.JWTSecret))
		token, expires, err := jwtService.GenerateAccessToken(appctx.UserContext{
			UserID:  "admin",
			Name:    "Administrator",
			IsAdmin: true,
		})
		if err != nil {
			log.Fatalw("failed to mint admin token", "error", err)
		}
		fmt.Printf("admin token (expires %s):\n%s\n", expires.Format(time.RFC3339), token)
	}

	log.Info("seeding completed successfully")
}

// seed creates the product with its batches. An existing SKU is left untouched.
func seed(ctx context.Context, inv *inventory.Service, sp seedProduct) (bool, error) {
	p, err := inv.CreateProduct(ctx, sp.NewProduct)
	if apperror.IsDuplicate(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	now := time.Now().UTC()
	for _, b := range sp.batches {
		expiry := time.Date(now.Year(), now.Month()+time.Month(b.months), 1, 0, 0, 0, 0, time.UTC)
		_, _, err := inv.ReceiveBatch(ctx, inventory.ReceiveBatchInput{
			ProductID:   p.ID,
			BatchNumber: b.number,
			ExpiryDate:  &expiry,
			Quantity:    b.qty,
			UnitCost:    b.cost,
			Actor:       "seed",
		})
		if err != nil {
			return false, fmt.Errorf("receive batch %s: %w", b.number, err)
		}
	}
	return true, nil
}
