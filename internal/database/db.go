package database

import (
	"fmt"
	"log"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"invictos-system/internal/database/models"
)

func NewConnection(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		log.Fatal("DSN is required")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("failed to get sql.DB: %v", err)
	}

	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping DB: %w", err)
	}

	return db, nil
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.StoreConfig{},
		&models.Category{},
		&models.Provider{},
		&models.Product{},
		&models.Sale{},
		&models.SaleItem{},
	)
}

// Seed populates an empty database with the store's starting data: the
// owner account, two sellers, the default commission rate and the opening
// catalog. A database that already has users is left untouched.
func Seed(db *gorm.DB) error {
	var userCount int64
	if err := db.Model(&models.User{}).Count(&userCount).Error; err != nil {
		return err
	}
	if userCount > 0 {
		return nil
	}

	hash := func(pin string) string {
		h, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("failed to hash seed PIN: %v", err)
		}
		return string(h)
	}
	sellerRate := "3.00"

	users := []models.User{
		{ID: "u1", Name: "Administrador", Role: models.RoleAdmin, PinHash: hash("1234")},
		{ID: "u2", Name: "Vendedor 1", Role: models.RoleSeller, PinHash: hash("0000"), CommissionRate: &sellerRate},
		{ID: "u3", Name: "Vendedor 2", Role: models.RoleSeller, PinHash: hash("1111")},
	}
	if err := db.Create(&users).Error; err != nil {
		return err
	}

	if err := db.Create(&models.StoreConfig{ID: 1, GlobalCommissionRate: "5.00"}).Error; err != nil {
		return err
	}

	categories := []models.Category{
		{ID: "c1", Name: "Jerseys"},
		{ID: "c2", Name: "Shorts"},
		{ID: "c3", Name: "Calzado"},
		{ID: "c4", Name: "Accesorios"},
		{ID: "c5", Name: "Equipamiento"},
	}
	if err := db.Create(&categories).Error; err != nil {
		return err
	}

	providers := []models.Provider{
		{ID: "p1", Name: "Adidas Oficial"},
		{ID: "p2", Name: "Importadora Depor"},
		{ID: "p3", Name: "Nike Dist"},
		{ID: "p4", Name: "Textil Local"},
	}
	if err := db.Create(&providers).Error; err != nil {
		return err
	}

	desc := func(s string) *string { return &s }
	products := []models.Product{
		{ID: "pr1", Code: "J-ARG-24", Name: "Camiseta Seleccion Arg 2024", Category: "Jerseys", Provider: "Adidas Oficial", Price: "65000.00", Cost: "40000.00", Stock: 15, Description: desc("Titular oficial")},
		{ID: "pr2", Code: "S-RUN-01", Name: "Short Deportivo Running", Category: "Shorts", Provider: "Importadora Depor", Price: "25000.00", Cost: "12000.00", Stock: 8, Description: desc("Tela dry-fit")},
		{ID: "pr3", Code: "Z-RUN-X", Name: "Zapatillas Runner X", Category: "Calzado", Provider: "Nike Dist", Price: "120000.00", Cost: "80000.00", Stock: 4, Description: desc("Alta performance")},
		{ID: "pr4", Code: "A-SOC-03", Name: "Medias 3/4 Pack x3", Category: "Accesorios", Provider: "Textil Local", Price: "8000.00", Cost: "3000.00", Stock: 50},
		{ID: "pr5", Code: "E-BAL-PRO", Name: "Pelota Futbol Pro", Category: "Equipamiento", Provider: "Adidas Oficial", Price: "45000.00", Cost: "25000.00", Stock: 2},
	}
	return db.Create(&products).Error
}
