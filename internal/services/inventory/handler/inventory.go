package handler

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"invictos-system/internal/api"
	"invictos-system/internal/database/models"
)

const (
	PRODUCT_LIST_CACHE_KEY = "inventory:products"
	CACHE_TTL_SHORT        = 5 * time.Minute

	// LOW_STOCK_THRESHOLD is the default stock level at or below which a
	// product shows up in the restock report.
	LOW_STOCK_THRESHOLD = 5
)

type InventoryHandler struct {
	db    *gorm.DB
	redis *redis.Client
}

func NewInventoryHandler(db *gorm.DB, rdb *redis.Client) *InventoryHandler {
	return &InventoryHandler{db: db, redis: rdb}
}

func (h *InventoryHandler) invalidateProductCache(ctx context.Context) {
	if h.redis == nil {
		return
	}
	_ = h.redis.Del(ctx, PRODUCT_LIST_CACHE_KEY)
}

// validMoney accepts a non-negative amount with at most two decimals.
func validMoney(raw string) (string, bool) {
	d, err := decimal.NewFromString(raw)
	if err != nil || d.IsNegative() {
		return "", false
	}
	return d.StringFixed(2), true
}

// --- Products ---

type productRequest struct {
	Code        string  `json:"code" binding:"required"`
	Name        string  `json:"name" binding:"required"`
	Category    string  `json:"category" binding:"required"`
	Provider    string  `json:"provider" binding:"required"`
	Price       string  `json:"price" binding:"required"`
	Cost        string  `json:"cost" binding:"required"`
	Stock       int32   `json:"stock"`
	Description *string `json:"description"`
}

func (h *InventoryHandler) CreateProduct(c *gin.Context) {
	var req productRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.Error("code, name, category, provider, price and cost are required"))
		return
	}

	price, ok := validMoney(req.Price)
	if !ok {
		c.JSON(http.StatusBadRequest, api.Error("price must be a non-negative amount"))
		return
	}
	cost, ok := validMoney(req.Cost)
	if !ok {
		c.JSON(http.StatusBadRequest, api.Error("cost must be a non-negative amount"))
		return
	}
	if req.Stock < 0 {
		c.JSON(http.StatusBadRequest, api.Error("stock cannot be negative"))
		return
	}

	ctx := c.Request.Context()

	var count int64
	if err := h.db.WithContext(ctx).Model(&models.Product{}).Where("code = ?", req.Code).Count(&count).Error; err != nil {
		c.JSON(http.StatusInternalServerError, api.Error("Failed to check product code"))
		return
	}
	if count > 0 {
		c.JSON(http.StatusConflict, api.Error("A product with this code already exists"))
		return
	}

	product := models.Product{
		ID:          uuid.New().String(),
		Code:        req.Code,
		Name:        req.Name,
		Category:    req.Category,
		Provider:    req.Provider,
		Price:       price,
		Cost:        cost,
		Stock:       req.Stock,
		Description: req.Description,
	}
	if err := h.db.WithContext(ctx).Create(&product).Error; err != nil {
		c.JSON(http.StatusInternalServerError, api.Error("Failed to create product"))
		return
	}

	h.invalidateProductCache(ctx)
	c.JSON(http.StatusCreated, api.Success("Product created", product))
}

func (h *InventoryHandler) ListProducts(c *gin.Context) {
	ctx := c.Request.Context()

	// Filtered queries bypass the cache; only the full list is cached.
	category := c.Query("category")
	search := c.Query("q")

	if h.redis != nil && category == "" && search == "" {
		if cached, err := h.redis.Get(ctx, PRODUCT_LIST_CACHE_KEY).Result(); err == nil {
			var products []models.Product
			if json.Unmarshal([]byte(cached), &products) == nil {
				c.JSON(http.StatusOK, api.SuccessWithMeta("Products retrieved", products, gin.H{"cached": true}))
				return
			}
		}
	}

	query := h.db.WithContext(ctx).Order("name")
	if category != "" {
		query = query.Where("category = ?", category)
	}
	if search != "" {
		like := "%" + search + "%"
		query = query.Where("name LIKE ? OR code LIKE ?", like, like)
	}

	var products []models.Product
	if err := query.Find(&products).Error; err != nil {
		c.JSON(http.StatusInternalServerError, api.Error("Failed to list products"))
		return
	}

	if h.redis != nil && category == "" && search == "" {
		if data, err := json.Marshal(products); err == nil {
			_ = h.redis.Set(ctx, PRODUCT_LIST_CACHE_KEY, data, CACHE_TTL_SHORT)
		}
	}
	c.JSON(http.StatusOK, api.Success("Products retrieved", products))
}

func (h *InventoryHandler) GetProduct(c *gin.Context) {
	var product models.Product
	if err := h.db.WithContext(c.Request.Context()).First(&product, "id = ?", c.Param("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, api.Error("Product not found"))
			return
		}
		c.JSON(http.StatusInternalServerError, api.Error("Failed to load product"))
		return
	}
	c.JSON(http.StatusOK, api.Success("Product retrieved", product))
}

type updateProductRequest struct {
	Code        *string `json:"code"`
	Name        *string `json:"name"`
	Category    *string `json:"category"`
	Provider    *string `json:"provider"`
	Price       *string `json:"price"`
	Cost        *string `json:"cost"`
	Description *string `json:"description"`
}

func (h *InventoryHandler) UpdateProduct(c *gin.Context) {
	ctx := c.Request.Context()

	var product models.Product
	if err := h.db.WithContext(ctx).First(&product, "id = ?", c.Param("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, api.Error("Product not found"))
			return
		}
		c.JSON(http.StatusInternalServerError, api.Error("Failed to load product"))
		return
	}

	var req updateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.Error("Invalid request body"))
		return
	}

	if req.Code != nil && *req.Code != product.Code {
		var count int64
		if err := h.db.WithContext(ctx).Model(&models.Product{}).
			Where("code = ? AND id <> ?", *req.Code, product.ID).Count(&count).Error; err != nil {
			c.JSON(http.StatusInternalServerError, api.Error("Failed to check product code"))
			return
		}
		if count > 0 {
			c.JSON(http.StatusConflict, api.Error("A product with this code already exists"))
			return
		}
		product.Code = *req.Code
	}
	if req.Name != nil {
		product.Name = *req.Name
	}
	if req.Category != nil {
		product.Category = *req.Category
	}
	if req.Provider != nil {
		product.Provider = *req.Provider
	}
	if req.Price != nil {
		price, ok := validMoney(*req.Price)
		if !ok {
			c.JSON(http.StatusBadRequest, api.Error("price must be a non-negative amount"))
			return
		}
		product.Price = price
	}
	if req.Cost != nil {
		cost, ok := validMoney(*req.Cost)
		if !ok {
			c.JSON(http.StatusBadRequest, api.Error("cost must be a non-negative amount"))
			return
		}
		product.Cost = cost
	}
	if req.Description != nil {
		product.Description = req.Description
	}

	if err := h.db.WithContext(ctx).Save(&product).Error; err != nil {
		c.JSON(http.StatusInternalServerError, api.Error("Failed to update product"))
		return
	}

	h.invalidateProductCache(ctx)
	c.JSON(http.StatusOK, api.Success("Product updated", product))
}

func (h *InventoryHandler) DeleteProduct(c *gin.Context) {
	tx := h.db.WithContext(c.Request.Context()).Delete(&models.Product{}, "id = ?", c.Param("id"))
	if tx.Error != nil {
		c.JSON(http.StatusInternalServerError, api.Error("Failed to delete product"))
		return
	}
	if tx.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, api.Error("Product not found"))
		return
	}

	h.invalidateProductCache(c.Request.Context())
	c.JSON(http.StatusOK, api.Success("Product deleted", gin.H{"id": c.Param("id")}))
}

type adjustStockRequest struct {
	// Delta is added to the current stock; negative values remove units.
	Delta int32 `json:"delta" binding:"required"`
}

// AdjustStock applies a relative stock change atomically. Removals that
// would drive the stock negative are rejected.
func (h *InventoryHandler) AdjustStock(c *gin.Context) {
	var req adjustStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.Error("delta is required and must be non-zero"))
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")

	query := h.db.WithContext(ctx).Model(&models.Product{}).Where("id = ?", id)
	if req.Delta < 0 {
		query = query.Where("stock >= ?", -req.Delta)
	}
	tx := query.Update("stock", gorm.Expr("stock + ?", req.Delta))
	if tx.Error != nil {
		c.JSON(http.StatusInternalServerError, api.Error("Failed to adjust stock"))
		return
	}
	if tx.RowsAffected == 0 {
		var count int64
		h.db.WithContext(ctx).Model(&models.Product{}).Where("id = ?", id).Count(&count)
		if count == 0 {
			c.JSON(http.StatusNotFound, api.Error("Product not found"))
			return
		}
		c.JSON(http.StatusConflict, api.Error("Insufficient stock for this adjustment"))
		return
	}

	var product models.Product
	if err := h.db.WithContext(ctx).First(&product, "id = ?", id).Error; err != nil {
		c.JSON(http.StatusInternalServerError, api.Error("Failed to load product"))
		return
	}

	h.invalidateProductCache(ctx)
	c.JSON(http.StatusOK, api.Success("Stock adjusted", product))
}

// LowStock lists products at or below the restock threshold, most
// depleted first.
func (h *InventoryHandler) LowStock(c *gin.Context) {
	threshold := int64(LOW_STOCK_THRESHOLD)
	if raw := c.Query("threshold"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, api.Error("threshold must be a non-negative integer"))
			return
		}
		threshold = parsed
	}

	var products []models.Product
	if err := h.db.WithContext(c.Request.Context()).
		Where("stock <= ?", threshold).
		Order("stock, name").
		Find(&products).Error; err != nil {
		c.JSON(http.StatusInternalServerError, api.Error("Failed to list low stock products"))
		return
	}
	c.JSON(http.StatusOK, api.SuccessWithMeta("Low stock products retrieved", products, gin.H{"threshold": threshold}))
}

// ExportCSV streams the full catalog as a CSV download.
func (h *InventoryHandler) ExportCSV(c *gin.Context) {
	var products []models.Product
	if err := h.db.WithContext(c.Request.Context()).Order("name").Find(&products).Error; err != nil {
		c.JSON(http.StatusInternalServerError, api.Error("Failed to export inventory"))
		return
	}

	filename := fmt.Sprintf("inventario_%s.csv", time.Now().Format("2006-01-02"))
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", "attachment; filename="+filename)

	w := csv.NewWriter(c.Writer)
	_ = w.Write([]string{"Codigo", "Producto", "Categoria", "Proveedor", "Costo", "Precio", "Stock", "Descripcion"})
	for _, p := range products {
		desc := ""
		if p.Description != nil {
			desc = *p.Description
		}
		_ = w.Write([]string{
			p.Code, p.Name, p.Category, p.Provider,
			p.Cost, p.Price, strconv.FormatInt(int64(p.Stock), 10), desc,
		})
	}
	w.Flush()
}

// --- Categories ---

type nameRequest struct {
	Name string `json:"name" binding:"required"`
}

func (h *InventoryHandler) CreateCategory(c *gin.Context) {
	var req nameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.Error("name is required"))
		return
	}

	category := models.Category{ID: uuid.New().String(), Name: req.Name}
	if err := h.db.WithContext(c.Request.Context()).Create(&category).Error; err != nil {
		c.JSON(http.StatusConflict, api.Error("A category with this name already exists"))
		return
	}
	c.JSON(http.StatusCreated, api.Success("Category created", category))
}

func (h *InventoryHandler) ListCategories(c *gin.Context) {
	var categories []models.Category
	if err := h.db.WithContext(c.Request.Context()).Order("name").Find(&categories).Error; err != nil {
		c.JSON(http.StatusInternalServerError, api.Error("Failed to list categories"))
		return
	}
	c.JSON(http.StatusOK, api.Success("Categories retrieved", categories))
}

func (h *InventoryHandler) DeleteCategory(c *gin.Context) {
	tx := h.db.WithContext(c.Request.Context()).Delete(&models.Category{}, "id = ?", c.Param("id"))
	if tx.Error != nil {
		c.JSON(http.StatusInternalServerError, api.Error("Failed to delete category"))
		return
	}
	if tx.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, api.Error("Category not found"))
		return
	}
	c.JSON(http.StatusOK, api.Success("Category deleted", gin.H{"id": c.Param("id")}))
}

// --- Providers ---

type providerRequest struct {
	Name    string  `json:"name" binding:"required"`
	Contact *string `json:"contact"`
}

func (h *InventoryHandler) CreateProvider(c *gin.Context) {
	var req providerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.Error("name is required"))
		return
	}

	provider := models.Provider{ID: uuid.New().String(), Name: req.Name, Contact: req.Contact}
	if err := h.db.WithContext(c.Request.Context()).Create(&provider).Error; err != nil {
		c.JSON(http.StatusInternalServerError, api.Error("Failed to create provider"))
		return
	}
	c.JSON(http.StatusCreated, api.Success("Provider created", provider))
}

func (h *InventoryHandler) ListProviders(c *gin.Context) {
	var providers []models.Provider
	if err := h.db.WithContext(c.Request.Context()).Order("name").Find(&providers).Error; err != nil {
		c.JSON(http.StatusInternalServerError, api.Error("Failed to list providers"))
		return
	}
	c.JSON(http.StatusOK, api.Success("Providers retrieved", providers))
}

func (h *InventoryHandler) DeleteProvider(c *gin.Context) {
	tx := h.db.WithContext(c.Request.Context()).Delete(&models.Provider{}, "id = ?", c.Param("id"))
	if tx.Error != nil {
		c.JSON(http.StatusInternalServerError, api.Error("Failed to delete provider"))
		return
	}
	if tx.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, api.Error("Provider not found"))
		return
	}
	c.JSON(http.StatusOK, api.Success("Provider deleted", gin.H{"id": c.Param("id")}))
}
