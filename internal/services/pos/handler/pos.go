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
	"invictos-system/internal/daterange"
)

const (
	EventSaleCreated = "sale.created"

	SALES_CHANNEL_PREFIX = "pos:events:"
	SALES_CHANNEL_ALL    = "pos:events:all"
)

type POSHandler struct {
	db    *gorm.DB
	redis *redis.Client
}

func NewPOSHandler(db *gorm.DB, rdb *redis.Client) *POSHandler {
	return &POSHandler{db: db, redis: rdb}
}

var (
	errInvalidDiscount   = errors.New("discount must be a non-negative amount")
	errInsufficientStock = errors.New("insufficient stock")
	errUnknownProduct    = errors.New("unknown product")
)

type saleItemRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int32  `json:"quantity" binding:"required"`
}

type createSaleRequest struct {
	Items []saleItemRequest `json:"items" binding:"required"`
	// Discount is either a flat amount or a percentage of the subtotal,
	// per DiscountType ("amount" when empty).
	Discount      string `json:"discount"`
	DiscountType  string `json:"discount_type"`
	PaymentMethod string `json:"payment_method" binding:"required"`
}

func validPaymentMethod(m string) bool {
	switch m {
	case models.PaymentCash, models.PaymentCard, models.PaymentTransfer:
		return true
	}
	return false
}

// resolveRate picks the seller's commission percentage: the per-account
// override when set, the store-wide default otherwise.
func (h *POSHandler) resolveRate(ctx context.Context, seller *models.User) (decimal.Decimal, error) {
	if seller.CommissionRate != nil {
		return decimal.NewFromString(*seller.CommissionRate)
	}
	var cfg models.StoreConfig
	if err := h.db.WithContext(ctx).First(&cfg, "id = ?", 1).Error; err != nil {
		return decimal.Zero, fmt.Errorf("failed to load store config: %w", err)
	}
	return decimal.NewFromString(cfg.GlobalCommissionRate)
}

// buildSale computes totals and per-line commissions and decrements stock
// inside tx. Commission amounts are frozen here; later rate or config
// changes never touch recorded lines.
func (h *POSHandler) buildSale(tx *gorm.DB, seller *models.User, req createSaleRequest, rate decimal.Decimal, now time.Time) (*models.Sale, error) {
	discountReq := decimal.Zero
	if req.Discount != "" {
		var err error
		discountReq, err = decimal.NewFromString(req.Discount)
		if err != nil || discountReq.IsNegative() {
			return nil, errInvalidDiscount
		}
	}
	switch req.DiscountType {
	case "", "amount", "percent":
	default:
		return nil, errInvalidDiscount
	}

	sale := models.Sale{
		ID:            uuid.New().String(),
		Timestamp:     now,
		SellerID:      seller.ID,
		SellerName:    seller.Name,
		PaymentMethod: req.PaymentMethod,
	}

	subtotal := decimal.Zero
	lines := make([]models.SaleItem, 0, len(req.Items))
	lineSubtotals := make([]decimal.Decimal, 0, len(req.Items))

	for _, item := range req.Items {
		var product models.Product
		if err := tx.First(&product, "id = ?", item.ProductID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("%w: %s", errUnknownProduct, item.ProductID)
			}
			return nil, err
		}

		// Guarded decrement keeps concurrent checkouts from overselling.
		res := tx.Model(&models.Product{}).
			Where("id = ? AND stock >= ?", product.ID, item.Quantity).
			Update("stock", gorm.Expr("stock - ?", item.Quantity))
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			return nil, fmt.Errorf("%w: %s", errInsufficientStock, product.Name)
		}

		price, err := decimal.NewFromString(product.Price)
		if err != nil {
			return nil, fmt.Errorf("product %s has a corrupt price: %w", product.ID, err)
		}
		lineSubtotal := price.Mul(decimal.NewFromInt32(item.Quantity))
		subtotal = subtotal.Add(lineSubtotal)
		lineSubtotals = append(lineSubtotals, lineSubtotal)

		lines = append(lines, models.SaleItem{
			ProductID:       product.ID,
			ProductName:     product.Name,
			Quantity:        item.Quantity,
			UnitPriceAtSale: price.StringFixed(2),
			LineSubtotal:    lineSubtotal.StringFixed(2),
		})
	}

	if req.DiscountType == "percent" {
		discountReq = subtotal.Mul(discountReq).Div(decimal.NewFromInt(100))
	}

	// A discount larger than the sale itself clamps to the subtotal; the
	// total never goes negative.
	discount := decimal.Min(subtotal, discountReq)
	total := subtotal.Sub(discount)

	// Commission scales with what was actually charged: each line earns
	// lineSubtotal * rate% * (total/subtotal).
	ratio := decimal.NewFromInt(1)
	if subtotal.IsPositive() {
		ratio = total.Div(subtotal)
	}
	rateFactor := rate.Div(decimal.NewFromInt(100))
	for i := range lines {
		commission := lineSubtotals[i].Mul(rateFactor).Mul(ratio)
		lines[i].CommissionAmount = commission.StringFixed(2)
	}

	sale.Subtotal = subtotal.StringFixed(2)
	sale.DiscountAmount = discount.StringFixed(2)
	sale.Total = total.StringFixed(2)
	sale.Items = lines

	if err := tx.Create(&sale).Error; err != nil {
		return nil, err
	}
	return &sale, nil
}

// CreateSale is the checkout operation: it validates the cart, freezes
// prices and commissions, decrements stock and records the sale in one
// transaction.
func (h *POSHandler) CreateSale(c *gin.Context) {
	var req createSaleRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Items) == 0 {
		c.JSON(http.StatusBadRequest, api.Error("items and payment_method are required"))
		return
	}
	if !validPaymentMethod(req.PaymentMethod) {
		c.JSON(http.StatusBadRequest, api.Error("payment_method must be cash, card or transfer"))
		return
	}
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			c.JSON(http.StatusBadRequest, api.Error("item quantities must be positive"))
			return
		}
	}

	ctx := c.Request.Context()

	var seller models.User
	if err := h.db.WithContext(ctx).First(&seller, "id = ?", c.GetString("user_id")).Error; err != nil {
		c.JSON(http.StatusUnauthorized, api.Error("Seller account not found"))
		return
	}

	rate, err := h.resolveRate(ctx, &seller)
	if err != nil || rate.IsNegative() {
		c.JSON(http.StatusInternalServerError, api.Error("Failed to resolve commission rate"))
		return
	}

	var sale *models.Sale
	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		sale, txErr = h.buildSale(tx, &seller, req, rate, time.Now())
		return txErr
	})
	switch {
	case errors.Is(err, errInvalidDiscount):
		c.JSON(http.StatusBadRequest, api.Error("discount must be a non-negative amount"))
		return
	case errors.Is(err, errUnknownProduct):
		c.JSON(http.StatusNotFound, api.Error(err.Error()))
		return
	case errors.Is(err, errInsufficientStock):
		c.JSON(http.StatusConflict, api.Error(err.Error()))
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, api.Error("Failed to record sale"))
		return
	}

	h.publishSaleEvent(ctx, SaleEvent{
		EventType: EventSaleCreated,
		SaleID:    sale.ID,
		SellerID:  sale.SellerID,
		Total:     sale.Total,
		Timestamp: sale.Timestamp,
	})

	c.JSON(http.StatusCreated, api.Success("Sale recorded", sale))
}

// ListSales returns sale history newest first, optionally narrowed by
// range preset and payment method. Sellers only ever see their own sales
// regardless of the query; admins see everyone's and may filter by
// seller_id.
func (h *POSHandler) ListSales(c *gin.Context) {
	ctx := c.Request.Context()

	dr, err := daterange.Resolve(c.DefaultQuery("range", daterange.All), time.Now())
	if err != nil {
		c.JSON(http.StatusBadRequest, api.Error("range must be today, week, month, year or all"))
		return
	}

	query := h.db.WithContext(ctx).Preload("Items").Order("timestamp DESC")
	if c.GetString("role") == models.RoleAdmin {
		if sellerID := c.Query("seller_id"); sellerID != "" {
			query = query.Where("seller_id = ?", sellerID)
		}
	} else {
		query = query.Where("seller_id = ?", c.GetString("user_id"))
	}
	if !dr.All {
		query = query.Where("timestamp BETWEEN ? AND ?", dr.Start, dr.End)
	}
	if method := c.Query("payment_method"); method != "" {
		if !validPaymentMethod(method) {
			c.JSON(http.StatusBadRequest, api.Error("payment_method must be cash, card or transfer"))
			return
		}
		query = query.Where("payment_method = ?", method)
	}

	var sales []models.Sale
	if err := query.Find(&sales).Error; err != nil {
		c.JSON(http.StatusInternalServerError, api.Error("Failed to list sales"))
		return
	}
	c.JSON(http.StatusOK, api.Success("Sales retrieved", sales))
}

func (h *POSHandler) GetSale(c *gin.Context) {
	var sale models.Sale
	if err := h.db.WithContext(c.Request.Context()).Preload("Items").
		First(&sale, "id = ?", c.Param("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, api.Error("Sale not found"))
			return
		}
		c.JSON(http.StatusInternalServerError, api.Error("Failed to load sale"))
		return
	}

	if c.GetString("role") != models.RoleAdmin && sale.SellerID != c.GetString("user_id") {
		c.JSON(http.StatusForbidden, api.Error("Not your sale"))
		return
	}
	c.JSON(http.StatusOK, api.Success("Sale retrieved", sale))
}

// ExportCSV streams the sale history as a CSV download, one row per sold
// line. Sellers get their own history only.
func (h *POSHandler) ExportCSV(c *gin.Context) {
	query := h.db.WithContext(c.Request.Context()).Preload("Items").Order("timestamp DESC")
	if c.GetString("role") != models.RoleAdmin {
		query = query.Where("seller_id = ?", c.GetString("user_id"))
	}

	var sales []models.Sale
	if err := query.Find(&sales).Error; err != nil {
		c.JSON(http.StatusInternalServerError, api.Error("Failed to export sales"))
		return
	}

	filename := fmt.Sprintf("ventas_%s.csv", time.Now().Format("2006-01-02"))
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", "attachment; filename="+filename)

	w := csv.NewWriter(c.Writer)
	_ = w.Write([]string{"ID Venta", "Fecha", "Vendedor", "Producto", "Cantidad", "Precio Unitario", "Subtotal", "Total Venta", "Metodo Pago"})
	for _, sale := range sales {
		for _, item := range sale.Items {
			_ = w.Write([]string{
				sale.ID,
				sale.Timestamp.Format("2006-01-02 15:04"),
				sale.SellerName,
				item.ProductName,
				strconv.FormatInt(int64(item.Quantity), 10),
				item.UnitPriceAtSale,
				item.LineSubtotal,
				sale.Total,
				sale.PaymentMethod,
			})
		}
	}
	w.Flush()
}

// DashboardStats summarizes activity in the selected range for the home
// screen. Scoped like the sale history: sellers see their own numbers.
func (h *POSHandler) DashboardStats(c *gin.Context) {
	ctx := c.Request.Context()

	dr, err := daterange.Resolve(c.DefaultQuery("range", daterange.Today), time.Now())
	if err != nil {
		c.JSON(http.StatusBadRequest, api.Error("range must be today, week, month, year or all"))
		return
	}

	scoped := func(q *gorm.DB) *gorm.DB {
		if c.GetString("role") != models.RoleAdmin {
			q = q.Where("seller_id = ?", c.GetString("user_id"))
		}
		if !dr.All {
			q = q.Where("timestamp BETWEEN ? AND ?", dr.Start, dr.End)
		}
		return q
	}

	var sales []models.Sale
	if err := scoped(h.db.WithContext(ctx)).Find(&sales).Error; err != nil {
		c.JSON(http.StatusInternalServerError, api.Error("Failed to load stats"))
		return
	}

	revenue := decimal.Zero
	for _, s := range sales {
		if total, err := decimal.NewFromString(s.Total); err == nil {
			revenue = revenue.Add(total)
		}
	}

	// Best selling category by units in the range.
	var topCategory struct {
		Category string
		Units    int64
	}
	_ = scoped(h.db.WithContext(ctx).Model(&models.SaleItem{}).
		Joins("JOIN sales ON sales.id = sale_items.sale_id").
		Joins("JOIN products ON products.id = sale_items.product_id")).
		Select("products.category AS category, SUM(sale_items.quantity) AS units").
		Group("products.category").
		Order("units DESC").
		Limit(1).
		Scan(&topCategory)

	var lowStockCount int64
	h.db.WithContext(ctx).Model(&models.Product{}).Where("stock <= ?", 5).Count(&lowStockCount)

	var pendingCommissions int64
	h.db.WithContext(ctx).Model(&models.Sale{}).Where("commission_paid = ?", false).Count(&pendingCommissions)

	c.JSON(http.StatusOK, api.Success("Stats retrieved", gin.H{
		"sales_count":          len(sales),
		"revenue":              revenue.StringFixed(2),
		"top_category":         topCategory.Category,
		"low_stock_products":   lowStockCount,
		"sales_pending_payout": pendingCommissions,
	}))
}

// --- Events ---

type SaleEvent struct {
	EventType string    `json:"event_type"`
	SaleID    string    `json:"sale_id"`
	SellerID  string    `json:"seller_id"`
	Total     string    `json:"total"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *POSHandler) publishSaleEvent(ctx context.Context, event SaleEvent) error {
	if h.redis == nil {
		return nil
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	channel := SALES_CHANNEL_PREFIX + event.EventType
	if err := h.redis.Publish(ctx, channel, eventJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	if err := h.redis.Publish(ctx, SALES_CHANNEL_ALL, eventJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish to all channel: %w", err)
	}
	return nil
}
