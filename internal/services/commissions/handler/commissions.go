package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"invictos-system/internal/api"
	"invictos-system/internal/database/models"
	"invictos-system/internal/daterange"
)

type CommissionsHandler struct {
	db    *gorm.DB
	redis *redis.Client
}

func NewCommissionsHandler(db *gorm.DB, rdb *redis.Client) *CommissionsHandler {
	return &CommissionsHandler{db: db, redis: rdb}
}

// SellerSummary is one row of the team commission report.
type SellerSummary struct {
	SellerID       string  `json:"seller_id"`
	SellerName     string  `json:"seller_name"`
	CommissionRate *string `json:"commission_rate"`
	// PendingBalance is every unpaid commission, all time; the selected
	// range never shrinks what a seller is owed.
	PendingBalance string `json:"pending_balance"`
	// GeneratedInRange is commission earned inside the range, paid or not.
	GeneratedInRange string `json:"generated_in_range"`
	SalesInRange     int64  `json:"sales_in_range"`
}

func (h *CommissionsHandler) sumCommission(ctx context.Context, sellerID string, paid *bool, dr *daterange.Range) (decimal.Decimal, error) {
	query := h.db.WithContext(ctx).Model(&models.SaleItem{}).
		Joins("JOIN sales ON sales.id = sale_items.sale_id").
		Where("sales.seller_id = ?", sellerID)
	if paid != nil {
		query = query.Where("sales.commission_paid = ?", *paid)
	}
	if dr != nil && !dr.All {
		query = query.Where("sales.timestamp BETWEEN ? AND ?", dr.Start, dr.End)
	}

	var sum decimal.NullDecimal
	if err := query.Select("SUM(sale_items.commission_amount)").Row().Scan(&sum); err != nil {
		return decimal.Zero, err
	}
	if !sum.Valid {
		return decimal.Zero, nil
	}
	return sum.Decimal, nil
}

func (h *CommissionsHandler) summarize(ctx context.Context, seller models.User, dr daterange.Range) (SellerSummary, error) {
	unpaid := false
	pending, err := h.sumCommission(ctx, seller.ID, &unpaid, nil)
	if err != nil {
		return SellerSummary{}, err
	}
	generated, err := h.sumCommission(ctx, seller.ID, nil, &dr)
	if err != nil {
		return SellerSummary{}, err
	}

	countQuery := h.db.WithContext(ctx).Model(&models.Sale{}).Where("seller_id = ?", seller.ID)
	if !dr.All {
		countQuery = countQuery.Where("timestamp BETWEEN ? AND ?", dr.Start, dr.End)
	}
	var salesInRange int64
	if err := countQuery.Count(&salesInRange).Error; err != nil {
		return SellerSummary{}, err
	}

	return SellerSummary{
		SellerID:         seller.ID,
		SellerName:       seller.Name,
		CommissionRate:   seller.CommissionRate,
		PendingBalance:   pending.StringFixed(2),
		GeneratedInRange: generated.StringFixed(2),
		SalesInRange:     salesInRange,
	}, nil
}

// TeamSummary reports commissions per seller. Admins see the whole team;
// sellers get a single row for themselves.
func (h *CommissionsHandler) TeamSummary(c *gin.Context) {
	ctx := c.Request.Context()

	dr, err := daterange.Resolve(c.DefaultQuery("range", daterange.Month), time.Now())
	if err != nil {
		c.JSON(http.StatusBadRequest, api.Error("range must be today, week, month, year or all"))
		return
	}

	query := h.db.WithContext(ctx).Where("role = ?", models.RoleSeller).Order("name")
	if c.GetString("role") != models.RoleAdmin {
		query = h.db.WithContext(ctx).Where("id = ?", c.GetString("user_id"))
	}

	var sellers []models.User
	if err := query.Find(&sellers).Error; err != nil {
		c.JSON(http.StatusInternalServerError, api.Error("Failed to list sellers"))
		return
	}

	totalPending := decimal.Zero
	totalGenerated := decimal.Zero
	summaries := make([]SellerSummary, 0, len(sellers))
	for _, seller := range sellers {
		summary, err := h.summarize(ctx, seller, dr)
		if err != nil {
			c.JSON(http.StatusInternalServerError, api.Error("Failed to compute commissions"))
			return
		}
		summaries = append(summaries, summary)

		if p, err := decimal.NewFromString(summary.PendingBalance); err == nil {
			totalPending = totalPending.Add(p)
		}
		if g, err := decimal.NewFromString(summary.GeneratedInRange); err == nil {
			totalGenerated = totalGenerated.Add(g)
		}
	}

	c.JSON(http.StatusOK, api.SuccessWithMeta("Commission summary retrieved", summaries, gin.H{
		"range":                    c.DefaultQuery("range", daterange.Month),
		"total_pending_balance":    totalPending.StringFixed(2),
		"total_generated_in_range": totalGenerated.StringFixed(2),
	}))
}

type saleCommissionView struct {
	SaleID           string     `json:"sale_id"`
	Timestamp        time.Time  `json:"timestamp"`
	Total            string     `json:"total"`
	CommissionAmount string     `json:"commission_amount"`
	CommissionPaid   bool       `json:"commission_paid"`
	CommissionPaidAt *time.Time `json:"commission_paid_at"`
}

// SellerSales lists a seller's sales in the range with the commission
// each one froze. Sellers may only inspect themselves.
func (h *CommissionsHandler) SellerSales(c *gin.Context) {
	sellerID := c.Param("sellerId")
	if c.GetString("role") != models.RoleAdmin && sellerID != c.GetString("user_id") {
		c.JSON(http.StatusForbidden, api.Error("Not your commissions"))
		return
	}

	dr, err := daterange.Resolve(c.DefaultQuery("range", daterange.Month), time.Now())
	if err != nil {
		c.JSON(http.StatusBadRequest, api.Error("range must be today, week, month, year or all"))
		return
	}

	ctx := c.Request.Context()

	var seller models.User
	if err := h.db.WithContext(ctx).First(&seller, "id = ?", sellerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, api.Error("Seller not found"))
			return
		}
		c.JSON(http.StatusInternalServerError, api.Error("Failed to load seller"))
		return
	}

	query := h.db.WithContext(ctx).Preload("Items").
		Where("seller_id = ?", sellerID).Order("timestamp DESC")
	if !dr.All {
		query = query.Where("timestamp BETWEEN ? AND ?", dr.Start, dr.End)
	}
	if c.Query("unpaid") == "true" {
		query = query.Where("commission_paid = ?", false)
	}

	var sales []models.Sale
	if err := query.Find(&sales).Error; err != nil {
		c.JSON(http.StatusInternalServerError, api.Error("Failed to list sales"))
		return
	}

	views := make([]saleCommissionView, 0, len(sales))
	for _, sale := range sales {
		commission := decimal.Zero
		for _, item := range sale.Items {
			if d, err := decimal.NewFromString(item.CommissionAmount); err == nil {
				commission = commission.Add(d)
			}
		}
		views = append(views, saleCommissionView{
			SaleID:           sale.ID,
			Timestamp:        sale.Timestamp,
			Total:            sale.Total,
			CommissionAmount: commission.StringFixed(2),
			CommissionPaid:   sale.CommissionPaid,
			CommissionPaidAt: sale.CommissionPaidAt,
		})
	}

	c.JSON(http.StatusOK, api.Success("Seller commissions retrieved", views))
}

type markPaidRequest struct {
	SaleIDs []string `json:"sale_ids" binding:"required"`
}

// MarkPaid settles the given sales' commissions. Already-paid sales are
// skipped, so repeating a request never double-pays; the response reports
// how many sales this call actually settled.
func (h *CommissionsHandler) MarkPaid(c *gin.Context) {
	var req markPaidRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.SaleIDs) == 0 {
		c.JSON(http.StatusBadRequest, api.Error("sale_ids is required"))
		return
	}

	now := time.Now()
	tx := h.db.WithContext(c.Request.Context()).Model(&models.Sale{}).
		Where("id IN ? AND commission_paid = ?", req.SaleIDs, false).
		Updates(map[string]interface{}{
			"commission_paid":    true,
			"commission_paid_at": &now,
		})
	if tx.Error != nil {
		c.JSON(http.StatusInternalServerError, api.Error("Failed to mark commissions paid"))
		return
	}

	c.JSON(http.StatusOK, api.Success("Commissions marked paid", gin.H{
		"settled": tx.RowsAffected,
		"paid_at": now,
	}))
}
