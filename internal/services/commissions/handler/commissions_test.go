package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"invictos-system/internal/database/models"
)

func setupCommissionsTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.AutoMigrate(&models.User{}, &models.Sale{}, &models.SaleItem{})

	override := "3.00"
	require.NoError(t, db.Create(&[]models.User{
		{ID: "admin", Name: "Administrador", Role: models.RoleAdmin, PinHash: "x"},
		{ID: "u2", Name: "Vendedor 1", Role: models.RoleSeller, PinHash: "x", CommissionRate: &override},
		{ID: "u3", Name: "Vendedor 2", Role: models.RoleSeller, PinHash: "x"},
	}).Error)
	return db
}

func seedSale(t *testing.T, db *gorm.DB, id, sellerID string, ts time.Time, commission string, paid bool) {
	sale := models.Sale{
		ID: id, Timestamp: ts, SellerID: sellerID, SellerName: "Seller " + sellerID,
		Subtotal: "100.00", DiscountAmount: "0.00", Total: "100.00",
		PaymentMethod: models.PaymentCash, CommissionPaid: paid,
		Items: []models.SaleItem{{
			ProductID: "pr1", ProductName: "Producto", Quantity: 1,
			UnitPriceAtSale: "100.00", LineSubtotal: "100.00",
			CommissionAmount: commission,
		}},
	}
	if paid {
		now := ts
		sale.CommissionPaidAt = &now
	}
	require.NoError(t, db.Create(&sale).Error)
}

func commissionsRouter(db *gorm.DB, userID, role string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewCommissionsHandler(db, nil)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("user_id", userID)
		c.Set("role", role)
		c.Next()
	})
	r.GET("/commissions/summary", h.TeamSummary)
	r.GET("/commissions/sales/:sellerId", h.SellerSales)
	r.POST("/commissions/mark-paid", h.MarkPaid)
	return r
}

func getSummary(t *testing.T, r *gin.Engine, path string) []SellerSummary {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data []SellerSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Data
}

func TestPendingBalanceIgnoresRangeButGeneratedHonorsIt(t *testing.T) {
	db := setupCommissionsTestDB(t)
	now := time.Now()

	// An old unpaid sale outside any monthly window plus a fresh one.
	seedSale(t, db, "s-old", "u2", now.AddDate(0, -3, 0), "12.00", false)
	seedSale(t, db, "s-new", "u2", now, "30.00", false)
	// A fresh but already settled sale still counts as generated.
	seedSale(t, db, "s-paid", "u2", now, "5.00", true)

	r := commissionsRouter(db, "admin", models.RoleAdmin)
	rows := getSummary(t, r, "/commissions/summary?range=month")

	var u2 SellerSummary
	for _, row := range rows {
		if row.SellerID == "u2" {
			u2 = row
		}
	}
	require.Equal(t, "42.00", u2.PendingBalance)
	require.Equal(t, "35.00", u2.GeneratedInRange)
	require.Equal(t, int64(2), u2.SalesInRange)
}

func TestTeamSummaryScopedBySellerRole(t *testing.T) {
	db := setupCommissionsTestDB(t)
	seedSale(t, db, "s1", "u2", time.Now(), "10.00", false)
	seedSale(t, db, "s2", "u3", time.Now(), "20.00", false)

	adminRows := getSummary(t, commissionsRouter(db, "admin", models.RoleAdmin), "/commissions/summary?range=all")
	require.Len(t, adminRows, 2)

	sellerRows := getSummary(t, commissionsRouter(db, "u3", models.RoleSeller), "/commissions/summary?range=all")
	require.Len(t, sellerRows, 1)
	require.Equal(t, "u3", sellerRows[0].SellerID)
	require.Equal(t, "20.00", sellerRows[0].PendingBalance)
}

func TestMarkPaidIsIdempotent(t *testing.T) {
	db := setupCommissionsTestDB(t)
	seedSale(t, db, "s1", "u2", time.Now(), "10.00", false)
	seedSale(t, db, "s2", "u2", time.Now(), "15.00", false)

	r := commissionsRouter(db, "admin", models.RoleAdmin)
	markPaid := func(ids []string) int64 {
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(gin.H{"sale_ids": ids}))
		req := httptest.NewRequest(http.MethodPost, "/commissions/mark-paid", &buf)
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Data struct {
				Settled int64 `json:"settled"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		return resp.Data.Settled
	}

	require.Equal(t, int64(2), markPaid([]string{"s1", "s2"}))
	// Second submission settles nothing and changes nothing.
	require.Equal(t, int64(0), markPaid([]string{"s1", "s2"}))

	rows := getSummary(t, r, "/commissions/summary?range=all")
	for _, row := range rows {
		if row.SellerID == "u2" {
			require.Equal(t, "0.00", row.PendingBalance)
			require.Equal(t, "25.00", row.GeneratedInRange)
		}
	}

	var paidAt1, paidAt2 models.Sale
	require.NoError(t, db.First(&paidAt1, "id = ?", "s1").Error)
	first := *paidAt1.CommissionPaidAt
	require.Equal(t, int64(0), markPaid([]string{"s1"}))
	require.NoError(t, db.First(&paidAt2, "id = ?", "s1").Error)
	// The settlement timestamp survives replays.
	require.True(t, first.Equal(*paidAt2.CommissionPaidAt))
}

func TestSellerSalesForbiddenForOtherSellers(t *testing.T) {
	db := setupCommissionsTestDB(t)
	seedSale(t, db, "s1", "u2", time.Now(), "10.00", false)

	r := commissionsRouter(db, "u3", models.RoleSeller)
	req := httptest.NewRequest(http.MethodGet, "/commissions/sales/u2", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusForbidden, w.Code)

	// Admins and the seller personally are allowed.
	for _, rr := range []*gin.Engine{
		commissionsRouter(db, "admin", models.RoleAdmin),
		commissionsRouter(db, "u2", models.RoleSeller),
	} {
		req := httptest.NewRequest(http.MethodGet, "/commissions/sales/u2?range=all", nil)
		w := httptest.NewRecorder()
		rr.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Data []saleCommissionView `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Data, 1)
		require.Equal(t, "10.00", resp.Data[0].CommissionAmount)
	}
}
