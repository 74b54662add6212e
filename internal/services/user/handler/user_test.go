package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"invictos-system/internal/database/models"
)

func setupUserTestRouter(t *testing.T) (*gorm.DB, *gin.Engine) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.AutoMigrate(&models.User{}, &models.StoreConfig{})
	require.NoError(t, db.Create(&models.StoreConfig{ID: 1, GlobalCommissionRate: "5.00"}).Error)

	gin.SetMode(gin.TestMode)
	h := NewUserHandler(db, nil)
	r := gin.New()
	r.POST("/users", h.CreateUser)
	r.GET("/users", h.ListUsers)
	r.GET("/users/:id", h.GetUser)
	r.PUT("/users/:id", h.UpdateUser)
	r.DELETE("/users/:id", h.DeleteUser)
	r.GET("/config", h.GetConfig)
	r.PUT("/config", h.UpdateConfig)
	return db, r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateUserHashesPinAndNormalizesRate(t *testing.T) {
	db, r := setupUserTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/users", gin.H{
		"name":            "Vendedor 3",
		"role":            "seller",
		"pin":             "4321",
		"commission_rate": "7.5",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var user models.User
	require.NoError(t, db.First(&user, "name = ?", "Vendedor 3").Error)
	require.NotEqual(t, "4321", user.PinHash)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PinHash), []byte("4321")))
	require.NotNil(t, user.CommissionRate)
	require.Equal(t, "7.50", *user.CommissionRate)
}

func TestCreateUserRejectsBadInput(t *testing.T) {
	_, r := setupUserTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/users", gin.H{"name": "X", "role": "owner", "pin": "1234"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodPost, "/users", gin.H{"name": "X", "role": "seller", "pin": "12"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodPost, "/users", gin.H{
		"name": "X", "role": "seller", "pin": "1234", "commission_rate": "-3",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateUserClearsCommissionOverride(t *testing.T) {
	db, r := setupUserTestRouter(t)
	rate := "3.00"
	require.NoError(t, db.Create(&models.User{
		ID: "u2", Name: "Vendedor 1", Role: models.RoleSeller,
		PinHash: "x", CommissionRate: &rate,
	}).Error)

	w := doJSON(t, r, http.MethodPut, "/users/u2", gin.H{"clear_commission_rate": true})
	require.Equal(t, http.StatusOK, w.Code)

	var user models.User
	require.NoError(t, db.First(&user, "id = ?", "u2").Error)
	require.Nil(t, user.CommissionRate)
}

func TestUpdateConfigValidatesRate(t *testing.T) {
	db, r := setupUserTestRouter(t)

	w := doJSON(t, r, http.MethodPut, "/config", gin.H{"global_commission_rate": "abc"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodPut, "/config", gin.H{"global_commission_rate": "8"})
	require.Equal(t, http.StatusOK, w.Code)

	var cfg models.StoreConfig
	require.NoError(t, db.First(&cfg, "id = ?", 1).Error)
	require.Equal(t, "8.00", cfg.GlobalCommissionRate)
}

func TestDeleteMissingUserIs404(t *testing.T) {
	_, r := setupUserTestRouter(t)
	w := doJSON(t, r, http.MethodDelete, "/users/nope", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}
