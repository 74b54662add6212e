package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"invictos-system/internal/api"
	"invictos-system/internal/database/models"
)

const (
	USER_LIST_CACHE_KEY = "user:list"
	CONFIG_CACHE_KEY    = "config:store"
	CACHE_TTL_SHORT     = 5 * time.Minute
	CACHE_TTL_MEDIUM    = 30 * time.Minute
)

type UserHandler struct {
	db    *gorm.DB
	redis *redis.Client
}

func NewUserHandler(db *gorm.DB, rdb *redis.Client) *UserHandler {
	return &UserHandler{db: db, redis: rdb}
}

type userView struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Role           string     `json:"role"`
	CommissionRate *string    `json:"commission_rate"`
	Blocked        bool       `json:"blocked"`
	LastLogin      *time.Time `json:"last_login"`
	CreatedAt      *time.Time `json:"created_at"`
}

func toUserView(u models.User) userView {
	return userView{
		ID:             u.ID,
		Name:           u.Name,
		Role:           u.Role,
		CommissionRate: u.CommissionRate,
		Blocked:        u.Security.PermanentlyBlocked,
		LastLogin:      u.LastLogin,
		CreatedAt:      u.CreatedAt,
	}
}

func (h *UserHandler) invalidateUserCache(ctx context.Context) {
	if h.redis == nil {
		return
	}
	_ = h.redis.Del(ctx, USER_LIST_CACHE_KEY)
}

// validRate accepts a non-negative percentage with at most two decimals.
func validRate(raw string) (string, bool) {
	d, err := decimal.NewFromString(raw)
	if err != nil || d.IsNegative() || d.GreaterThan(decimal.NewFromInt(100)) {
		return "", false
	}
	return d.StringFixed(2), true
}

func (h *UserHandler) ListUsers(c *gin.Context) {
	ctx := c.Request.Context()

	if h.redis != nil {
		if cached, err := h.redis.Get(ctx, USER_LIST_CACHE_KEY).Result(); err == nil {
			var views []userView
			if json.Unmarshal([]byte(cached), &views) == nil {
				c.JSON(http.StatusOK, api.SuccessWithMeta("Users retrieved", views, gin.H{"cached": true}))
				return
			}
		}
	}

	var users []models.User
	if err := h.db.WithContext(ctx).Order("name").Find(&users).Error; err != nil {
		c.JSON(http.StatusInternalServerError, api.Error("Failed to list users"))
		return
	}

	views := make([]userView, 0, len(users))
	for _, u := range users {
		views = append(views, toUserView(u))
	}

	if h.redis != nil {
		if data, err := json.Marshal(views); err == nil {
			_ = h.redis.Set(ctx, USER_LIST_CACHE_KEY, data, CACHE_TTL_SHORT)
		}
	}
	c.JSON(http.StatusOK, api.Success("Users retrieved", views))
}

func (h *UserHandler) GetUser(c *gin.Context) {
	var user models.User
	if err := h.db.WithContext(c.Request.Context()).First(&user, "id = ?", c.Param("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, api.Error("User not found"))
			return
		}
		c.JSON(http.StatusInternalServerError, api.Error("Failed to load user"))
		return
	}
	c.JSON(http.StatusOK, api.Success("User retrieved", toUserView(user)))
}

type createUserRequest struct {
	Name           string  `json:"name" binding:"required"`
	Role           string  `json:"role" binding:"required"`
	Pin            string  `json:"pin" binding:"required"`
	CommissionRate *string `json:"commission_rate"`
}

func (h *UserHandler) CreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.Error("name, role and pin are required"))
		return
	}
	if req.Role != models.RoleAdmin && req.Role != models.RoleSeller {
		c.JSON(http.StatusBadRequest, api.Error("role must be admin or seller"))
		return
	}
	if len(req.Pin) < 4 {
		c.JSON(http.StatusBadRequest, api.Error("pin must be at least 4 digits"))
		return
	}

	var rate *string
	if req.CommissionRate != nil {
		normalized, ok := validRate(*req.CommissionRate)
		if !ok {
			c.JSON(http.StatusBadRequest, api.Error("commission_rate must be a percentage between 0 and 100"))
			return
		}
		rate = &normalized
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Pin), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.Error("Failed to hash pin"))
		return
	}

	user := models.User{
		ID:             uuid.New().String(),
		Name:           req.Name,
		Role:           req.Role,
		PinHash:        string(hash),
		CommissionRate: rate,
	}
	if err := h.db.WithContext(c.Request.Context()).Create(&user).Error; err != nil {
		c.JSON(http.StatusInternalServerError, api.Error("Failed to create user"))
		return
	}

	h.invalidateUserCache(c.Request.Context())
	c.JSON(http.StatusCreated, api.Success("User created", toUserView(user)))
}

type updateUserRequest struct {
	Name           *string `json:"name"`
	Pin            *string `json:"pin"`
	CommissionRate *string `json:"commission_rate"`
	// ClearCommissionRate drops the per-account override so the global
	// rate applies again.
	ClearCommissionRate bool `json:"clear_commission_rate"`
}

func (h *UserHandler) UpdateUser(c *gin.Context) {
	ctx := c.Request.Context()

	var user models.User
	if err := h.db.WithContext(ctx).First(&user, "id = ?", c.Param("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, api.Error("User not found"))
			return
		}
		c.JSON(http.StatusInternalServerError, api.Error("Failed to load user"))
		return
	}

	var req updateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.Error("Invalid request body"))
		return
	}

	if req.Name != nil {
		user.Name = *req.Name
	}
	if req.Pin != nil {
		if len(*req.Pin) < 4 {
			c.JSON(http.StatusBadRequest, api.Error("pin must be at least 4 digits"))
			return
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(*req.Pin), bcrypt.DefaultCost)
		if err != nil {
			c.JSON(http.StatusInternalServerError, api.Error("Failed to hash pin"))
			return
		}
		user.PinHash = string(hash)
	}
	if req.ClearCommissionRate {
		user.CommissionRate = nil
	} else if req.CommissionRate != nil {
		normalized, ok := validRate(*req.CommissionRate)
		if !ok {
			c.JSON(http.StatusBadRequest, api.Error("commission_rate must be a percentage between 0 and 100"))
			return
		}
		user.CommissionRate = &normalized
	}

	updates := map[string]interface{}{
		"name":            user.Name,
		"pin_hash":        user.PinHash,
		"commission_rate": user.CommissionRate,
	}
	if err := h.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", user.ID).Updates(updates).Error; err != nil {
		c.JSON(http.StatusInternalServerError, api.Error("Failed to update user"))
		return
	}

	h.invalidateUserCache(ctx)
	c.JSON(http.StatusOK, api.Success("User updated", toUserView(user)))
}

func (h *UserHandler) DeleteUser(c *gin.Context) {
	id := c.Param("id")
	if id == c.GetString("user_id") {
		c.JSON(http.StatusBadRequest, api.Error("Cannot delete your own account"))
		return
	}

	tx := h.db.WithContext(c.Request.Context()).Delete(&models.User{}, "id = ?", id)
	if tx.Error != nil {
		c.JSON(http.StatusInternalServerError, api.Error("Failed to delete user"))
		return
	}
	if tx.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, api.Error("User not found"))
		return
	}

	h.invalidateUserCache(c.Request.Context())
	c.JSON(http.StatusOK, api.Success("User deleted", gin.H{"id": id}))
}

// --- Store configuration ---

type configView struct {
	GlobalCommissionRate string     `json:"global_commission_rate"`
	UpdatedAt            *time.Time `json:"updated_at"`
}

func (h *UserHandler) GetConfig(c *gin.Context) {
	ctx := c.Request.Context()

	if h.redis != nil {
		if cached, err := h.redis.Get(ctx, CONFIG_CACHE_KEY).Result(); err == nil {
			var view configView
			if json.Unmarshal([]byte(cached), &view) == nil {
				c.JSON(http.StatusOK, api.SuccessWithMeta("Config retrieved", view, gin.H{"cached": true}))
				return
			}
		}
	}

	var cfg models.StoreConfig
	if err := h.db.WithContext(ctx).First(&cfg, "id = ?", 1).Error; err != nil {
		c.JSON(http.StatusInternalServerError, api.Error("Failed to load config"))
		return
	}

	view := configView{GlobalCommissionRate: cfg.GlobalCommissionRate, UpdatedAt: cfg.UpdatedAt}
	if h.redis != nil {
		if data, err := json.Marshal(view); err == nil {
			_ = h.redis.Set(ctx, CONFIG_CACHE_KEY, data, CACHE_TTL_MEDIUM)
		}
	}
	c.JSON(http.StatusOK, api.Success("Config retrieved", view))
}

type updateConfigRequest struct {
	GlobalCommissionRate string `json:"global_commission_rate" binding:"required"`
}

func (h *UserHandler) UpdateConfig(c *gin.Context) {
	var req updateConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.Error("global_commission_rate is required"))
		return
	}

	normalized, ok := validRate(req.GlobalCommissionRate)
	if !ok {
		c.JSON(http.StatusBadRequest, api.Error("global_commission_rate must be a percentage between 0 and 100"))
		return
	}

	ctx := c.Request.Context()
	if err := h.db.WithContext(ctx).Model(&models.StoreConfig{}).
		Where("id = ?", 1).
		Update("global_commission_rate", normalized).Error; err != nil {
		c.JSON(http.StatusInternalServerError, api.Error("Failed to update config"))
		return
	}

	if h.redis != nil {
		_ = h.redis.Del(ctx, CONFIG_CACHE_KEY)
	}
	c.JSON(http.StatusOK, api.Success("Config updated", configView{GlobalCommissionRate: normalized}))
}
