package handler

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"invictos-system/internal/api"
	"invictos-system/internal/database/models"
	"invictos-system/internal/lockout"
	"invictos-system/internal/utils"
)

const (
	RECOVERY_CACHE_PREFIX = "auth:recovery:"
	RECOVERY_TTL          = 10 * time.Minute
	TOKEN_TTL             = 24 * time.Hour

	// Optimistic writes to the security columns retry this many times
	// before giving up under contention.
	maxWriteRetries = 3
)

type AuthHandler struct {
	db    *gorm.DB
	redis *redis.Client
}

func NewAuthHandler(db *gorm.DB, rdb *redis.Client) *AuthHandler {
	return &AuthHandler{db: db, redis: rdb}
}

// LoginOutcome classifies one PIN submission.
type LoginOutcome string

const (
	OutcomeSuccess     LoginOutcome = "success"
	OutcomeInvalidPin  LoginOutcome = "invalid_pin"
	OutcomeNowLocked   LoginOutcome = "now_locked"
	OutcomeNowBlocked  LoginOutcome = "now_blocked"
	OutcomeTempLocked  LoginOutcome = "temporarily_locked"
	OutcomeBlocked     LoginOutcome = "blocked"
	OutcomeUserMissing LoginOutcome = "user_not_found"
)

type LoginResult struct {
	Outcome           LoginOutcome
	User              *models.User
	Token             string
	TokenExpiresAt    time.Time
	AttemptsRemaining int32
	RetryAfter        time.Duration
}

var errVersionConflict = errors.New("security state changed concurrently")

// AttemptLogin runs one full PIN submission against the account's lockout
// state. The security columns are written with a compare-and-swap on
// security_version; on conflict the whole attempt is re-evaluated against
// the fresh state.
func (h *AuthHandler) AttemptLogin(ctx context.Context, userID, pin string) (LoginResult, error) {
	pin = strings.TrimSpace(pin)

	for try := 0; try < maxWriteRetries; try++ {
		res, err := h.attemptLoginOnce(ctx, userID, pin)
		if errors.Is(err, errVersionConflict) {
			continue
		}
		return res, err
	}
	return LoginResult{}, fmt.Errorf("login for %s: %w", userID, errVersionConflict)
}

func (h *AuthHandler) attemptLoginOnce(ctx context.Context, userID, pin string) (LoginResult, error) {
	var user models.User
	if err := h.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return LoginResult{Outcome: OutcomeUserMissing}, nil
		}
		return LoginResult{}, err
	}

	now := time.Now()

	// Locked and blocked accounts reject every submission, correct PIN
	// included, without touching any counter.
	switch user.Security.Current(now) {
	case lockout.StatusBlocked:
		return LoginResult{Outcome: OutcomeBlocked, User: &user}, nil
	case lockout.StatusTempLocked:
		return LoginResult{
			Outcome:    OutcomeTempLocked,
			User:       &user,
			RetryAfter: user.Security.RetryAfter(now),
		}, nil
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PinHash), []byte(pin)) == nil {
		user.Security.Reset()
		if err := h.writeSecurity(ctx, &user, map[string]interface{}{"last_login": now}); err != nil {
			return LoginResult{}, err
		}

		token, exp, err := utils.GenerateToken(user.ID, user.Name, user.Role, TOKEN_TTL)
		if err != nil {
			return LoginResult{}, fmt.Errorf("failed to sign token: %w", err)
		}
		return LoginResult{Outcome: OutcomeSuccess, User: &user, Token: token, TokenExpiresAt: exp}, nil
	}

	result := user.Security.RecordFailure(now)
	if err := h.writeSecurity(ctx, &user, nil); err != nil {
		return LoginResult{}, err
	}

	switch result {
	case lockout.FailureBlocked:
		return LoginResult{Outcome: OutcomeNowBlocked, User: &user}, nil
	case lockout.FailureLocked:
		return LoginResult{
			Outcome:    OutcomeNowLocked,
			User:       &user,
			RetryAfter: user.Security.RetryAfter(now),
		}, nil
	default:
		return LoginResult{
			Outcome:           OutcomeInvalidPin,
			User:              &user,
			AttemptsRemaining: user.Security.AttemptsRemaining(),
		}, nil
	}
}

// writeSecurity persists user.Security guarded by security_version. extra
// columns, when given, ride along in the same UPDATE.
func (h *AuthHandler) writeSecurity(ctx context.Context, user *models.User, extra map[string]interface{}) error {
	updates := map[string]interface{}{
		"failed_attempts":      user.Security.FailedAttempts,
		"lockout_until":        user.Security.LockoutUntil,
		"consecutive_lockouts": user.Security.ConsecutiveLockouts,
		"permanently_blocked":  user.Security.PermanentlyBlocked,
		"security_version":     user.SecurityVersion + 1,
	}
	for k, v := range extra {
		updates[k] = v
	}

	tx := h.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND security_version = ?", user.ID, user.SecurityVersion).
		Updates(updates)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return errVersionConflict
	}
	user.SecurityVersion++
	return nil
}

// Unlock clears the account's lockout state entirely. Used by admin
// recovery and by verified self-service recovery.
func (h *AuthHandler) Unlock(ctx context.Context, userID string) error {
	for try := 0; try < maxWriteRetries; try++ {
		var user models.User
		if err := h.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
			return err
		}
		user.Security.Reset()
		err := h.writeSecurity(ctx, &user, nil)
		if !errors.Is(err, errVersionConflict) {
			return err
		}
	}
	return fmt.Errorf("unlock %s: %w", userID, errVersionConflict)
}

// --- HTTP handlers ---

type loginRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Pin    string `json:"pin" binding:"required"`
}

type userSummary struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Role              string `json:"role"`
	SecurityStatus    string `json:"security_status"`
	RetryAfterSeconds int64  `json:"retry_after_seconds,omitempty"`
}

func statusLabel(s lockout.Status) string {
	switch s {
	case lockout.StatusTempLocked:
		return "locked"
	case lockout.StatusBlocked:
		return "blocked"
	default:
		return "open"
	}
}

// ListLoginUsers is the pre-login roster: every account with its current
// security status so the login screen can grey out locked entries.
func (h *AuthHandler) ListLoginUsers(c *gin.Context) {
	var users []models.User
	if err := h.db.WithContext(c.Request.Context()).Order("name").Find(&users).Error; err != nil {
		c.JSON(http.StatusInternalServerError, api.Error("Failed to list users"))
		return
	}

	now := time.Now()
	out := make([]userSummary, 0, len(users))
	for _, u := range users {
		s := userSummary{
			ID:             u.ID,
			Name:           u.Name,
			Role:           u.Role,
			SecurityStatus: statusLabel(u.Security.Current(now)),
		}
		if retry := u.Security.RetryAfter(now); retry > 0 {
			s.RetryAfterSeconds = int64(retry.Seconds() + 0.5)
		}
		out = append(out, s)
	}
	c.JSON(http.StatusOK, api.Success("Users retrieved", out))
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.Error("user_id and pin are required"))
		return
	}

	res, err := h.AttemptLogin(c.Request.Context(), req.UserID, req.Pin)
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.Error("Login failed"))
		return
	}

	switch res.Outcome {
	case OutcomeSuccess:
		c.JSON(http.StatusOK, api.Success("Login successful", gin.H{
			"token":      res.Token,
			"expires_at": res.TokenExpiresAt,
			"user": gin.H{
				"id":              res.User.ID,
				"name":            res.User.Name,
				"role":            res.User.Role,
				"commission_rate": res.User.CommissionRate,
			},
		}))
	case OutcomeInvalidPin:
		resp := api.Error("Incorrect PIN")
		resp.Meta = gin.H{"attempts_remaining": res.AttemptsRemaining}
		c.JSON(http.StatusUnauthorized, resp)
	case OutcomeNowLocked, OutcomeTempLocked:
		resp := api.Error("Account temporarily locked")
		resp.Meta = gin.H{"retry_after_seconds": int64(res.RetryAfter.Seconds() + 0.5)}
		c.JSON(http.StatusLocked, resp)
	case OutcomeNowBlocked, OutcomeBlocked:
		c.JSON(http.StatusForbidden, api.Error("Account blocked. Contact an administrator"))
	case OutcomeUserMissing:
		c.JSON(http.StatusNotFound, api.Error("User not found"))
	}
}

// --- Recovery ---

type recoveryPayload struct {
	UserID string `json:"user_id"`
	Code   string `json:"code"`
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

type sendRecoveryRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// SendRecoveryCode issues a one-time six digit code for a blocked account
// and returns an opaque token the client submits together with the code.
// Delivery is out of band; for now the code goes to the server log.
func (h *AuthHandler) SendRecoveryCode(c *gin.Context) {
	var req sendRecoveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.Error("user_id is required"))
		return
	}

	ctx := c.Request.Context()
	var user models.User
	if err := h.db.WithContext(ctx).First(&user, "id = ?", req.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, api.Error("User not found"))
			return
		}
		c.JSON(http.StatusInternalServerError, api.Error("Failed to load user"))
		return
	}

	code, err := randomCode()
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.Error("Failed to generate code"))
		return
	}
	token := uuid.New().String()

	payload, _ := json.Marshal(recoveryPayload{UserID: user.ID, Code: code})
	if err := h.redis.Set(ctx, RECOVERY_CACHE_PREFIX+token, payload, RECOVERY_TTL).Err(); err != nil {
		c.JSON(http.StatusInternalServerError, api.Error("Failed to store recovery code"))
		return
	}

	log.Printf("recovery code for user %s: %s", user.ID, code)

	c.JSON(http.StatusOK, api.Success("Recovery code sent", gin.H{
		"recovery_token": token,
		"expires_in":     int64(RECOVERY_TTL.Seconds()),
	}))
}

type verifyRecoveryRequest struct {
	RecoveryToken string `json:"recovery_token" binding:"required"`
	Code          string `json:"code" binding:"required"`
}

// VerifyRecoveryCode consumes the token and, on a matching code, clears
// the account's lockout state. Codes are single use regardless of outcome.
func (h *AuthHandler) VerifyRecoveryCode(c *gin.Context) {
	var req verifyRecoveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.Error("recovery_token and code are required"))
		return
	}

	ctx := c.Request.Context()
	key := RECOVERY_CACHE_PREFIX + req.RecoveryToken

	raw, err := h.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		c.JSON(http.StatusUnauthorized, api.Error("Recovery code expired or already used"))
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.Error("Failed to read recovery code"))
		return
	}
	h.redis.Del(ctx, key)

	var payload recoveryPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil || payload.Code != strings.TrimSpace(req.Code) {
		c.JSON(http.StatusUnauthorized, api.Error("Incorrect recovery code"))
		return
	}

	if err := h.Unlock(ctx, payload.UserID); err != nil {
		c.JSON(http.StatusInternalServerError, api.Error("Failed to unlock account"))
		return
	}
	c.JSON(http.StatusOK, api.Success("Account unlocked", gin.H{"user_id": payload.UserID}))
}

// UnlockUser is the admin-side recovery: clears lockouts and permanent
// blocks for the given account.
func (h *AuthHandler) UnlockUser(c *gin.Context) {
	id := c.Param("id")
	err := h.Unlock(c.Request.Context(), id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, api.Error("User not found"))
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.Error("Failed to unlock account"))
		return
	}
	c.JSON(http.StatusOK, api.Success("Account unlocked", gin.H{"user_id": id}))
}
