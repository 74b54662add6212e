package handler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"invictos-system/internal/database/models"
	"invictos-system/internal/lockout"
)

func setupAuthTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	db.AutoMigrate(&models.User{}, &models.StoreConfig{})
	return db
}

func seedUser(t *testing.T, db *gorm.DB, id, pin string) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, db.Create(&models.User{
		ID:      id,
		Name:    "Test " + id,
		Role:    models.RoleSeller,
		PinHash: string(hash),
	}).Error)
}

func TestLoginSuccessIssuesTokenAndResetsCounters(t *testing.T) {
	db := setupAuthTestDB(t)
	h := NewAuthHandler(db, nil)
	seedUser(t, db, "u1", "1234")
	ctx := context.Background()

	// Two misses first, so success has something to clear.
	for i := 0; i < 2; i++ {
		res, err := h.AttemptLogin(ctx, "u1", "9999")
		require.NoError(t, err)
		require.Equal(t, OutcomeInvalidPin, res.Outcome)
	}

	res, err := h.AttemptLogin(ctx, "u1", "1234")
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, res.Outcome)
	require.NotEmpty(t, res.Token)

	var u models.User
	require.NoError(t, db.First(&u, "id = ?", "u1").Error)
	require.Equal(t, lockout.State{}, u.Security)
	require.NotNil(t, u.LastLogin)
}

func TestLoginTrimsPinWhitespace(t *testing.T) {
	db := setupAuthTestDB(t)
	h := NewAuthHandler(db, nil)
	seedUser(t, db, "u1", "1234")

	res, err := h.AttemptLogin(context.Background(), "u1", "  1234  ")
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, res.Outcome)
}

func TestThreeWrongPinsLockAndCorrectPinIsRefusedWhileLocked(t *testing.T) {
	db := setupAuthTestDB(t)
	h := NewAuthHandler(db, nil)
	seedUser(t, db, "u1", "1234")
	ctx := context.Background()

	res, err := h.AttemptLogin(ctx, "u1", "0000")
	require.NoError(t, err)
	require.Equal(t, OutcomeInvalidPin, res.Outcome)
	require.Equal(t, int32(2), res.AttemptsRemaining)

	res, err = h.AttemptLogin(ctx, "u1", "0000")
	require.NoError(t, err)
	require.Equal(t, OutcomeInvalidPin, res.Outcome)
	require.Equal(t, int32(1), res.AttemptsRemaining)

	res, err = h.AttemptLogin(ctx, "u1", "0000")
	require.NoError(t, err)
	require.Equal(t, OutcomeNowLocked, res.Outcome)
	require.InDelta(t, (5 * time.Minute).Seconds(), res.RetryAfter.Seconds(), 2)

	// The correct PIN bounces off a locked account without touching counters.
	res, err = h.AttemptLogin(ctx, "u1", "1234")
	require.NoError(t, err)
	require.Equal(t, OutcomeTempLocked, res.Outcome)

	var u models.User
	require.NoError(t, db.First(&u, "id = ?", "u1").Error)
	require.Equal(t, int32(1), u.Security.ConsecutiveLockouts)
	require.Equal(t, int32(0), u.Security.FailedAttempts)
}

func TestThirdLockoutBlocksPermanently(t *testing.T) {
	db := setupAuthTestDB(t)
	h := NewAuthHandler(db, nil)
	seedUser(t, db, "u1", "1234")
	ctx := context.Background()

	failThrice := func() {
		for i := 0; i < 3; i++ {
			_, err := h.AttemptLogin(ctx, "u1", "0000")
			require.NoError(t, err)
		}
	}
	expireLockout := func() {
		past := time.Now().Add(-time.Second)
		require.NoError(t, db.Model(&models.User{}).Where("id = ?", "u1").
			Update("lockout_until", &past).Error)
	}

	failThrice()
	expireLockout()
	failThrice()
	expireLockout()

	for i := 0; i < 2; i++ {
		res, err := h.AttemptLogin(ctx, "u1", "0000")
		require.NoError(t, err)
		require.Equal(t, OutcomeInvalidPin, res.Outcome)
	}
	res, err := h.AttemptLogin(ctx, "u1", "0000")
	require.NoError(t, err)
	require.Equal(t, OutcomeNowBlocked, res.Outcome)

	// Blocked accounts refuse even the correct PIN, indefinitely.
	res, err = h.AttemptLogin(ctx, "u1", "1234")
	require.NoError(t, err)
	require.Equal(t, OutcomeBlocked, res.Outcome)
}

func TestSuccessfulLoginBreaksLockoutStreak(t *testing.T) {
	db := setupAuthTestDB(t)
	h := NewAuthHandler(db, nil)
	seedUser(t, db, "u1", "1234")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		h.AttemptLogin(ctx, "u1", "0000")
	}
	past := time.Now().Add(-time.Second)
	require.NoError(t, db.Model(&models.User{}).Where("id = ?", "u1").
		Update("lockout_until", &past).Error)

	res, err := h.AttemptLogin(ctx, "u1", "1234")
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, res.Outcome)

	var u models.User
	require.NoError(t, db.First(&u, "id = ?", "u1").Error)
	require.Equal(t, int32(0), u.Security.ConsecutiveLockouts)
}

func TestUnlockClearsPermanentBlock(t *testing.T) {
	db := setupAuthTestDB(t)
	h := NewAuthHandler(db, nil)
	seedUser(t, db, "u1", "1234")
	ctx := context.Background()

	require.NoError(t, db.Model(&models.User{}).Where("id = ?", "u1").
		Updates(map[string]interface{}{
			"permanently_blocked":  true,
			"consecutive_lockouts": 3,
		}).Error)

	res, err := h.AttemptLogin(ctx, "u1", "1234")
	require.NoError(t, err)
	require.Equal(t, OutcomeBlocked, res.Outcome)

	require.NoError(t, h.Unlock(ctx, "u1"))

	res, err = h.AttemptLogin(ctx, "u1", "1234")
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, res.Outcome)
}

func TestLoginUnknownUser(t *testing.T) {
	db := setupAuthTestDB(t)
	h := NewAuthHandler(db, nil)

	res, err := h.AttemptLogin(context.Background(), "ghost", "1234")
	require.NoError(t, err)
	require.Equal(t, OutcomeUserMissing, res.Outcome)
}
