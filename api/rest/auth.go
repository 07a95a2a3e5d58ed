package rest

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/roleplay/server/audit"
	"github.com/kasuganosora/roleplay/server/cache"
	"github.com/kasuganosora/roleplay/server/config"
	mw "github.com/kasuganosora/roleplay/server/middleware"
	"github.com/kasuganosora/roleplay/server/model"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const cacheTimeout = 2 * time.Second

// AuthHandler handles authentication REST endpoints.
type AuthHandler struct {
	db    *gorm.DB
	cache cache.Cache
	sec   config.SecurityConfig
	audit *audit.Service
}

// NewAuthHandler creates a new AuthHandler. auditSvc may be nil.
func NewAuthHandler(db *gorm.DB, c cache.Cache, sec config.SecurityConfig, auditSvc *audit.Service) *AuthHandler {
	return &AuthHandler{db: db, cache: c, sec: sec, audit: auditSvc}
}

type loginRequest struct {
	Username string `json:"username" binding:"required,min=2,max=32"`
	Password string `json:"password" binding:"required,min=4,max=64"`
}

// Login handles POST /api/auth/login.
// Auto-registers on first login if the username does not exist.
func (h *AuthHandler) Login(c *gin.Context) {
	start := time.Now()
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	acc, status, msg := h.authenticate(req)
	if status != http.StatusOK {
		h.auditLogin(c, acc, req.Username, errors.New(msg), start)
		c.JSON(status, gin.H{"error": msg})
		return
	}

	token, err := h.issueSession(c.Request.Context(), acc.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}

	// Best effort.
	now := time.Now()
	_ = h.db.Model(acc).Updates(map[string]interface{}{
		"last_login_at": now,
		"last_login_ip": c.ClientIP(),
	})
	h.auditLogin(c, acc, req.Username, nil, start)

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"account_id": acc.ID,
	})
}

// authenticate finds or registers the account. A non-200 status comes with
// the client-facing error message.
func (h *AuthHandler) authenticate(req loginRequest) (*model.Account, int, string) {
	var acc model.Account
	err := h.db.Where("username = ?", req.Username).First(&acc).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, http.StatusInternalServerError, "internal error"
		}
		acc = model.Account{Username: req.Username, PasswordHash: string(hash), Status: 1}
		if err := h.db.Create(&acc).Error; err != nil {
			// Another request registered the same name first.
			if isUniqueViolation(err) {
				return nil, http.StatusConflict, "username already taken"
			}
			return nil, http.StatusInternalServerError, "registration failed"
		}
		return &acc, http.StatusOK, ""
	case err != nil:
		return nil, http.StatusInternalServerError, "internal error"
	}
	if bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(req.Password)) != nil {
		return &acc, http.StatusUnauthorized, "invalid credentials"
	}
	if acc.Status == 0 {
		return &acc, http.StatusForbidden, "account banned"
	}
	return &acc, http.StatusOK, ""
}

// issueSession signs a token and marks it live in the session cache.
func (h *AuthHandler) issueSession(ctx context.Context, accountID int64) (string, error) {
	token, err := mw.GenerateToken(accountID, h.sec.JWTSecret, h.sec.JWTTTLH)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, cacheTimeout)
	defer cancel()
	if err := h.cache.Set(ctx, mw.SessionKey(token), strconv.FormatInt(accountID, 10), h.sec.JWTTTLH); err != nil {
		return "", err
	}
	return token, nil
}

func (h *AuthHandler) dropSession(ctx context.Context, token string) {
	ctx, cancel := context.WithTimeout(ctx, cacheTimeout)
	defer cancel()
	_ = h.cache.Del(ctx, mw.SessionKey(token))
}

func (h *AuthHandler) auditLogin(c *gin.Context, acc *model.Account, username string, err error, start time.Time) {
	e := audit.Entry{
		TraceID:    mw.GetTraceID(c),
		Action:     audit.ActionLogin,
		Request:    gin.H{"username": username},
		IP:         c.ClientIP(),
		DurationMs: int(time.Since(start).Milliseconds()),
	}
	if acc != nil {
		e.AccountID = &acc.ID
	}
	if err != nil {
		e.Error = err.Error()
	}
	h.audit.Log(e)
}

// Logout handles POST /api/auth/logout.
func (h *AuthHandler) Logout(c *gin.Context) {
	token := mw.BearerToken(c)
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing token"})
		return
	}
	h.dropSession(c.Request.Context(), token)
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Refresh handles POST /api/auth/refresh. The old token stops working.
func (h *AuthHandler) Refresh(c *gin.Context) {
	accountID := mw.GetAccountID(c)
	if accountID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	token, err := h.issueSession(c.Request.Context(), accountID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}
	h.dropSession(c.Request.Context(), mw.BearerToken(c))

	c.JSON(http.StatusOK, gin.H{"token": token})
}

// isUniqueViolation detects duplicate-key errors from common database drivers.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") ||
		strings.Contains(msg, "duplicate") ||
		strings.Contains(msg, "already exists")
}
