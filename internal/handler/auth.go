package handler

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/backyardbar/ticketing/internal/config"
	"github.com/backyardbar/ticketing/internal/middleware"
	"github.com/backyardbar/ticketing/internal/model"
	"github.com/backyardbar/ticketing/internal/repository"
	"github.com/backyardbar/ticketing/internal/utils"
)

// AuthHandler bundles dependencies for the auth endpoints. Buyers and
// staff authenticate through separate endpoints against separate tables;
// both end up with the same token pair shape.
type AuthHandler struct {
	Cfg    config.Config
	Buyers *repository.BuyerRepo
	Staff  *repository.StaffRepo
	Tokens *repository.TokenRepo
}

func NewAuthHandler(cfg config.Config, b *repository.BuyerRepo, s *repository.StaffRepo, t *repository.TokenRepo) *AuthHandler {
	return &AuthHandler{Cfg: cfg, Buyers: b, Staff: s, Tokens: t}
}

// ----- DTOs -----

type registerReq struct {
	NationalID string `json:"national_id"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Password   string `json:"password"`
}
type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenPart struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}
type principalPart struct {
	ID    uint64 `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}
type authResp struct {
	User    principalPart `json:"user"`
	Access  tokenPart     `json:"access"`
	Refresh tokenPart     `json:"refresh"`
}

// issuePair mints an access/refresh pair for a principal and stores the
// refresh hash.
func (h *AuthHandler) issuePair(ctx context.Context, p model.Principal, admin bool) (utils.AccessToken, utils.RefreshToken, error) {
	id := p.BuyerID
	if p.IsStaff() {
		id = p.StaffID
	}
	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, id, string(p.Kind), admin, h.Cfg.AccessTTLMin)
	if err != nil {
		return utils.AccessToken{}, utils.RefreshToken{}, err
	}
	refresh, err := utils.NewRefreshToken(h.Cfg.RefreshTTLDays)
	if err != nil {
		return utils.AccessToken{}, utils.RefreshToken{}, err
	}
	if err := h.Tokens.StoreRefresh(ctx, p, utils.HashRefreshRaw(refresh.Raw), refresh.Exp); err != nil {
		return utils.AccessToken{}, utils.RefreshToken{}, err
	}
	return access, refresh, nil
}

// Register creates a buyer account and returns tokens immediately.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" || req.FirstName == "" || req.LastName == "" || req.NationalID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "national_id/first_name/last_name/email/password required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	hash, err := utils.HashPassword(req.Password, h.Cfg.BcryptCost)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create account failed"})
	}
	buyer := model.Buyer{
		NationalID:   strings.TrimSpace(req.NationalID),
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		Email:        req.Email,
		Phone:        strings.TrimSpace(req.Phone),
		PasswordHash: hash,
	}
	uid, err := h.Buyers.Create(ctx, &buyer)
	if err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "account already exists"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create account failed"})
	}

	p := model.Principal{Kind: model.KindBuyer, BuyerID: uid}
	access, refresh, err := h.issuePair(ctx, p, false)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue tokens failed"})
	}
	return c.JSON(http.StatusCreated, authResp{
		User:    principalPart{ID: uid, Email: buyer.Email, Role: string(model.KindBuyer)},
		Access:  tokenPart{Token: access.Token, Expires: access.Exp},
		Refresh: tokenPart{Token: refresh.Raw, Expires: refresh.Exp}, // raw back to client
	})
}

// Login verifies buyer credentials and returns a new token pair.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.Email == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email/password required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	b, err := h.Buyers.GetByEmail(ctx, req.Email)
	if err != nil || !utils.VerifyPassword(b.PasswordHash, req.Password) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}

	p := model.Principal{Kind: model.KindBuyer, BuyerID: b.ID}
	access, refresh, err := h.issuePair(ctx, p, false)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue tokens failed"})
	}
	return c.JSON(http.StatusOK, authResp{
		User:    principalPart{ID: b.ID, Email: b.Email, Role: string(model.KindBuyer)},
		Access:  tokenPart{Token: access.Token, Expires: access.Exp},
		Refresh: tokenPart{Token: refresh.Raw, Expires: refresh.Exp},
	})
}

// StaffLogin verifies staff credentials and returns a new token pair.
func (h *AuthHandler) StaffLogin(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.Email == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email/password required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	s, err := h.Staff.GetByEmail(ctx, req.Email)
	if err != nil || !utils.VerifyPassword(s.PasswordHash, req.Password) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}

	p := model.Principal{Kind: model.KindStaff, StaffID: s.ID}
	access, refresh, err := h.issuePair(ctx, p, s.IsAdmin)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue tokens failed"})
	}
	return c.JSON(http.StatusOK, authResp{
		User:    principalPart{ID: s.ID, Email: s.Email, Role: string(model.KindStaff)},
		Access:  tokenPart{Token: access.Token, Expires: access.Exp},
		Refresh: tokenPart{Token: refresh.Raw, Expires: refresh.Exp},
	})
}

// Refresh rotates a refresh token: the presented token is revoked and a
// fresh pair is issued to its principal.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil || req.RefreshToken == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "refresh_token required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	hash := utils.HashRefreshRaw(req.RefreshToken)
	p, err := h.Tokens.ValidateRefresh(ctx, hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh token"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "refresh failed"})
	}
	if err := h.Tokens.RevokeByHash(ctx, hash); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "refresh failed"})
	}

	admin := false
	var email string
	if p.IsStaff() {
		s, err := h.Staff.GetByID(ctx, p.StaffID)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "account gone"})
		}
		admin, email = s.IsAdmin, s.Email
	} else {
		b, err := h.Buyers.GetByID(ctx, p.BuyerID)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "account gone"})
		}
		email = b.Email
	}

	access, refresh, err := h.issuePair(ctx, p, admin)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue tokens failed"})
	}
	id := p.BuyerID
	if p.IsStaff() {
		id = p.StaffID
	}
	return c.JSON(http.StatusOK, authResp{
		User:    principalPart{ID: id, Email: email, Role: string(p.Kind)},
		Access:  tokenPart{Token: access.Token, Expires: access.Exp},
		Refresh: tokenPart{Token: refresh.Raw, Expires: refresh.Exp},
	})
}

// Logout revokes the presented refresh token. Always 204; revoking an
// unknown token is not an error worth telling an attacker about.
func (h *AuthHandler) Logout(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil || req.RefreshToken == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "refresh_token required"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	_ = h.Tokens.RevokeByHash(ctx, utils.HashRefreshRaw(req.RefreshToken))
	return c.NoContent(http.StatusNoContent)
}

// Me returns the authenticated principal's profile.
func (h *AuthHandler) Me(c echo.Context) error {
	p, ok := middleware.Principal(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if p.IsStaff() {
		s, err := h.Staff.GetByID(ctx, p.StaffID)
		if err != nil {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "account not found"})
		}
		return c.JSON(http.StatusOK, echo.Map{
			"id": s.ID, "email": s.Email, "role": model.KindStaff, "is_admin": s.IsAdmin,
		})
	}
	b, err := h.Buyers.GetByID(ctx, p.BuyerID)
	if err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "account not found"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"id": b.ID, "email": b.Email, "role": model.KindBuyer,
		"national_id": b.NationalID, "name": b.FullName(), "phone": b.Phone,
	})
}
