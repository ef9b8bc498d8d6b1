package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/attaboy/settlement/internal/auth"
	"github.com/attaboy/settlement/internal/cache"
	"github.com/attaboy/settlement/internal/domain"
	"github.com/attaboy/settlement/internal/reconcile"
	"github.com/attaboy/settlement/internal/repository"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Reconciler is the slice of reconcile.Service the admin API drives.
type Reconciler interface {
	ReconcileUser(ctx context.Context, userID string) ([]reconcile.Report, error)
}

// AdminHandler serves back-office wallet views and on-demand reconciliation.
type AdminHandler struct {
	runner       repository.TxRunner
	wallets      repository.WalletRepository
	transactions repository.TransactionRepository
	reconciler   Reconciler
	sessions     *cache.SessionStore
	logger       *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(
	runner repository.TxRunner,
	wallets repository.WalletRepository,
	transactions repository.TransactionRepository,
	reconciler Reconciler,
	sessions *cache.SessionStore,
	logger *slog.Logger,
) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{
		runner:       runner,
		wallets:      wallets,
		transactions: transactions,
		reconciler:   reconciler,
		sessions:     sessions,
		logger:       logger,
	}
}

// AdminRouterConfig wires the admin listener.
type AdminRouterConfig struct {
	Handler     *AdminHandler
	JWT         *auth.JWTManager
	Logger      *slog.Logger
	CORSOrigin  string
	Metrics     http.Handler
	HealthCheck func(ctx context.Context) error
}

// NewAdminRouter builds the admin listener: /health and /metrics are open,
// everything under /admin requires an admin or service token.
func NewAdminRouter(cfg AdminRouterConfig) chi.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Recovery(logger))
	if cfg.CORSOrigin != "" {
		r.Use(CORSWithOrigins(cfg.CORSOrigin))
	}

	r.Get("/health", HealthHandler(cfg.HealthCheck))
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Route("/admin", func(r chi.Router) {
		r.Use(RequestLogger(logger))
		r.Use(JSONContentType)
		r.Use(auth.AuthenticateAdmin(cfg.JWT))

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(auth.AllRoles()...))
			r.Get("/wallets/{userID}", cfg.Handler.ListWallets)
			r.Get("/wallets/{userID}/{category}/transactions", cfg.Handler.ListWalletTransactions)
			r.Get("/transactions/{reference}", cfg.Handler.FindByReference)
		})
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(auth.WriteRoles()...))
			r.Post("/reconcile/{userID}", cfg.Handler.ReconcileUser)
			r.Post("/sessions", cfg.Handler.CreateSession)
			r.Delete("/sessions/{token}", cfg.Handler.RevokeSession)
		})
	})
	return r
}

// ListWallets handles GET /admin/wallets/{userID}.
func (h *AdminHandler) ListWallets(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var wallets []domain.Wallet
	err := h.runner.InTx(r.Context(), func(tx pgx.Tx) error {
		var err error
		wallets, err = h.wallets.ListByUser(r.Context(), tx, userID)
		return err
	})
	if err != nil {
		RespondError(w, domain.ErrInternal("list wallets", err))
		return
	}
	if len(wallets) == 0 {
		RespondError(w, domain.ErrNotFound("wallets for user", userID))
		return
	}

	RespondJSON(w, http.StatusOK, map[string]interface{}{"wallets": wallets})
}

// txListResponse is the newest-first page of a wallet log.
type txListResponse struct {
	Transactions []domain.Transaction `json:"transactions"`
	Total        int                  `json:"total"`
}

// ListWalletTransactions handles GET /admin/wallets/{userID}/{category}/transactions.
// ?limit (default 50, max 500) returns the newest entries first.
func (h *AdminHandler) ListWalletTransactions(w http.ResponseWriter, r *http.Request) {
	key := domain.WalletKey{UserID: chi.URLParam(r, "userID"), Category: chi.URLParam(r, "category")}

	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 500 {
			RespondError(w, domain.ErrValidation("limit must be between 1 and 500"))
			return
		}
		limit = n
	}

	var entries []domain.Transaction
	err := h.runner.InTx(r.Context(), func(tx pgx.Tx) error {
		var err error
		entries, err = h.transactions.ListByWallet(r.Context(), tx, key)
		return err
	})
	if err != nil {
		RespondError(w, domain.ErrInternal("list transactions", err))
		return
	}

	page := make([]domain.Transaction, 0, limit)
	for i := len(entries) - 1; i >= 0 && len(page) < limit; i-- {
		page = append(page, entries[i])
	}
	RespondJSON(w, http.StatusOK, txListResponse{Transactions: page, Total: len(entries)})
}

// FindByReference handles GET /admin/transactions/{reference}. The reference
// is provider-scoped, so entries of several users may share it.
func (h *AdminHandler) FindByReference(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "reference")

	var entries []domain.Transaction
	err := h.runner.InTx(r.Context(), func(tx pgx.Tx) error {
		var err error
		entries, err = h.transactions.ListByReference(r.Context(), tx, ref)
		return err
	})
	if err != nil {
		RespondError(w, domain.ErrInternal("find transaction", err))
		return
	}
	if len(entries) == 0 {
		RespondError(w, domain.ErrTransactionNotFound(ref))
		return
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{"transactions": entries})
}

// ReconcileUser handles POST /admin/reconcile/{userID}.
func (h *AdminHandler) ReconcileUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	reports, err := h.reconciler.ReconcileUser(r.Context(), userID)
	if err != nil {
		if _, ok := domain.AsAppError(err); !ok {
			err = domain.ErrInternal("reconcile", err)
		}
		h.logger.Error("admin reconcile failed", "user_id", userID, "error", err, "actor", auth.SubjectFromContext(r.Context()))
		RespondError(w, err)
		return
	}

	drifted := 0
	for _, rep := range reports {
		if rep.Drift {
			drifted++
		}
	}
	h.logger.Info("admin reconcile",
		"user_id", userID,
		"wallets", len(reports),
		"drifted", drifted,
		"actor", auth.SubjectFromContext(r.Context()),
		"request_id", GetRequestID(r.Context()),
	)
	RespondJSON(w, http.StatusOK, map[string]interface{}{"user_id": userID, "reports": reports})
}

type createSessionRequest struct {
	UserID   string `json:"user_id"`
	GameID   string `json:"game_id"`
	Category string `json:"category"`
	TTL      string `json:"ttl"`
}

// CreateSession handles POST /admin/sessions. It issues the opaque token a
// game launch hands to the provider.
func (h *AdminHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondError(w, domain.ErrValidation("invalid request body"))
		return
	}
	if req.UserID == "" {
		RespondError(w, domain.ErrMissingFields("user_id"))
		return
	}

	s := domain.Session{
		Token:    uuid.NewString(),
		UserID:   req.UserID,
		GameID:   req.GameID,
		Category: req.Category,
	}
	if req.TTL != "" {
		ttl, err := time.ParseDuration(req.TTL)
		if err != nil || ttl <= 0 {
			RespondError(w, domain.ErrValidation("ttl must be a positive duration"))
			return
		}
		s.ExpiresAt = time.Now().UTC().Add(ttl)
	}

	stored, err := h.sessions.Put(r.Context(), s)
	if err != nil {
		if _, ok := domain.AsAppError(err); !ok {
			err = domain.ErrInternal("store session", err)
		}
		RespondError(w, err)
		return
	}
	h.logger.Info("session issued", "user_id", stored.UserID, "game_id", stored.GameID, "expires_at", stored.ExpiresAt)
	RespondJSON(w, http.StatusCreated, stored)
}

// RevokeSession handles DELETE /admin/sessions/{token}.
func (h *AdminHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Delete(r.Context(), chi.URLParam(r, "token")); err != nil {
		RespondError(w, domain.ErrInternal("revoke session", err))
		return
	}
	RespondJSON(w, http.StatusNoContent, nil)
}
