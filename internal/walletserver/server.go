// Package walletserver is the provider callback endpoint. Every request runs
// parse, integrity check, command parse, data validation and the command
// handler, and always answers HTTP 200 with a signed envelope.
package walletserver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/attaboy/settlement/internal/cache"
	"github.com/attaboy/settlement/internal/clock"
	"github.com/attaboy/settlement/internal/domain"
	"github.com/attaboy/settlement/internal/guard"
	"github.com/attaboy/settlement/internal/handler"
	"github.com/attaboy/settlement/internal/infra"
	"github.com/attaboy/settlement/internal/integrity"
	"github.com/attaboy/settlement/internal/ledger"
	"github.com/attaboy/settlement/internal/protocol"
	"github.com/attaboy/settlement/internal/repository"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
)

const (
	maxBodyBytes = 1 << 20
	cacheCircuit = "cache"
)

// Deps are the collaborators of a Server. Cache, Breaker, Burst and Metrics
// are optional.
type Deps struct {
	Runner       repository.TxRunner
	Engine       *ledger.Engine
	Users        repository.UserRepository
	Games        repository.GameRepository
	Wallets      repository.WalletRepository
	Transactions repository.TransactionRepository
	Sessions     *cache.SessionStore
	Cache        cache.Store
	Breaker      *guard.CircuitBreaker
	Burst        *guard.BurstDetector
	Signer       *integrity.Signer
	Clock        clock.Clock
	Metrics      *infra.Metrics
	Logger       *slog.Logger

	// UnifiedWallet routes every game to the main wallet. When false a game's
	// category wallet is used if the player has one.
	UnifiedWallet   bool
	DefaultCategory string
	Health          func(ctx context.Context) error
}

// Server handles provider callbacks.
type Server struct {
	runner       repository.TxRunner
	engine       *ledger.Engine
	users        repository.UserRepository
	games        repository.GameRepository
	wallets      repository.WalletRepository
	transactions repository.TransactionRepository
	sessions     *cache.SessionStore
	cache        cache.Store
	breaker      *guard.CircuitBreaker
	burst        *guard.BurstDetector
	signer       *integrity.Signer
	builder      *protocol.Builder
	clock        clock.Clock
	metrics      *infra.Metrics
	logger       *slog.Logger

	unified         bool
	defaultCategory string
	health          func(ctx context.Context) error
}

// New creates a Server.
func New(d Deps) *Server {
	if d.Clock == nil {
		d.Clock = clock.RealClock{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.DefaultCategory == "" {
		d.DefaultCategory = "slots"
	}
	return &Server{
		runner:          d.Runner,
		engine:          d.Engine,
		users:           d.Users,
		games:           d.Games,
		wallets:         d.Wallets,
		transactions:    d.Transactions,
		sessions:        d.Sessions,
		cache:           d.Cache,
		breaker:         d.Breaker,
		burst:           d.Burst,
		signer:          d.Signer,
		builder:         protocol.NewBuilder(d.Signer, d.Clock),
		clock:           d.Clock,
		metrics:         d.Metrics,
		logger:          d.Logger,
		unified:         d.UnifiedWallet,
		defaultCategory: d.DefaultCategory,
		health:          d.Health,
	}
}

// NewRouter builds the callback chi.Router.
func (s *Server) NewRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(handler.RequestID)
	r.Use(handler.RequestLogger(s.logger))

	r.Get("/health", handler.HealthHandler(s.health))
	r.Post("/", s.ServeCallback)
	r.Post("/callback", s.ServeCallback)
	return r
}

// ServeCallback answers one provider callback.
func (s *Server) ServeCallback(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	var env *protocol.Envelope
	label := "unknown"
	if err != nil {
		env = s.builder.Error(nil, domain.ErrValidation("unreadable body"))
	} else {
		label, env = s.process(r.Context(), r.Header.Get("Authorization"), body)
	}

	code := "OK"
	if ed, ok := env.Response.Data.(protocol.ErrorData); ok {
		code = ed.ErrorCode
	}
	s.metrics.ObserveCommand(label, code, time.Since(start))

	w.Header().Set("Content-Type", "application/json")
	handler.RespondJSON(w, http.StatusOK, env)
}

// process never panics; a panic in a handler becomes OP_99.
func (s *Server) process(ctx context.Context, authorization string, body []byte) (label string, env *protocol.Envelope) {
	label = "unknown"
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("callback panic recovered",
				"error", rec,
				"command", label,
				"stack", string(debug.Stack()),
				"request_id", handler.GetRequestID(ctx),
			)
			env = s.builder.Error(body, domain.ErrInternal("panic", fmt.Errorf("%v", rec)))
		}
	}()

	req, err := protocol.DecodeRequest(body)
	if err != nil {
		return label, s.fail(ctx, label, body, err)
	}

	if err := s.signer.VerifyAuthorization(req.Command, authorization); err != nil {
		return label, s.fail(ctx, label, body, err)
	}
	if err := s.signer.VerifyRequest(req.Command, req.RequestTimestamp, req.Hash); err != nil {
		return label, s.fail(ctx, label, body, err)
	}

	cmd, err := protocol.ParseCommand(req.Command)
	if err != nil {
		return label, s.fail(ctx, label, body, err)
	}
	label = string(cmd)

	data, err := s.dispatch(ctx, cmd, req)
	if err != nil {
		return label, s.fail(ctx, label, body, err)
	}
	return label, s.builder.OK(body, data)
}

func (s *Server) dispatch(ctx context.Context, cmd protocol.Command, req *protocol.Request) (interface{}, error) {
	switch cmd {
	case protocol.Authenticate:
		return s.authenticate(ctx, req)
	case protocol.Balance:
		return s.balance(ctx, req)
	case protocol.ChangeBalance:
		return s.changeBalance(ctx, req)
	case protocol.Status:
		return s.status(ctx, req)
	case protocol.Cancel:
		return s.cancel(ctx, req)
	case protocol.FinishRound:
		return s.finishRound(ctx, req)
	}
	return nil, domain.ErrUnknownCommand(string(cmd))
}

func (s *Server) fail(ctx context.Context, label string, body []byte, err error) *protocol.Envelope {
	env := s.builder.Error(body, err)
	code := protocol.CodeFor(err)
	if appErr, ok := domain.AsAppError(err); ok && appErr.Code != domain.CodeInternal {
		s.logger.Info("callback rejected",
			"command", label,
			"code", code,
			"reason", appErr.Code,
			"error", appErr.Message,
			"request_id", handler.GetRequestID(ctx),
		)
		return env
	}
	s.logger.Error("callback failed",
		"command", label,
		"code", code,
		"error", err,
		"request_id", handler.GetRequestID(ctx),
	)
	return env
}

// inTx runs fn as one unit of work. Losing the idempotency race to another
// node rolls the unit back; the single retry then finds the committed entry.
func (s *Server) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	err := s.runner.InTx(ctx, fn)
	if ledger.IsDuplicate(err) {
		s.metrics.ObserveDuplicateRetry()
		s.logger.Warn("duplicate reference on insert, retrying", "error", err)
		err = s.runner.InTx(ctx, fn)
	}
	return err
}

// project writes committed snapshots through to the balance projection.
// Failures are logged and never fail the callback.
func (s *Server) project(ctx context.Context, wallets ...*domain.Wallet) {
	if s.cache == nil {
		return
	}
	for _, w := range wallets {
		if w == nil {
			continue
		}
		if s.breaker != nil && !s.breaker.Check(ctx, cacheCircuit).Allowed {
			return
		}
		if err := cache.UpdateBalance(ctx, s.cache, w); err != nil {
			if s.breaker != nil {
				s.breaker.RecordFailure(cacheCircuit)
			}
			s.metrics.ObserveCacheWriteFailure()
			s.logger.Warn("balance projection write failed", "error", err, "user_id", w.UserID, "category", w.Category)
			continue
		}
		if s.breaker != nil {
			s.breaker.RecordSuccess(cacheCircuit)
		}
	}
}
