/*
handlers.go - HTTP API handlers for the cashback engine

PURPOSE:
  Exposes the cashback engine via REST API. Handles HTTP request/response,
  JSON serialization and validation, and delegates to cashback.Service for
  every reward computation. The store-backed CRUD endpoints exist to feed
  the engine; they never compute rewards themselves.

ENDPOINTS:
  Cashback:
    GET    /api/cashback/stats?accountId&date&categoryId  Cycle snapshot (+ policy)
    GET    /api/cashback/progress?accountId&date          Per-rule progress
    GET    /api/cashback/cycle?accountId&date             Resolved cycle
    POST   /api/cashback/preview                          Live reward preview

  Accounts:
    GET    /api/accounts                        List accounts
    POST   /api/accounts                        Create account
    GET    /api/accounts/{id}                   Get account with parsed config
    PUT    /api/accounts/{id}/cashback          Replace cashback config
    GET    /api/accounts/{id}/transactions      Transactions (?from&to)
    GET    /api/accounts/{id}/snapshots         Closed cycles + total earned
    POST   /api/accounts/{id}/cycles/close      Close the cycle containing date

  Categories and shops:
    GET/POST /api/categories, GET/POST /api/shops

  Transactions:
    POST   /api/transactions                    Create (returns reward preview)
    PUT    /api/transactions/{id}               Update (returns reward preview)

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input (ozzo-validation on the *Request types)
  3. Call the store or cashback.Service
  4. Invalidate cached snapshots after writes
  5. Serialize response

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid cashback config
  - 404: Account, transaction or snapshot not found
  - 409: Duplicate idempotency key
  - 500: Internal errors (logged)

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - cashback/service.go: The engine façade
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/warp/cashback-engine/cashback"
	"github.com/warp/cashback-engine/factory"
	"github.com/warp/cashback-engine/generic"
	"github.com/warp/cashback-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   *sqlite.Store
	Service *cashback.Service
	Configs *factory.ConfigFactory
	Logger  logrus.FieldLogger

	// Now is the default reference date when a request omits one.
	Now func() time.Time
}

// NewHandler creates a new handler over store and svc.
func NewHandler(store *sqlite.Store, svc *cashback.Service, logger logrus.FieldLogger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		Store:   store,
		Service: svc,
		Configs: factory.NewConfigFactory(),
		Logger:  logger,
		Now:     time.Now,
	}
}

// =============================================================================
// CASHBACK QUERIES
// =============================================================================

// GetStats returns the snapshot of the cycle containing date.
// GET /api/cashback/stats?accountId=...&date=YYYY-MM-DD&categoryId=...
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	accountID, date, ok := h.accountAndDate(w, r)
	if !ok {
		return
	}

	stats, err := h.Service.Stats(r.Context(), cashback.StatsQuery{
		AccountID:  accountID,
		Date:       date,
		CategoryID: r.URL.Query().Get("categoryId"),
	})
	if err != nil {
		h.writeFailure(w, "Failed to compute cashback stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GetProgress returns one entry per active rule plus the default bucket.
// GET /api/cashback/progress?accountId=...&date=...
func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	accountID, date, ok := h.accountAndDate(w, r)
	if !ok {
		return
	}

	progress, err := h.Service.Progress(r.Context(), accountID, date)
	if err != nil {
		h.writeFailure(w, "Failed to compute cashback progress", err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

// GetCycle returns the cycle containing date.
// GET /api/cashback/cycle?accountId=...&date=...
func (h *Handler) GetCycle(w http.ResponseWriter, r *http.Request) {
	accountID, date, ok := h.accountAndDate(w, r)
	if !ok {
		return
	}

	cycle, err := h.Service.Cycle(r.Context(), accountID, date)
	if err != nil {
		h.writeFailure(w, "Failed to resolve cycle", err)
		return
	}
	writeJSON(w, http.StatusOK, cycle)
}

// PreviewCashback previews the reward of an uncommitted transaction.
// POST /api/cashback/preview
func (h *Handler) PreviewCashback(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequestDTO
	if !h.decode(w, r, &req) {
		return
	}

	preview, err := h.Service.Preview(r.Context(), req.request(h.Now()))
	if err != nil {
		h.writeFailure(w, "Failed to preview cashback", err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// ListAccounts returns all accounts.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	records, err := h.Store.ListAccounts(r.Context())
	if err != nil {
		h.writeFailure(w, "Failed to list accounts", err)
		return
	}

	dtos := make([]AccountDTO, len(records))
	for i, rec := range records {
		dtos[i] = toAccountDTO(rec, h.Configs)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateAccount creates an account. A cashback config, when given, must
// pass strict validation.
// POST /api/accounts
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if !h.decode(w, r, &req) {
		return
	}

	raw, err := h.authoredConfig(req.Cashback)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid cashback config", err)
		return
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	rec := sqlite.AccountRecord{
		ID:             generic.AccountID(id),
		Name:           req.Name,
		Type:           cashback.AccountType(req.Type),
		CreditLimit:    req.CreditLimit,
		CashbackConfig: raw,
	}
	if err := h.Store.SaveAccount(r.Context(), rec); err != nil {
		h.writeFailure(w, "Failed to create account", err)
		return
	}

	saved, err := h.Store.GetAccountRecord(r.Context(), rec.ID)
	if err != nil {
		h.writeFailure(w, "Failed to load account", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountDTO(*saved, h.Configs))
}

// GetAccount returns one account with its parsed config and anomalies.
// GET /api/accounts/{id}
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Store.GetAccountRecord(r.Context(), generic.AccountID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeFailure(w, "Failed to load account", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(*rec, h.Configs))
}

// UpdateCashbackConfig replaces the account's cashback config. The body is
// the config itself; null removes the program. The cycle in progress is
// snapshotted under the old config first.
// PUT /api/accounts/{id}/cashback
func (h *Handler) UpdateCashbackConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := generic.AccountID(chi.URLParam(r, "id"))

	var body json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	raw, err := h.authoredConfig(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid cashback config", err)
		return
	}

	current, err := h.Store.GetAccount(ctx, accountID)
	if err != nil {
		h.writeFailure(w, "Failed to load account", err)
		return
	}

	now := h.Now()
	if current.Cashback != nil && h.Service.Snapshots != nil {
		if _, err := h.Service.CloseCycle(ctx, accountID, now, generic.SnapshotConfigChange); err != nil {
			h.Logger.WithError(err).WithField("account_id", accountID).Warn("failed to snapshot cycle before config change")
		}
	}
	h.Service.Invalidate(ctx, accountID, now)

	if err := h.Store.SetCashbackConfig(ctx, accountID, raw); err != nil {
		h.writeFailure(w, "Failed to update cashback config", err)
		return
	}
	h.Service.Invalidate(ctx, accountID, now)

	rec, err := h.Store.GetAccountRecord(ctx, accountID)
	if err != nil {
		h.writeFailure(w, "Failed to load account", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(*rec, h.Configs))
}

// ListAccountTransactions returns the account's transactions, optionally
// restricted to [from, to).
// GET /api/accounts/{id}/transactions?from=...&to=...
func (h *Handler) ListAccountTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := generic.AccountID(chi.URLParam(r, "id"))
	if _, err := h.Store.GetAccountRecord(ctx, accountID); err != nil {
		h.writeFailure(w, "Failed to load account", err)
		return
	}

	var (
		txs []generic.Transaction
		err error
	)
	from, to := r.URL.Query().Get("from"), r.URL.Query().Get("to")
	if from != "" || to != "" {
		period, perr := parseRange(from, to)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "Invalid date range", perr)
			return
		}
		txs, err = h.Store.LoadRange(ctx, accountID, period.Start, period.End)
	} else {
		txs, err = h.Store.Load(ctx, accountID)
	}
	if err != nil {
		h.writeFailure(w, "Failed to load transactions", err)
		return
	}

	generic.SortTransactions(txs)
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListSnapshots returns the account's closed cycles.
// GET /api/accounts/{id}/snapshots
func (h *Handler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := generic.AccountID(chi.URLParam(r, "id"))
	if _, err := h.Store.GetAccountRecord(ctx, accountID); err != nil {
		h.writeFailure(w, "Failed to load account", err)
		return
	}

	snapshots, err := h.Store.ListSnapshots(ctx, accountID)
	if err != nil {
		h.writeFailure(w, "Failed to list snapshots", err)
		return
	}

	resp := SnapshotListDTO{
		Snapshots:   make([]SnapshotDTO, len(snapshots)),
		TotalEarned: cashback.TotalEarned(snapshots),
	}
	for i, s := range snapshots {
		resp.Snapshots[i] = toSnapshotDTO(s)
	}
	writeJSON(w, http.StatusOK, resp)
}

// CloseCycle snapshots the cycle containing date (default today).
// POST /api/accounts/{id}/cycles/close
func (h *Handler) CloseCycle(w http.ResponseWriter, r *http.Request) {
	var req CloseCycleRequest
	if r.ContentLength != 0 {
		if !h.decode(w, r, &req) {
			return
		}
	}

	ref := h.Now()
	if req.Date != "" {
		ref, _ = generic.ParseDate(req.Date)
	}
	reason := generic.SnapshotManual
	if req.Reason != "" {
		reason = generic.SnapshotReason(req.Reason)
	}

	snap, err := h.Service.CloseCycle(r.Context(), generic.AccountID(chi.URLParam(r, "id")), ref, reason)
	if err != nil {
		h.writeFailure(w, "Failed to close cycle", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSnapshotDTO(*snap))
}

// =============================================================================
// CATEGORY AND SHOP HANDLERS
// =============================================================================

func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.Store.ListCategories(r.Context())
	if err != nil {
		h.writeFailure(w, "Failed to list categories", err)
		return
	}
	dtos := make([]CategoryDTO, len(categories))
	for i, c := range categories {
		dtos[i] = toCategoryDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateCategory creates or replaces a category. Tags such as "refund"
// exclude the category from cashback spend.
func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req CreateCategoryRequest
	if !h.decode(w, r, &req) {
		return
	}
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	category := req.category(id)
	if err := h.Store.SaveCategory(r.Context(), category); err != nil {
		h.writeFailure(w, "Failed to create category", err)
		return
	}
	if category.Type == "" {
		category.Type = cashback.CategoryExpense
	}
	writeJSON(w, http.StatusCreated, toCategoryDTO(category))
}

func (h *Handler) ListShops(w http.ResponseWriter, r *http.Request) {
	shops, err := h.Store.ListShops(r.Context())
	if err != nil {
		h.writeFailure(w, "Failed to list shops", err)
		return
	}
	dtos := make([]ShopDTO, len(shops))
	for i, s := range shops {
		dtos[i] = ShopDTO{ID: s.ID, Name: s.Name, DefaultCategoryID: s.DefaultCategoryID}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateShop(w http.ResponseWriter, r *http.Request) {
	var req CreateShopRequest
	if !h.decode(w, r, &req) {
		return
	}
	shop := sqlite.Shop{ID: req.ID, Name: req.Name, DefaultCategoryID: req.DefaultCategoryID}
	if shop.ID == "" {
		shop.ID = uuid.NewString()
	}
	if err := h.Store.SaveShop(r.Context(), shop); err != nil {
		h.writeFailure(w, "Failed to create shop", err)
		return
	}
	writeJSON(w, http.StatusCreated, ShopDTO{ID: shop.ID, Name: shop.Name, DefaultCategoryID: shop.DefaultCategoryID})
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// CreateTransaction posts a transaction and returns its reward preview
// against the rest of its cycle.
// POST /api/transactions
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if !h.decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	tx := req.transaction(generic.TransactionID(uuid.NewString()))
	tx.CreatedAt = h.Now()

	if err := h.Store.Append(ctx, tx); err != nil {
		h.writeFailure(w, "Failed to create transaction", err)
		return
	}
	h.Service.Invalidate(ctx, tx.AccountID, tx.OccurredAt)

	writeJSON(w, http.StatusCreated, TransactionResponse{
		Transaction: toTransactionDTO(tx),
		Cashback:    h.previewPosted(r, tx),
	})
}

// UpdateTransaction replaces a transaction. Both the old and the new cycle
// are invalidated since the date may have moved.
// PUT /api/transactions/{id}
func (h *Handler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := generic.TransactionID(chi.URLParam(r, "id"))

	existing, err := h.Store.Get(ctx, id)
	if err != nil {
		h.writeFailure(w, "Failed to load transaction", err)
		return
	}

	var req TransactionRequest
	if !h.decode(w, r, &req) {
		return
	}
	tx := req.transaction(id)
	tx.CreatedAt = existing.CreatedAt

	if err := h.Store.Update(ctx, tx); err != nil {
		h.writeFailure(w, "Failed to update transaction", err)
		return
	}
	h.Service.Invalidate(ctx, existing.AccountID, existing.OccurredAt)
	h.Service.Invalidate(ctx, tx.AccountID, tx.OccurredAt)

	writeJSON(w, http.StatusOK, TransactionResponse{
		Transaction: toTransactionDTO(tx),
		Cashback:    h.previewPosted(r, tx),
	})
}

// previewPosted evaluates tx against the other rows of its cycle. Failures
// only drop the preview from the response.
func (h *Handler) previewPosted(r *http.Request, tx generic.Transaction) *cashback.Preview {
	if tx.Void || tx.Kind != generic.KindExpense {
		return nil
	}
	preview, err := h.Service.Preview(r.Context(), cashback.PreviewRequest{
		AccountID: tx.AccountID,
		Candidate: cashback.Candidate{
			ID:           tx.ID,
			Amount:       tx.Amount,
			OccurredAt:   tx.OccurredAt,
			CategoryID:   tx.CategoryID,
			ShopID:       tx.ShopID,
			Mode:         tx.CashbackMode,
			SharePercent: tx.SharePercent,
			ShareFixed:   tx.ShareFixed,
		},
	})
	if err != nil {
		h.Logger.WithError(err).WithField("transaction_id", tx.ID).Warn("cashback preview failed")
		return nil
	}
	return preview
}

// Healthz reports liveness.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

type validatable interface {
	Validate() error
}

// decode reads a JSON body into v and validates it, answering 400 on
// failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v validatable) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := v.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

// accountAndDate reads the accountId and date query parameters. The date
// defaults to today.
func (h *Handler) accountAndDate(w http.ResponseWriter, r *http.Request) (generic.AccountID, time.Time, bool) {
	q := r.URL.Query()
	accountID := strings.TrimSpace(q.Get("accountId"))
	if accountID == "" {
		writeError(w, http.StatusBadRequest, "accountId is required", nil)
		return "", time.Time{}, false
	}

	date := h.Now()
	if s := q.Get("date"); s != "" {
		parsed, err := generic.ParseDate(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date", err)
			return "", time.Time{}, false
		}
		date = parsed
	}
	return generic.AccountID(accountID), date, true
}

// authoredConfig validates a config at the authoring boundary and returns
// the blob to store. Null or empty means no program.
func (h *Handler) authoredConfig(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	if _, err := h.Configs.ParseStrict(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func parseRange(from, to string) (generic.Period, error) {
	var p generic.Period
	var err error
	if p.Start, err = generic.ParseDate(from); err != nil {
		return p, err
	}
	if p.End, err = generic.ParseDate(to); err != nil {
		return p, err
	}
	return p, p.Validate()
}

// writeFailure maps engine and store errors to HTTP statuses.
func (h *Handler) writeFailure(w http.ResponseWriter, message string, err error) {
	switch {
	case generic.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, generic.ErrDuplicateIdempotencyKey):
		writeError(w, http.StatusConflict, message, err)
	case generic.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		h.Logger.WithError(err).Error(message)
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
