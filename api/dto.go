/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's model from the external API contract: money is serialized
  as decimal strings, dates as YYYY-MM-DD or RFC3339, and the cashback
  config travels in its authored JSON shape (factory.ConfigJSON).

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Accounts:
    AccountDTO, CreateAccountRequest

  Categories and shops:
    CategoryDTO, CreateCategoryRequest, ShopDTO, CreateShopRequest

  Transactions:
    TransactionDTO, TransactionRequest, TransactionResponse

  Cashback:
    PreviewRequestDTO, CloseCycleRequest, SnapshotDTO, SnapshotListDTO

VALIDATION:
  Request types implement ozzo-validation's Validatable. Handlers call
  Validate() before touching the store and answer 400 with the field
  errors as details.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/policy.go: ConfigJSON type
*/
package api

import (
	"encoding/json"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
	"github.com/warp/cashback-engine/cashback"
	"github.com/warp/cashback-engine/factory"
	"github.com/warp/cashback-engine/generic"
	"github.com/warp/cashback-engine/store/sqlite"
)

// =============================================================================
// ACCOUNTS
// =============================================================================

// AccountDTO represents an account in API responses.
type AccountDTO struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Type        string              `json:"type"`
	CreditLimit *decimal.Decimal    `json:"creditLimit,omitempty"`
	Cashback    *factory.ConfigJSON `json:"cashbackConfig,omitempty"`
	Invalid     string              `json:"cashbackInvalid,omitempty"`
	Anomalies   []string            `json:"cashbackAnomalies,omitempty"`
	CreatedAt   time.Time           `json:"createdAt"`
	UpdatedAt   time.Time           `json:"updatedAt"`
}

// CreateAccountRequest is the body of POST /api/accounts.
type CreateAccountRequest struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Type        string           `json:"type"`
	CreditLimit *decimal.Decimal `json:"creditLimit"`
	Cashback    json.RawMessage  `json:"cashbackConfig"`
}

func (r CreateAccountRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Type, validation.Required, validation.In(accountTypes()...)),
		validation.Field(&r.CreditLimit, validation.By(nonNegativeDecimal)),
	)
}

func accountTypes() []interface{} {
	out := make([]interface{}, len(cashback.AccountTypes))
	for i, t := range cashback.AccountTypes {
		out[i] = string(t)
	}
	return out
}

func toAccountDTO(rec sqlite.AccountRecord, configs *factory.ConfigFactory) AccountDTO {
	dto := AccountDTO{
		ID:          string(rec.ID),
		Name:        rec.Name,
		Type:        string(rec.Type),
		CreditLimit: rec.CreditLimit,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
	cfg, anomalies := configs.Parse(rec.CashbackConfig)
	if cfg != nil {
		cj := configs.ToJSON(cfg)
		dto.Cashback = &cj
		dto.Invalid = cfg.Invalid
	}
	dto.Anomalies = anomalies
	return dto
}

// =============================================================================
// CATEGORIES AND SHOPS
// =============================================================================

type CategoryDTO struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	ParentID string   `json:"parentId,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// CreateCategoryRequest is the body of POST /api/categories.
type CreateCategoryRequest struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	ParentID string   `json:"parentId"`
	Tags     []string `json:"tags"`
}

func (r CreateCategoryRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Type, validation.In(
			string(cashback.CategoryExpense), string(cashback.CategoryIncome), string(cashback.CategoryTransfer),
		)),
		validation.Field(&r.Tags, validation.Each(validation.In(
			string(cashback.TagRefund), string(cashback.TagRepayment), string(cashback.TagCashback), string(cashback.TagTransfer),
		))),
	)
}

func (r CreateCategoryRequest) category(id string) cashback.Category {
	c := cashback.Category{
		ID:       id,
		Name:     r.Name,
		Type:     cashback.CategoryType(r.Type),
		ParentID: r.ParentID,
	}
	for _, tag := range r.Tags {
		c.Tags = append(c.Tags, cashback.CategoryTag(tag))
	}
	return c
}

func toCategoryDTO(c cashback.Category) CategoryDTO {
	dto := CategoryDTO{ID: c.ID, Name: c.Name, Type: string(c.Type), ParentID: c.ParentID}
	for _, tag := range c.Tags {
		dto.Tags = append(dto.Tags, string(tag))
	}
	return dto
}

type ShopDTO struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	DefaultCategoryID string `json:"defaultCategoryId,omitempty"`
}

// CreateShopRequest is the body of POST /api/shops.
type CreateShopRequest struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	DefaultCategoryID string `json:"defaultCategoryId"`
}

func (r CreateShopRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 200)),
	)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// TransactionDTO represents a posted transaction in API responses.
type TransactionDTO struct {
	ID             string           `json:"id"`
	AccountID      string           `json:"accountId"`
	Kind           string           `json:"kind"`
	Amount         decimal.Decimal  `json:"amount"`
	OccurredAt     time.Time        `json:"occurredAt"`
	CategoryID     string           `json:"categoryId,omitempty"`
	ShopID         string           `json:"shopId,omitempty"`
	PersonID       string           `json:"personId,omitempty"`
	CashbackMode   string           `json:"cashbackMode,omitempty"`
	SharePercent   *decimal.Decimal `json:"sharePercent,omitempty"`
	ShareFixed     *decimal.Decimal `json:"shareFixed,omitempty"`
	Void           bool             `json:"void"`
	Note           string           `json:"note,omitempty"`
	IdempotencyKey string           `json:"idempotencyKey,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
}

// TransactionRequest is the body of POST /api/transactions and
// PUT /api/transactions/{id}.
type TransactionRequest struct {
	AccountID      string           `json:"accountId"`
	Kind           string           `json:"kind"`
	Amount         decimal.Decimal  `json:"amount"`
	OccurredAt     string           `json:"occurredAt"`
	CategoryID     string           `json:"categoryId"`
	ShopID         string           `json:"shopId"`
	PersonID       string           `json:"personId"`
	CashbackMode   string           `json:"cashbackMode"`
	SharePercent   *decimal.Decimal `json:"sharePercent"`
	ShareFixed     *decimal.Decimal `json:"shareFixed"`
	Void           bool             `json:"void"`
	Note           string           `json:"note"`
	IdempotencyKey string           `json:"idempotencyKey"`
}

func (r TransactionRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.AccountID, validation.Required),
		validation.Field(&r.Kind, validation.Required, validation.In(kinds()...)),
		validation.Field(&r.Amount, validation.By(positiveDecimal)),
		validation.Field(&r.OccurredAt, validation.Required, validation.By(dateString)),
		validation.Field(&r.CashbackMode, validation.In(modes()...)),
		validation.Field(&r.SharePercent, validation.By(percent)),
		validation.Field(&r.ShareFixed, validation.By(nonNegativeDecimal)),
	)
}

// transaction converts the request. Validate must have passed.
func (r TransactionRequest) transaction(id generic.TransactionID) generic.Transaction {
	occurredAt, _ := generic.ParseDate(r.OccurredAt)
	return generic.Transaction{
		ID:             id,
		AccountID:      generic.AccountID(r.AccountID),
		Kind:           generic.TransactionKind(r.Kind),
		Amount:         r.Amount,
		OccurredAt:     occurredAt,
		CategoryID:     r.CategoryID,
		ShopID:         r.ShopID,
		PersonID:       r.PersonID,
		CashbackMode:   generic.CashbackMode(r.CashbackMode),
		SharePercent:   r.SharePercent,
		ShareFixed:     r.ShareFixed,
		Void:           r.Void,
		Note:           r.Note,
		IdempotencyKey: r.IdempotencyKey,
	}
}

// TransactionResponse pairs the stored row with the reward preview computed
// against the rest of its cycle.
type TransactionResponse struct {
	Transaction TransactionDTO    `json:"transaction"`
	Cashback    *cashback.Preview `json:"cashback,omitempty"`
}

func toTransactionDTO(tx generic.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:             string(tx.ID),
		AccountID:      string(tx.AccountID),
		Kind:           string(tx.Kind),
		Amount:         tx.Amount,
		OccurredAt:     tx.OccurredAt,
		CategoryID:     tx.CategoryID,
		ShopID:         tx.ShopID,
		PersonID:       tx.PersonID,
		CashbackMode:   string(tx.CashbackMode),
		SharePercent:   tx.SharePercent,
		ShareFixed:     tx.ShareFixed,
		Void:           tx.Void,
		Note:           tx.Note,
		IdempotencyKey: tx.IdempotencyKey,
		CreatedAt:      tx.CreatedAt,
	}
}

func kinds() []interface{} {
	out := make([]interface{}, len(generic.ValidKinds))
	for i, k := range generic.ValidKinds {
		out[i] = string(k)
	}
	return out
}

func modes() []interface{} {
	out := make([]interface{}, len(generic.ValidModes))
	for i, m := range generic.ValidModes {
		out[i] = string(m)
	}
	return out
}

// =============================================================================
// CASHBACK
// =============================================================================

// PreviewRequestDTO is the body of POST /api/cashback/preview. TransactionID
// is set when the form edits an existing row, so that row is left out of
// the cycle it is previewed against.
type PreviewRequestDTO struct {
	AccountID     string           `json:"accountId"`
	TransactionID string           `json:"transactionId"`
	Amount        decimal.Decimal  `json:"amount"`
	OccurredAt    string           `json:"occurredAt"`
	CategoryID    string           `json:"categoryId"`
	ShopID        string           `json:"shopId"`
	CashbackMode  string           `json:"cashbackMode"`
	SharePercent  *decimal.Decimal `json:"sharePercent"`
	ShareFixed    *decimal.Decimal `json:"shareFixed"`
}

func (r PreviewRequestDTO) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.AccountID, validation.Required),
		validation.Field(&r.OccurredAt, validation.By(dateString)),
		validation.Field(&r.CashbackMode, validation.In(modes()...)),
		validation.Field(&r.SharePercent, validation.By(percent)),
		validation.Field(&r.ShareFixed, validation.By(nonNegativeDecimal)),
	)
}

// request converts the DTO; an empty OccurredAt previews against now.
func (r PreviewRequestDTO) request(now time.Time) cashback.PreviewRequest {
	occurredAt := now
	if r.OccurredAt != "" {
		occurredAt, _ = generic.ParseDate(r.OccurredAt)
	}
	return cashback.PreviewRequest{
		AccountID: generic.AccountID(r.AccountID),
		Candidate: cashback.Candidate{
			ID:           generic.TransactionID(r.TransactionID),
			Amount:       r.Amount,
			OccurredAt:   occurredAt,
			CategoryID:   r.CategoryID,
			ShopID:       r.ShopID,
			Mode:         generic.CashbackMode(r.CashbackMode),
			SharePercent: r.SharePercent,
			ShareFixed:   r.ShareFixed,
		},
	}
}

// CloseCycleRequest is the optional body of POST /api/accounts/{id}/cycles/close.
type CloseCycleRequest struct {
	Date   string `json:"date"`
	Reason string `json:"reason"`
}

func (r CloseCycleRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Date, validation.By(dateString)),
		validation.Field(&r.Reason, validation.In(
			string(generic.SnapshotCycleEnd), string(generic.SnapshotConfigChange), string(generic.SnapshotManual),
		)),
	)
}

// SnapshotDTO represents a closed cycle.
type SnapshotDTO struct {
	ID              string           `json:"id"`
	Label           string           `json:"label"`
	Start           time.Time        `json:"start"`
	End             time.Time        `json:"end"`
	TakenAt         time.Time        `json:"takenAt"`
	CurrentSpend    decimal.Decimal  `json:"currentSpend"`
	EarnedSoFar     decimal.Decimal  `json:"earnedSoFar"`
	MaxCashback     *decimal.Decimal `json:"maxCashback"`
	RemainingBudget *decimal.Decimal `json:"remainingBudget"`
	SharedTotal     decimal.Decimal  `json:"sharedTotal"`
	VoluntaryLoss   decimal.Decimal  `json:"voluntaryLoss"`
	MinSpendMet     bool             `json:"minSpendMet"`
	Reason          string           `json:"reason"`
}

// SnapshotListDTO is the closed-cycle history with its running total.
type SnapshotListDTO struct {
	Snapshots   []SnapshotDTO   `json:"snapshots"`
	TotalEarned decimal.Decimal `json:"totalEarned"`
}

func toSnapshotDTO(s generic.Snapshot) SnapshotDTO {
	return SnapshotDTO{
		ID:              s.ID,
		Label:           s.Label,
		Start:           s.Period.Start,
		End:             s.Period.End,
		TakenAt:         s.TakenAt,
		CurrentSpend:    s.CurrentSpend,
		EarnedSoFar:     s.EarnedSoFar,
		MaxCashback:     s.MaxCashback,
		RemainingBudget: s.RemainingBudget,
		SharedTotal:     s.SharedTotal,
		VoluntaryLoss:   s.VoluntaryLoss,
		MinSpendMet:     s.MinSpendMet,
		Reason:          string(s.Reason),
	}
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// RULES
// =============================================================================

func dateString(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if _, err := generic.ParseDate(s); err != nil {
		return validation.NewError("validation_date", "must be YYYY-MM-DD or RFC3339")
	}
	return nil
}

func positiveDecimal(value interface{}) error {
	d, _ := value.(decimal.Decimal)
	if !d.IsPositive() {
		return validation.NewError("validation_positive", "must be greater than zero")
	}
	return nil
}

func nonNegativeDecimal(value interface{}) error {
	d, _ := value.(*decimal.Decimal)
	if d != nil && d.IsNegative() {
		return validation.NewError("validation_non_negative", "must not be negative")
	}
	return nil
}

func percent(value interface{}) error {
	d, _ := value.(*decimal.Decimal)
	if d != nil && (d.IsNegative() || d.GreaterThan(decimal.NewFromInt(100))) {
		return validation.NewError("validation_percent", "must be between 0 and 100")
	}
	return nil
}
