/*
Package factory provides cashback_config JSON to Go conversion.

PURPOSE:
  Accounts store their cashback program as an opaque JSON blob. The factory
  turns that blob into the typed cashback.Config ONCE, at the account
  configuration boundary, so readers never re-validate it ad hoc.

TWO ENTRY POINTS:
  ParseStrict - authoring path (PUT /api/accounts/{id}/cashback). Rejects
                structurally invalid input with an error wrapping
                generic.ErrInvalidConfig.
  Parse       - read path for rows already in the database, including
                legacy imports. Never fails: repairs what it can, records
                every repair as an anomaly, and marks configs it cannot
                use as Invalid so the resolver degrades to rate 0.

JSON SCHEMA:
  {
    "rate": 0.01,
    "maxAmount": 300000,
    "minSpend": 3000000,
    "cycleType": "statement_cycle",
    "statementDay": 20,
    "virtualRate": 0.005,
    "rules": [
      {
        "id": "dining",
        "name": "Dining 5%",
        "categoryIds": ["cat-dining"],
        "shopIds": ["shop-grab"],
        "legacyCategoryNames": ["Ăn uống"],
        "rate": 0.05,
        "maxReward": 100000,
        "minSpend": 1000000
      }
    ],
    "levels": [
      {"name": "Gold", "minSpend": 10000000, "rate": 0.015, "maxAmount": 500000}
    ]
  }

  Numbers may also be given as strings ("0.05"), which is how older
  clients wrote them.

SEE ALSO:
  - cashback/config.go: The typed Config
  - cashback/policy.go: How the resolver consumes it
*/
package factory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/warp/cashback-engine/cashback"
	"github.com/warp/cashback-engine/generic"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// Number is a JSON number that also accepts numeric strings.
type Number string

func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = Number(strings.TrimSpace(s))
		return nil
	}
	*n = Number(data)
	return nil
}

func (n Number) MarshalJSON() ([]byte, error) {
	if _, err := n.Decimal(); err != nil {
		return json.Marshal(string(n))
	}
	return []byte(n), nil
}

// Decimal parses the number.
func (n Number) Decimal() (decimal.Decimal, error) {
	return decimal.NewFromString(string(n))
}

func numberOf(d decimal.Decimal) *Number {
	n := Number(d.String())
	return &n
}

func numberPtr(d *decimal.Decimal) *Number {
	if d == nil {
		return nil
	}
	return numberOf(*d)
}

// ConfigJSON is the JSON representation of an account's cashback program.
type ConfigJSON struct {
	Rate         *Number     `json:"rate,omitempty"`
	MaxAmount    *Number     `json:"maxAmount,omitempty"`
	MinSpend     *Number     `json:"minSpend,omitempty"`
	CycleType    string      `json:"cycleType,omitempty"`
	StatementDay *Number     `json:"statementDay,omitempty"`
	VirtualRate  *Number     `json:"virtualRate,omitempty"`
	Rules        []RuleJSON  `json:"rules,omitempty"`
	Levels       []LevelJSON `json:"levels,omitempty"`
}

// RuleJSON represents a category or merchant override.
type RuleJSON struct {
	ID                  string   `json:"id,omitempty"`
	Name                string   `json:"name,omitempty"`
	CategoryIDs         []string `json:"categoryIds,omitempty"`
	ShopIDs             []string `json:"shopIds,omitempty"`
	LegacyCategoryNames []string `json:"legacyCategoryNames,omitempty"`
	Rate                *Number  `json:"rate,omitempty"`
	MaxReward           *Number  `json:"maxReward,omitempty"`
	MinSpend            *Number  `json:"minSpend,omitempty"`
}

// LevelJSON represents a spend tier.
type LevelJSON struct {
	Name      string     `json:"name"`
	MinSpend  *Number    `json:"minSpend"`
	Rate      *Number    `json:"rate,omitempty"`
	MaxAmount *Number    `json:"maxAmount,omitempty"`
	Rules     []RuleJSON `json:"rules,omitempty"`
}

// =============================================================================
// VALIDATION - Strict, authoring time
// =============================================================================

func (cj ConfigJSON) Validate() error {
	return validation.ValidateStruct(&cj,
		validation.Field(&cj.Rate, validation.Required, validation.By(fraction)),
		validation.Field(&cj.MaxAmount, validation.By(nonNegative)),
		validation.Field(&cj.MinSpend, validation.By(nonNegative)),
		validation.Field(&cj.VirtualRate, validation.By(fraction)),
		validation.Field(&cj.CycleType, validation.In(string(cashback.CycleCalendarMonth), string(cashback.CycleStatementCycle))),
		validation.Field(&cj.StatementDay,
			validation.When(cj.CycleType == string(cashback.CycleStatementCycle), validation.Required.Error("is required for statement cycles")),
			validation.By(statementDay)),
		validation.Field(&cj.Rules),
		validation.Field(&cj.Levels),
	)
}

func (rj RuleJSON) Validate() error {
	return validation.ValidateStruct(&rj,
		validation.Field(&rj.Rate, validation.Required, validation.By(fraction)),
		validation.Field(&rj.MaxReward, validation.By(nonNegative)),
		validation.Field(&rj.MinSpend, validation.By(nonNegative)),
		validation.Field(&rj.CategoryIDs, validation.By(func(interface{}) error {
			if len(rj.CategoryIDs) == 0 && len(rj.ShopIDs) == 0 && len(rj.LegacyCategoryNames) == 0 {
				return errors.New("a rule needs at least one category, shop or legacy category name")
			}
			return nil
		})),
	)
}

func (lj LevelJSON) Validate() error {
	return validation.ValidateStruct(&lj,
		validation.Field(&lj.Name, validation.Required),
		validation.Field(&lj.MinSpend, validation.Required, validation.By(nonNegative)),
		validation.Field(&lj.Rate, validation.By(fraction)),
		validation.Field(&lj.MaxAmount, validation.By(nonNegative)),
		validation.Field(&lj.Rules),
	)
}

func numberValue(value interface{}) (decimal.Decimal, bool, error) {
	var n Number
	switch v := value.(type) {
	case *Number:
		if v == nil {
			return decimal.Zero, false, nil
		}
		n = *v
	case Number:
		n = v
	default:
		return decimal.Zero, false, errors.New("must be a number")
	}
	if n == "" {
		return decimal.Zero, false, nil
	}
	d, err := n.Decimal()
	if err != nil {
		return decimal.Zero, false, errors.New("must be a number")
	}
	return d, true, nil
}

func fraction(value interface{}) error {
	d, ok, err := numberValue(value)
	if err != nil || !ok {
		return err
	}
	if d.IsNegative() || d.GreaterThan(decimal.NewFromInt(1)) {
		return errors.New("must be a fraction between 0 and 1")
	}
	return nil
}

func nonNegative(value interface{}) error {
	d, ok, err := numberValue(value)
	if err != nil || !ok {
		return err
	}
	if d.IsNegative() {
		return errors.New("must not be negative")
	}
	return nil
}

func statementDay(value interface{}) error {
	d, ok, err := numberValue(value)
	if err != nil || !ok {
		return err
	}
	if !d.IsInteger() || d.LessThan(decimal.NewFromInt(1)) || d.GreaterThan(decimal.NewFromInt(31)) {
		return errors.New("must be a whole day between 1 and 31")
	}
	return nil
}

// =============================================================================
// CONFIG FACTORY
// =============================================================================

// ConfigFactory converts cashback_config JSON to cashback.Config.
type ConfigFactory struct{}

func NewConfigFactory() *ConfigFactory {
	return &ConfigFactory{}
}

// ParseStrict validates and converts an authored config. Validation failures
// wrap generic.ErrInvalidConfig.
func (f *ConfigFactory) ParseStrict(raw []byte) (*cashback.Config, error) {
	var cj ConfigJSON
	if err := json.Unmarshal(raw, &cj); err != nil {
		return nil, errors.Wrap(generic.ErrInvalidConfig, "cashback config is not valid JSON: "+err.Error())
	}
	if err := cj.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", generic.ErrInvalidConfig, err.Error())
	}
	cfg, anomalies := f.FromJSON(cj)
	if cfg.Invalid != "" || len(anomalies) > 0 {
		return nil, fmt.Errorf("%w: %s", generic.ErrInvalidConfig, strings.Join(append(anomalies, cfg.Invalid), "; "))
	}
	return cfg, nil
}

// Parse converts a stored config without failing. An empty blob or JSON
// null means the account has no program (nil config).
func (f *ConfigFactory) Parse(raw []byte) (*cashback.Config, []string) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("{}")) {
		return nil, nil
	}
	var cj ConfigJSON
	if err := json.Unmarshal(trimmed, &cj); err != nil {
		return &cashback.Config{Invalid: "malformed json"}, []string{"malformed json: " + err.Error()}
	}
	return f.FromJSON(cj)
}

// FromJSON converts ConfigJSON, repairing what it can.
func (f *ConfigFactory) FromJSON(cj ConfigJSON) (*cashback.Config, []string) {
	p := &parser{}
	cfg := &cashback.Config{}

	if cj.Rate != nil {
		cfg.Rate = p.rate("rate", *cj.Rate, true)
	}
	cfg.MaxAmount = p.amount("maxAmount", cj.MaxAmount, true)
	cfg.MinSpend = p.amount("minSpend", cj.MinSpend, false)
	if cj.VirtualRate != nil {
		virtual := p.rate("virtualRate", *cj.VirtualRate, false)
		if virtual.IsPositive() {
			cfg.VirtualRate = &virtual
		}
	}
	cfg.Cycle = p.cycle(cj.CycleType, cj.StatementDay)
	cfg.Rules = p.rules("rules", cj.Rules)

	for i, lj := range cj.Levels {
		field := fmt.Sprintf("levels[%d]", i)
		if lj.MinSpend == nil {
			p.anomaly(field + ".minSpend missing, level dropped")
			continue
		}
		minSpend, err := lj.MinSpend.Decimal()
		if err != nil || minSpend.IsNegative() {
			p.anomaly(field + ".minSpend invalid, level dropped")
			continue
		}
		level := cashback.Level{
			Name:      lj.Name,
			MinSpend:  minSpend,
			MaxAmount: p.amount(field+".maxAmount", lj.MaxAmount, false),
			Rules:     p.rules(field+".rules", lj.Rules),
		}
		if level.Name == "" {
			level.Name = fmt.Sprintf("Level %d", i+1)
		}
		if lj.Rate != nil {
			rate := p.rate(field+".rate", *lj.Rate, false)
			level.Rate = &rate
		}
		cfg.Levels = append(cfg.Levels, level)
	}
	cfg.SortLevels()

	cfg.Invalid = strings.Join(p.invalid, "; ")
	return cfg, p.anomalies
}

// ToJSON converts a Config back to its JSON form.
func (f *ConfigFactory) ToJSON(cfg *cashback.Config) ConfigJSON {
	cj := ConfigJSON{
		Rate:        numberOf(cfg.Rate),
		MaxAmount:   numberPtr(cfg.MaxAmount),
		MinSpend:    numberPtr(cfg.MinSpend),
		VirtualRate: numberPtr(cfg.VirtualRate),
		CycleType:   string(cfg.CycleOrDefault().CycleType()),
		Rules:       rulesToJSON(cfg.Rules),
	}
	if sc, ok := cfg.Cycle.(cashback.StatementCycle); ok {
		cj.StatementDay = numberOf(decimal.NewFromInt(int64(sc.Day)))
	}
	for _, level := range cfg.Levels {
		cj.Levels = append(cj.Levels, LevelJSON{
			Name:      level.Name,
			MinSpend:  numberOf(level.MinSpend),
			Rate:      numberPtr(level.Rate),
			MaxAmount: numberPtr(level.MaxAmount),
			Rules:     rulesToJSON(level.Rules),
		})
	}
	return cj
}

func rulesToJSON(rules []cashback.Rule) []RuleJSON {
	var out []RuleJSON
	for _, r := range rules {
		out = append(out, RuleJSON{
			ID:                  r.ID,
			Name:                r.Name,
			CategoryIDs:         r.CategoryIDs,
			ShopIDs:             r.ShopIDs,
			LegacyCategoryNames: r.LegacyCategoryNames,
			Rate:                numberOf(r.Rate),
			MaxReward:           numberPtr(r.MaxReward),
			MinSpend:            numberPtr(r.MinSpend),
		})
	}
	return out
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

type parser struct {
	anomalies []string
	invalid   []string
}

func (p *parser) anomaly(msg string) {
	p.anomalies = append(p.anomalies, msg)
}

// fail records a problem that makes the whole config unusable.
func (p *parser) fail(msg string) {
	p.anomaly(msg)
	p.invalid = append(p.invalid, msg)
}

// rate parses a fraction. Above 1 it is clamped; negative or non-numeric
// values fail the config when critical, else become zero.
func (p *parser) rate(field string, n Number, critical bool) decimal.Decimal {
	d, err := n.Decimal()
	switch {
	case err != nil:
		p.report(field+" is not numeric", critical)
		return decimal.Zero
	case d.IsNegative():
		p.report(field+" is negative", critical)
		return decimal.Zero
	case d.GreaterThan(decimal.NewFromInt(1)):
		p.anomaly(field + " above 1 clamped to 1")
		return decimal.NewFromInt(1)
	}
	return d
}

// amount parses an optional non-negative amount. Unusable values fail the
// config when critical, else are dropped.
func (p *parser) amount(field string, n *Number, critical bool) *decimal.Decimal {
	if n == nil || *n == "" {
		return nil
	}
	d, err := n.Decimal()
	switch {
	case err != nil:
		p.report(field+" is not numeric", critical)
		return nil
	case d.IsNegative():
		p.report(field+" is negative", critical)
		return nil
	}
	return &d
}

func (p *parser) report(msg string, critical bool) {
	if critical {
		p.fail(msg)
		return
	}
	p.anomaly(msg + ", ignored")
}

func (p *parser) cycle(cycleType string, day *Number) cashback.CycleConfig {
	switch cashback.CycleType(cycleType) {
	case cashback.CycleCalendarMonth, "":
		return cashback.CalendarMonth{}
	case cashback.CycleStatementCycle:
		if day == nil || *day == "" {
			p.anomaly("statementDay missing, using calendar month")
			return cashback.CalendarMonth{}
		}
		d, err := day.Decimal()
		if err != nil {
			p.anomaly("statementDay is not numeric, using calendar month")
			return cashback.CalendarMonth{}
		}
		n := int(d.IntPart())
		switch {
		case n < 1:
			p.anomaly(fmt.Sprintf("statementDay %d clamped to 1", n))
			n = 1
		case n > 31:
			p.anomaly(fmt.Sprintf("statementDay %d clamped to 31", n))
			n = 31
		}
		return cashback.StatementCycle{Day: n}
	default:
		p.anomaly(fmt.Sprintf("unknown cycleType %q, using calendar month", cycleType))
		return cashback.CalendarMonth{}
	}
}

func (p *parser) rules(field string, rjs []RuleJSON) []cashback.Rule {
	var rules []cashback.Rule
	seen := make(map[string]bool)
	for i, rj := range rjs {
		name := fmt.Sprintf("%s[%d]", field, i)
		if rj.Rate == nil {
			p.anomaly(name + ".rate missing, rule dropped")
			continue
		}
		rate, err := rj.Rate.Decimal()
		if err != nil || rate.IsNegative() {
			p.anomaly(name + ".rate invalid, rule dropped")
			continue
		}
		if rj.MaxReward != nil && *rj.MaxReward != "" {
			if limit, err := rj.MaxReward.Decimal(); err != nil || limit.IsNegative() {
				p.anomaly(name + ".maxReward invalid, rule dropped")
				continue
			}
		}

		rule := cashback.Rule{
			ID:                  rj.ID,
			Name:                rj.Name,
			CategoryIDs:         rj.CategoryIDs,
			ShopIDs:             rj.ShopIDs,
			LegacyCategoryNames: rj.LegacyCategoryNames,
			Rate:                p.rate(name+".rate", *rj.Rate, false),
			MaxReward:           p.amount(name+".maxReward", rj.MaxReward, false),
			MinSpend:            p.amount(name+".minSpend", rj.MinSpend, false),
		}
		if rule.ID == "" || seen[rule.ID] {
			rule.ID = generatedRuleID(field, i+1, seen)
		}
		seen[rule.ID] = true
		rules = append(rules, rule)
	}
	return rules
}

// generatedRuleID returns the first free "<prefix>-<n>" starting at n.
func generatedRuleID(field string, n int, seen map[string]bool) string {
	prefix := "rule"
	if field != "rules" {
		prefix = strings.NewReplacer("[", "-", "]", "", ".", "-").Replace(field)
	}
	for {
		id := fmt.Sprintf("%s-%d", prefix, n)
		if !seen[id] {
			return id
		}
		n++
	}
}

// SortedCategoryIDs lists every category ID referenced by cfg's rules.
func SortedCategoryIDs(cfg *cashback.Config) []string {
	if cfg == nil {
		return nil
	}
	set := make(map[string]bool)
	collect := func(rules []cashback.Rule) {
		for _, r := range rules {
			for _, id := range r.CategoryIDs {
				set[id] = true
			}
		}
	}
	collect(cfg.Rules)
	for _, level := range cfg.Levels {
		collect(level.Rules)
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
