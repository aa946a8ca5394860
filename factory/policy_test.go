package factory_test

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/cashback-engine/cashback"
	"github.com/warp/cashback-engine/factory"
	"github.com/warp/cashback-engine/generic"
)

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

const fullConfig = `{
  "rate": 0.01,
  "maxAmount": "300000",
  "minSpend": 3000000,
  "cycleType": "statement_cycle",
  "statementDay": 20,
  "virtualRate": 0.005,
  "rules": [
    {"id": "dining", "name": "Dining", "categoryIds": ["cat-dining"], "rate": 0.05, "maxReward": 100000},
    {"name": "Grab", "shopIds": ["shop-grab"], "rate": "0.1"}
  ],
  "levels": [
    {"name": "Gold", "minSpend": 10000000, "rate": 0.015, "maxAmount": 500000},
    {"name": "Silver", "minSpend": 5000000, "rate": 0.012}
  ]
}`

func TestParse_FullConfig(t *testing.T) {
	f := factory.NewConfigFactory()
	cfg, anomalies := f.Parse([]byte(fullConfig))
	require.NotNil(t, cfg)
	assert.Empty(t, anomalies)
	assert.Empty(t, cfg.Invalid)

	assertDecimal(t, "0.01", cfg.Rate)
	assertDecimal(t, "300000", *cfg.MaxAmount)
	assertDecimal(t, "3000000", *cfg.MinSpend)
	assertDecimal(t, "0.005", *cfg.VirtualRate)
	assert.Equal(t, cashback.StatementCycle{Day: 20}, cfg.Cycle)

	require.Len(t, cfg.Rules, 2)
	assert.Equal(t, "dining", cfg.Rules[0].ID)
	assert.Equal(t, "rule-2", cfg.Rules[1].ID, "missing IDs are generated")
	assertDecimal(t, "0.1", cfg.Rules[1].Rate)

	require.Len(t, cfg.Levels, 2)
	assert.Equal(t, "Silver", cfg.Levels[0].Name, "levels are sorted by threshold")
	assert.Equal(t, "Gold", cfg.Levels[1].Name)
}

func TestParse_EmptyMeansNoProgram(t *testing.T) {
	f := factory.NewConfigFactory()
	for _, raw := range []string{"", "  ", "null", "{}"} {
		cfg, anomalies := f.Parse([]byte(raw))
		assert.Nil(t, cfg, "%q", raw)
		assert.Empty(t, anomalies)
	}
}

func TestParse_MalformedJSON(t *testing.T) {
	cfg, anomalies := factory.NewConfigFactory().Parse([]byte(`{"rate": `))
	require.NotNil(t, cfg)
	assert.Equal(t, "malformed json", cfg.Invalid)
	assert.Len(t, anomalies, 1)
}

func TestParse_Repairs(t *testing.T) {
	// GIVEN: A legacy blob with several recoverable problems
	// WHEN: It is parsed on the read path
	// THEN: Each problem is repaired and recorded, and the config stays usable

	tests := []struct {
		name  string
		raw   string
		check func(t *testing.T, cfg *cashback.Config)
	}{
		{
			name: "rate above one is clamped",
			raw:  `{"rate": 5}`,
			check: func(t *testing.T, cfg *cashback.Config) {
				assertDecimal(t, "1", cfg.Rate)
			},
		},
		{
			name: "statement day above range is clamped",
			raw:  `{"rate": 0.01, "cycleType": "statement_cycle", "statementDay": 40}`,
			check: func(t *testing.T, cfg *cashback.Config) {
				assert.Equal(t, cashback.StatementCycle{Day: 31}, cfg.Cycle)
			},
		},
		{
			name: "statement cycle without a day uses calendar month",
			raw:  `{"rate": 0.01, "cycleType": "statement_cycle"}`,
			check: func(t *testing.T, cfg *cashback.Config) {
				assert.Equal(t, cashback.CalendarMonth{}, cfg.Cycle)
			},
		},
		{
			name: "unknown cycle type uses calendar month",
			raw:  `{"rate": 0.01, "cycleType": "weekly"}`,
			check: func(t *testing.T, cfg *cashback.Config) {
				assert.Equal(t, cashback.CalendarMonth{}, cfg.Cycle)
			},
		},
		{
			name: "bad min spend is dropped",
			raw:  `{"rate": 0.01, "minSpend": "lots"}`,
			check: func(t *testing.T, cfg *cashback.Config) {
				assert.Nil(t, cfg.MinSpend)
			},
		},
		{
			name: "rule without rate is dropped",
			raw:  `{"rate": 0.01, "rules": [{"id": "x", "categoryIds": ["c"]}, {"id": "y", "categoryIds": ["c"], "rate": 0.02}]}`,
			check: func(t *testing.T, cfg *cashback.Config) {
				require.Len(t, cfg.Rules, 1)
				assert.Equal(t, "y", cfg.Rules[0].ID)
			},
		},
		{
			name: "level without threshold is dropped",
			raw:  `{"rate": 0.01, "levels": [{"name": "Gold", "rate": 0.02}]}`,
			check: func(t *testing.T, cfg *cashback.Config) {
				assert.Empty(t, cfg.Levels)
			},
		},
	}

	f := factory.NewConfigFactory()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, anomalies := f.Parse([]byte(tt.raw))
			require.NotNil(t, cfg)
			assert.Empty(t, cfg.Invalid)
			assert.NotEmpty(t, anomalies)
			tt.check(t, cfg)
		})
	}
}

func TestParse_UnusableConfigMarkedInvalid(t *testing.T) {
	// GIVEN: Values the engine cannot reason about safely
	// THEN: The config is kept but marked Invalid so rewards degrade to zero

	f := factory.NewConfigFactory()
	for _, raw := range []string{
		`{"rate": -0.01}`,
		`{"rate": "abc"}`,
		`{"rate": 0.01, "maxAmount": -5}`,
	} {
		cfg, _ := f.Parse([]byte(raw))
		require.NotNil(t, cfg, raw)
		assert.NotEmpty(t, cfg.Invalid, raw)
	}
}

func TestParse_InvalidConfigResolvesToZero(t *testing.T) {
	cfg, _ := factory.NewConfigFactory().Parse([]byte(`{"rate": -1}`))
	acct := cashback.Account{ID: "a", Type: cashback.AccountCreditCard, Cashback: cfg}

	result := cashback.ResolvePolicy(acct, cashback.PolicyInput{Amount: decimal.NewFromInt(100)})
	assert.True(t, result.Rate.IsZero())
	assert.Contains(t, result.Reason, "invalid_config:")
}

func TestParseStrict(t *testing.T) {
	f := factory.NewConfigFactory()

	cfg, err := f.ParseStrict([]byte(fullConfig))
	require.NoError(t, err)
	assertDecimal(t, "0.01", cfg.Rate)

	rejected := []string{
		`not json`,
		`{}`,
		`{"rate": 1.5}`,
		`{"rate": 0.01, "cycleType": "statement_cycle"}`,
		`{"rate": 0.01, "cycleType": "statement_cycle", "statementDay": 0}`,
		`{"rate": 0.01, "cycleType": "weekly"}`,
		`{"rate": 0.01, "rules": [{"id": "x", "rate": 0.02}]}`,
		`{"rate": 0.01, "levels": [{"name": "", "minSpend": 1}]}`,
	}
	for _, raw := range rejected {
		_, err := f.ParseStrict([]byte(raw))
		assert.ErrorIs(t, err, generic.ErrInvalidConfig, raw)
	}
}

func TestParse_GeneratedRuleIDsAreUnique(t *testing.T) {
	// GIVEN: An explicit "rule-2" followed by rules without IDs and a duplicate
	// WHEN: The config is parsed
	// THEN: Every rule ends up with its own ID, explicit IDs are kept

	cfg, _ := factory.NewConfigFactory().Parse([]byte(`{"rate": 0.01, "rules": [
		{"id": "rule-2", "rate": 0.02, "maxReward": 1000},
		{"rate": 0.03, "maxReward": 2000},
		{"id": "rule-2", "rate": 0.04}
	]}`))
	require.NotNil(t, cfg)
	require.Len(t, cfg.Rules, 3)

	assert.Equal(t, "rule-2", cfg.Rules[0].ID)
	ids := map[string]bool{}
	for _, rule := range cfg.Rules {
		assert.False(t, ids[rule.ID], "duplicate rule ID %s", rule.ID)
		ids[rule.ID] = true
	}
}

func TestToJSON_RoundTrip(t *testing.T) {
	f := factory.NewConfigFactory()
	cfg, _ := f.Parse([]byte(fullConfig))

	raw, err := json.Marshal(f.ToJSON(cfg))
	require.NoError(t, err)

	again, err := f.ParseStrict(raw)
	require.NoError(t, err)
	assert.Equal(t, cfg.Cycle, again.Cycle)
	assert.Len(t, again.Rules, 2)
	assert.Len(t, again.Levels, 2)
	assertDecimal(t, "100000", *again.Rules[0].MaxReward)
}

func TestNumber_AcceptsStringsAndNumbers(t *testing.T) {
	var v struct {
		A factory.Number `json:"a"`
		B factory.Number `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a": 1.25, "b": " 2.5 "}`), &v))

	a, err := v.A.Decimal()
	require.NoError(t, err)
	assertDecimal(t, "1.25", a)
	b, err := v.B.Decimal()
	require.NoError(t, err)
	assertDecimal(t, "2.5", b)
}

func TestSortedCategoryIDs(t *testing.T) {
	cfg, _ := factory.NewConfigFactory().Parse([]byte(`{"rate": 0.01,
		"rules": [{"categoryIds": ["b", "a"], "rate": 0.02}],
		"levels": [{"name": "L", "minSpend": 1, "rules": [{"categoryIds": ["c", "a"], "rate": 0.03}]}]}`))
	assert.Equal(t, []string{"a", "b", "c"}, factory.SortedCategoryIDs(cfg))
	assert.Nil(t, factory.SortedCategoryIDs(nil))
}
