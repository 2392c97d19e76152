package rulefile

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/fiscal/internal/domain"
)

func TestLoad(t *testing.T) {
	defs, err := Load("testdata/sat_rules.yaml")
	require.NoError(t, err)
	require.Len(t, defs, 5)

	fuel := defs[0]
	assert.Equal(t, "Combustible con medio electronico", fuel.Name)
	assert.Equal(t, 60, fuel.Priority)
	assert.True(t, fuel.IsActive)
	assert.Equal(t, []string{"gasolina", "diesel", "pemex"}, fuel.MatchKeywords)
	assert.Equal(t, domain.TransactionBusiness, fuel.MatchTransactionType)
	assert.Equal(t, `payment_method != "01"`, fuel.MatchExpression)
	assert.Equal(t, domain.TriTrue, fuel.SetIsIsrDeductible)
	assert.Equal(t, domain.ExpenseNational, fuel.SetExpenseType)
	assert.Equal(t, domain.RuleTypeDeductibility, fuel.RuleType)

	personal := defs[1]
	assert.Equal(t, domain.TriFalse, personal.SetIsIsrDeductible)
	assert.Equal(t, domain.TriFalse, personal.SetIsIvaDeductible)
	assert.Empty(t, string(personal.SetExpenseType))

	foreign := defs[2]
	assert.Equal(t, []string{"netflix", "spotify", "aws"}, foreign.MatchKeywords, "JSON-encoded keyword string")

	small := defs[3]
	require.NotNil(t, small.MatchAmountMax)
	assert.True(t, small.MatchAmountMax.Equal(decimal.NewFromInt(2000)))
	assert.Nil(t, small.MatchAmountMin)
	assert.Equal(t, domain.TriTrue, small.SetIsIvaDeductible)
	assert.Equal(t, domain.TriUnset, small.SetIsIsrDeductible)

	assert.False(t, defs[4].IsActive)
}

func TestParseTopLevelList(t *testing.T) {
	defs, err := Parse([]byte(`
- name: Catch all
  setExpenseType: national
`))
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "Catch all", defs[0].Name)
	assert.False(t, defs[0].HasCriteria())
}

func TestParseEmpty(t *testing.T) {
	defs, err := Parse([]byte("   \n"))
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestParseReportsEveryInvalidRule(t *testing.T) {
	_, err := Parse([]byte(`
rules:
  - name: No action
    matchKeywords: [uber]
  - name: Good
    setIsIsrDeductible: true
  - name: Inverted bounds
    matchAmountMin: 500
    matchAmountMax: 100
    setIsIsrDeductible: true
`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNoAction))
	assert.True(t, errors.Is(err, domain.ErrInvalidRule))
	assert.Contains(t, err.Error(), `rule 1 ("No action")`)
	assert.Contains(t, err.Error(), `rule 3 ("Inverted bounds")`)
	assert.NotContains(t, err.Error(), "Good")
}

func TestParseRejectsBadTriState(t *testing.T) {
	_, err := Parse([]byte(`
- name: Bad
  setIsIsrDeductible: maybe
`))
	require.Error(t, err)
}

func TestParseRejectsScalarDocument(t *testing.T) {
	_, err := Parse([]byte(`just a string`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected a list of rules")
}

func TestDecode(t *testing.T) {
	defs, err := Decode(strings.NewReader("- name: r\n  setIsIvaDeductible: false\n"))
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, domain.TriFalse, defs[0].SetIsIvaDeductible)
}

func TestMarshalRoundTrip(t *testing.T) {
	defs, err := Load("testdata/sat_rules.yaml")
	require.NoError(t, err)

	data, err := Marshal(defs)
	require.NoError(t, err)

	again, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, again, len(defs))

	for i := range defs {
		assert.Equal(t, defs[i].Name, again[i].Name)
		assert.Equal(t, defs[i].IsActive, again[i].IsActive)
		assert.Equal(t, defs[i].MatchKeywords, again[i].MatchKeywords)
		assert.Equal(t, defs[i].SetIsIsrDeductible, again[i].SetIsIsrDeductible)
		assert.Equal(t, defs[i].SetIsIvaDeductible, again[i].SetIsIvaDeductible)
		assert.Equal(t, defs[i].SetExpenseType, again[i].SetExpenseType)
	}
}
