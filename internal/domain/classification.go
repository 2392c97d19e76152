package domain

// Output field names used by FieldSources.
const (
	FieldIsrDeductible = "isIsrDeductible"
	FieldIvaDeductible = "isIvaDeductible"
	FieldExpenseType   = "expenseType"
)

// FieldSources records which rule wrote each output field. The tri-states
// carry their own set marker; the expense type is seeded from the
// transaction, so whether a rule wrote it is tracked by ExpenseTypeSet.
// Rule ids are not used as markers: a rule may have id 0.
type FieldSources struct {
	IsIsrDeductible int64 `json:"isIsrDeductible,omitempty"`
	IsIvaDeductible int64 `json:"isIvaDeductible,omitempty"`
	ExpenseType     int64 `json:"expenseType,omitempty"`
	ExpenseTypeSet  bool  `json:"expenseTypeSet,omitempty"`
}

// ClassificationResult is the engine's output for one transaction.
type ClassificationResult struct {
	IsIsrDeductible TriState    `json:"isIsrDeductible"`
	IsIvaDeductible TriState    `json:"isIvaDeductible"`
	ExpenseType     ExpenseType `json:"expenseType,omitempty"`

	// AppliedRuleIDs lists, in evaluation order, the rules that wrote at
	// least one field.
	AppliedRuleIDs []int64 `json:"appliedRuleIds"`

	Sources FieldSources `json:"sources"`
}

// NewClassification returns the seeded accumulator for tx: both tri-states
// unset and the expense type copied from the transaction.
func NewClassification(tx *Transaction) *ClassificationResult {
	c := &ClassificationResult{AppliedRuleIDs: []int64{}}
	if tx != nil {
		c.ExpenseType = tx.ExpenseType
	}
	return c
}

// Clone returns a deep copy.
func (c *ClassificationResult) Clone() *ClassificationResult {
	out := *c
	out.AppliedRuleIDs = append([]int64{}, c.AppliedRuleIDs...)
	return &out
}

// Matched reports whether any rule contributed to the result.
func (c *ClassificationResult) Matched() bool {
	return len(c.AppliedRuleIDs) > 0
}

// EntityRef identifies the record a log entry or suggestion is about.
type EntityRef struct {
	Type string `json:"entityType"`
	ID   string `json:"entityId"`
}

// Ref returns the entity reference for a transaction.
func (t *Transaction) Ref() EntityRef {
	return EntityRef{Type: EntityTransaction, ID: t.ID}
}
