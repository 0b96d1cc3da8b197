package normalize

import (
	"strings"

	"github.com/dvloznov/finance-insights/internal/domain"
)

// Vocabularies matched against normalized candidate values, exactly or as substrings.
var (
	ExpenseVocabulary = []string{
		"expense", "expenses", "debit", "outflow", "withdrawal", "payment", "charge", "purchase",
		"bill", "fee", "subscription", "vendor", "supplier", "payout_out", "transfer_out",
		"card_payment", "cash_withdrawal", "sent", "tax", "utility", "rent", "cost",
	}
	IncomeVocabulary = []string{
		"income", "revenue", "credit", "inflow", "deposit", "sale", "sales", "refund", "interest",
		"payout_in", "transfer_in", "received", "salary", "payroll",
	}
	TransferVocabulary = []string{"transfer", "internal", "move", "balance_transfer"}
)

// DirectionFields are inspected in this order for vocabulary matches.
var DirectionFields = []string{
	"type", "kind", "direction", "flow", "side", "entryType",
	"transactionType", "txType", "tx_type", "categoryType", "categoryGroup",
	"category", "merchant_type", "subtype", "status",
}

// SignFields feed the sign fallback; the first present one decides.
var SignFields = []string{"signedAmount", "amount", "value", "net", "gross"}

// Rule infers a direction from a raw record. ok is false when the rule does not apply.
type Rule struct {
	Name  string
	Infer func(raw domain.RawRecord) (dir domain.Direction, ok bool)
}

// DefaultRules returns the direction inference table in priority order:
// one vocabulary rule per candidate field, then boolean flags, then amount sign.
func DefaultRules() []Rule {
	rules := make([]Rule, 0, len(DirectionFields)+3)
	for _, field := range DirectionFields {
		rules = append(rules, VocabularyRule(field))
	}
	rules = append(rules,
		FlagRule("expense_flag", domain.DirectionExpense, "isExpense", "debit"),
		FlagRule("income_flag", domain.DirectionIncome, "isIncome", "credit"),
		SignRule(SignFields...),
	)
	return rules
}

// VocabularyRule classifies the normalized value of field against the vocabularies.
// Expense is tested before income, income before transfer.
func VocabularyRule(field string) Rule {
	return Rule{
		Name: "vocabulary:" + field,
		Infer: func(raw domain.RawRecord) (domain.Direction, bool) {
			return classifyToken(normalizeToken(raw[field]))
		},
	}
}

// FlagRule matches when any of the given fields holds the boolean true.
func FlagRule(name string, dir domain.Direction, fields ...string) Rule {
	return Rule{
		Name: name,
		Infer: func(raw domain.RawRecord) (domain.Direction, bool) {
			for _, f := range fields {
				if b, ok := raw[f].(bool); ok && b {
					return dir, true
				}
			}
			return "", false
		},
	}
}

// SignRule reads the first present field among fields: negative is expense,
// positive is income. Zero or non-numeric values do not match.
func SignRule(fields ...string) Rule {
	return Rule{
		Name: "sign",
		Infer: func(raw domain.RawRecord) (domain.Direction, bool) {
			v, ok := firstPresent(raw, fields)
			if !ok {
				return "", false
			}
			n, ok := numberValue(v)
			if !ok {
				return "", false
			}
			switch {
			case n < 0:
				return domain.DirectionExpense, true
			case n > 0:
				return domain.DirectionIncome, true
			}
			return "", false
		},
	}
}

func classifyToken(token string) (domain.Direction, bool) {
	if token == "" {
		return "", false
	}
	switch {
	case matchesVocabulary(token, ExpenseVocabulary):
		return domain.DirectionExpense, true
	case matchesVocabulary(token, IncomeVocabulary):
		return domain.DirectionIncome, true
	case matchesVocabulary(token, TransferVocabulary):
		return domain.DirectionTransfer, true
	}
	return "", false
}

func matchesVocabulary(token string, vocabulary []string) bool {
	for _, word := range vocabulary {
		if token == word || strings.Contains(token, word) {
			return true
		}
	}
	return false
}
