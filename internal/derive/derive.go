// Package derive computes document field values from sibling base fields,
// driven purely by an operator suffix embedded in the field name
// (for example "prix+20%", "total/2" or "montantHT->TTC").
package derive

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Operator is the closed set of naming-convention operators a field name
// can carry. A name matches at most one; names matching none are plain
// base fields.
type Operator int

const (
	OpAddPercent Operator = iota
	OpSubPercent
	OpMultiply
	OpDivide
	OpAddConst
	OpSubConst
	// OpTaxInclusive converts a tax-exclusive amount to tax-inclusive
	// ("HT->TTC") at the implicit rate.
	OpTaxInclusive
	// OpTaxExclusive converts a tax-inclusive amount back ("TTC->HT").
	OpTaxExclusive
)

// TaxRate is the implicit rate used by the two tax conversion operators.
const TaxRate = 0.20

// Spec is the parsed form of a derived field name. It is never persisted;
// Parse rebuilds it on demand.
type Spec struct {
	// Base is the sibling field the value is computed from.
	Base string
	Op   Operator
	// Operand is the numeric literal extracted from the name. The two tax
	// operators carry none and leave it zero.
	Operand float64
}

// pattern order is the evaluation precedence: first match wins. A name
// should only ever match one pattern, the order just resolves accidental
// ambiguity (a "+20%" suffix must not be read as "+20").
var patterns = []struct {
	re *regexp.Regexp
	op Operator
}{
	{regexp.MustCompile(`\+(\d+)%`), OpAddPercent},
	{regexp.MustCompile(`-(\d+)%`), OpSubPercent},
	{regexp.MustCompile(`\*(\d+\.?\d*)`), OpMultiply},
	{regexp.MustCompile(`/(\d+\.?\d*)`), OpDivide},
	{regexp.MustCompile(`\+(\d+)`), OpAddConst},
	{regexp.MustCompile(`-(\d+)`), OpSubConst},
	{regexp.MustCompile(`(?i)HT->TTC`), OpTaxInclusive},
	{regexp.MustCompile(`(?i)TTC->HT`), OpTaxExclusive},
}

// numericStrip keeps only the characters meaningful to a decimal literal.
var numericStrip = regexp.MustCompile(`[^\d.-]`)

// Parse inspects a field name for an operator suffix. The second return
// value is false when the name is a plain base field.
func Parse(fieldName string) (Spec, bool) {
	for _, p := range patterns {
		loc := p.re.FindStringSubmatchIndex(fieldName)
		if loc == nil {
			continue
		}
		spec := Spec{
			Base: strings.TrimSpace(fieldName[:loc[0]] + fieldName[loc[1]:]),
			Op:   p.op,
		}
		if len(loc) > 2 && loc[2] >= 0 {
			operand, err := strconv.ParseFloat(fieldName[loc[2]:loc[3]], 64)
			if err != nil {
				return Spec{}, false
			}
			spec.Operand = operand
		}
		return spec, true
	}
	return Spec{}, false
}

// IsDerived reports whether the field name carries an operator suffix.
func IsDerived(fieldName string) bool {
	_, ok := Parse(fieldName)
	return ok
}

// Evaluate computes the derived value for fieldName from the string value
// of its base field. Computation is best-effort and must never block form
// completion: a non-derived name or a base value that is not numeric after
// coercion passes through unchanged.
func Evaluate(fieldName, baseValue string) string {
	spec, ok := Parse(fieldName)
	if !ok {
		return baseValue
	}

	n, err := strconv.ParseFloat(numericStrip.ReplaceAllString(baseValue, ""), 64)
	if err != nil {
		return baseValue
	}

	var out float64
	switch spec.Op {
	case OpAddPercent:
		out = n * (1 + spec.Operand/100)
	case OpSubPercent:
		out = n * (1 - spec.Operand/100)
	case OpMultiply:
		out = n * spec.Operand
	case OpDivide:
		if spec.Operand == 0 {
			return baseValue
		}
		out = n / spec.Operand
	case OpAddConst:
		out = n + spec.Operand
	case OpSubConst:
		out = n - spec.Operand
	case OpTaxInclusive:
		out = n * (1 + TaxRate)
	case OpTaxExclusive:
		out = n / (1 + TaxRate)
	default:
		return baseValue
	}

	// currency semantics: fixed two decimals, never scientific notation
	return fmt.Sprintf("%.2f", out)
}

// ResolveAll completes a finalized accumulation: every derived field in
// allFields whose base field was submitted gets its computed value. The
// submitted values themselves are copied through untouched.
func ResolveAll(allFields []string, values map[string]string) map[string]string {
	out := make(map[string]string, len(allFields))
	for k, v := range values {
		out[k] = v
	}
	for _, name := range allFields {
		spec, ok := Parse(name)
		if !ok {
			continue
		}
		base, present := values[spec.Base]
		if !present {
			continue
		}
		out[name] = Evaluate(name, base)
	}
	return out
}
