// Package scoring holds the pure score math: judge consensus and the
// per-method final score formulas. Nothing here performs I/O.
package scoring

import (
	"fmt"
	"math"
	"sort"
)

const (
	// decimals kept on every computed value.
	roundingFactor = 1000

	// trimThreshold is the panel size at which the lowest and highest
	// execution marks are discarded.
	trimThreshold = 4

	// DefaultBaseScore is used by the deductions method when a level has no
	// configured base.
	DefaultBaseScore = 10.0

	// figExecutionBase is the E-score ceiling under the FIG code.
	figExecutionBase = 10.0
)

// Method names a scoring formula.
type Method string

// Supported scoring methods.
const (
	MethodDeductions      Method = "deductions"
	MethodStartValue      Method = "start_value"
	MethodStartValueBonus Method = "start_value_bonus"
	MethodFIGCode         Method = "fig_code"
)

// Methods lists every supported method in a stable order.
func Methods() []Method {
	return []Method{MethodDeductions, MethodStartValue, MethodStartValueBonus, MethodFIGCode}
}

// Valid reports whether m is a known method.
func (m Method) Valid() bool {
	_, err := FormulaFor(m)
	return err == nil
}

func (m Method) String() string { return string(m) }

// Round rounds x to three decimals, half away from zero.
func Round(x float64) float64 {
	return math.Round(x*roundingFactor) / roundingFactor
}

// ConsensusDeduction combines execution deductions under the federation
// trimming rule: one mark is used as is, two or three are averaged, and from
// four on exactly one lowest and one highest mark are dropped before
// averaging. Returns nil when there are no marks.
func ConsensusDeduction(values []float64) *float64 {
	switch n := len(values); {
	case n == 0:
		return nil
	case n == 1:
		v := values[0]
		return &v
	case n < trimThreshold:
		v := Round(sum(values) / float64(n))
		return &v
	default:
		sorted := make([]float64, n)
		copy(sorted, values)
		sort.Float64s(sorted)
		middle := sorted[1 : n-1]
		v := Round(sum(middle) / float64(len(middle)))
		return &v
	}
}

// ConsensusDScore averages difficulty scores. Difficulty panels are never
// trimmed. Returns nil when there are no scores.
func ConsensusDScore(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	v := Round(sum(values) / float64(len(values)))
	return &v
}

// Inputs carries every per-judge value a formula may read.
type Inputs struct {
	// BaseScore is the ceiling for the deductions method. Zero means DefaultBaseScore.
	BaseScore         float64
	StartValue        *float64
	Deductions        []float64
	NeutralDeductions []float64
	DifficultyBonuses []float64
	DScores           []float64
}

// Result is a computed final score with the components that produced it.
type Result struct {
	Method                Method   `json:"method"`
	BaseScore             *float64 `json:"baseScore,omitempty"`
	StartValue            *float64 `json:"startValue,omitempty"`
	DifficultyBonus       *float64 `json:"difficultyBonus,omitempty"`
	DScore                *float64 `json:"dScore,omitempty"`
	EScore                *float64 `json:"eScore,omitempty"`
	FinalDeduction        float64  `json:"finalDeduction"`
	FinalNeutralDeduction *float64 `json:"finalNeutralDeduction,omitempty"`
	FinalScore            float64  `json:"finalScore"`
}

// Sheet is the subset of one judge's mark that decides completeness.
type Sheet struct {
	Deductions      *float64
	DScore          *float64
	DifficultyBonus *float64
}

// Formula is one scoring method. Each implementation states which inputs it
// requires; Compute returns nil while any of them is missing.
type Formula interface {
	Method() Method
	Compute(in Inputs) *Result
	// Complete reports whether a single judge's sheet is finished under
	// this method.
	Complete(s Sheet) bool
}

// FormulaFor returns the formula implementing m.
func FormulaFor(m Method) (Formula, error) {
	switch m {
	case MethodDeductions:
		return deductionsFormula{}, nil
	case MethodStartValue:
		return startValueFormula{}, nil
	case MethodStartValueBonus:
		return startValueBonusFormula{}, nil
	case MethodFIGCode:
		return figCodeFormula{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, string(m))
	}
}

// FinalScore computes the final score for method. It returns nil when the
// method is unknown or a required input is missing ("not scored yet").
func FinalScore(method Method, in Inputs) *Result {
	f, err := FormulaFor(method)
	if err != nil {
		return nil
	}
	return f.Compute(in)
}

type deductionsFormula struct{}

func (deductionsFormula) Method() Method { return MethodDeductions }

func (deductionsFormula) Complete(s Sheet) bool { return s.Deductions != nil }

func (deductionsFormula) Compute(in Inputs) *Result {
	deduction := ConsensusDeduction(in.Deductions)
	if deduction == nil {
		return nil
	}
	base := in.BaseScore
	if base == 0 {
		base = DefaultBaseScore
	}
	neutral := neutralDeduction(in.NeutralDeductions)
	return &Result{
		Method:                MethodDeductions,
		BaseScore:             ptr(base),
		FinalDeduction:        *deduction,
		FinalNeutralDeduction: reported(neutral),
		FinalScore:            floorZero(Round(base - *deduction - neutral)),
	}
}

type startValueFormula struct{}

func (startValueFormula) Method() Method { return MethodStartValue }

func (startValueFormula) Complete(s Sheet) bool { return s.Deductions != nil }

// Compute ignores difficulty bonuses even when supplied.
func (startValueFormula) Compute(in Inputs) *Result {
	deduction := ConsensusDeduction(in.Deductions)
	if deduction == nil || in.StartValue == nil {
		return nil
	}
	neutral := neutralDeduction(in.NeutralDeductions)
	return &Result{
		Method:                MethodStartValue,
		StartValue:            ptr(*in.StartValue),
		FinalDeduction:        *deduction,
		FinalNeutralDeduction: reported(neutral),
		FinalScore:            floorZero(Round(*in.StartValue - *deduction - neutral)),
	}
}

type startValueBonusFormula struct{}

func (startValueBonusFormula) Method() Method { return MethodStartValueBonus }

// Complete requires a bonus entry; zero is a valid bonus.
func (startValueBonusFormula) Complete(s Sheet) bool {
	return s.Deductions != nil && s.DifficultyBonus != nil
}

func (startValueBonusFormula) Compute(in Inputs) *Result {
	deduction := ConsensusDeduction(in.Deductions)
	if deduction == nil || in.StartValue == nil {
		return nil
	}
	bonus := 0.0
	if len(in.DifficultyBonuses) > 0 {
		bonus = Round(sum(in.DifficultyBonuses) / float64(len(in.DifficultyBonuses)))
	}
	neutral := neutralDeduction(in.NeutralDeductions)
	return &Result{
		Method:                MethodStartValueBonus,
		StartValue:            ptr(*in.StartValue),
		DifficultyBonus:       ptr(bonus),
		FinalDeduction:        *deduction,
		FinalNeutralDeduction: reported(neutral),
		FinalScore:            floorZero(Round(*in.StartValue + bonus - *deduction - neutral)),
	}
}

type figCodeFormula struct{}

func (figCodeFormula) Method() Method { return MethodFIGCode }

// Complete requires a positive D-score.
func (figCodeFormula) Complete(s Sheet) bool {
	return s.Deductions != nil && s.DScore != nil && *s.DScore > 0
}

// Compute does not cap the total at 10: D and E scores add up.
func (figCodeFormula) Compute(in Inputs) *Result {
	deduction := ConsensusDeduction(in.Deductions)
	dScore := ConsensusDScore(in.DScores)
	if deduction == nil || dScore == nil {
		return nil
	}
	eScore := Round(figExecutionBase - *deduction)
	neutral := neutralDeduction(in.NeutralDeductions)
	return &Result{
		Method:                MethodFIGCode,
		DScore:                dScore,
		EScore:                ptr(eScore),
		FinalDeduction:        *deduction,
		FinalNeutralDeduction: reported(neutral),
		FinalScore:            floorZero(Round(*dScore + eScore - neutral)),
	}
}

// neutralDeduction is trimmed like execution deductions and defaults to 0.
func neutralDeduction(values []float64) float64 {
	if v := ConsensusDeduction(values); v != nil {
		return *v
	}
	return 0
}

func reported(neutral float64) *float64 {
	if neutral > 0 {
		return ptr(neutral)
	}
	return nil
}

func floorZero(x float64) float64 {
	if x < 0 {
		return 0
	}
	return x
}

func sum(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total
}

func ptr(v float64) *float64 { return &v }
