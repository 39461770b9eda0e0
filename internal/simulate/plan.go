package simulate

import (
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"

	"github.com/google/uuid"

	"github.com/TinchoF/gym-score-be/internal/domain/model"
	"github.com/TinchoF/gym-score-be/internal/domain/scoring"
)

// Step kinds.
const (
	KindSubmit    = "submit"
	KindUpdate    = "update"
	KindRetract   = "retract"
	KindDuplicate = "duplicate"
)

// deductions are drawn in tenths between 0 and maxDeduction.
const maxDeduction = 3.0

// Step is one request a judge makes.
type Step struct {
	Kind           string           `json:"kind"`
	Judge          string           `json:"judge"`
	IdempotencyKey string           `json:"idempotencyKey"`
	Submission     model.Submission `json:"submission"`
}

// Plan is the full request script and the marks it leaves behind.
type Plan struct {
	Groups []model.GroupKey `json:"groups"`
	// Initial steps run concurrently; Followups start after all of them.
	Initial   []Step `json:"initial"`
	Followups []Step `json:"followups"`
	// Final maps each group to the deduction every judge holds at the end.
	Final map[model.GroupKey]map[string]float64 `json:"-"`
}

// JudgeID names the i-th judge of the panel, starting at 1.
func JudgeID(i int) string { return fmt.Sprintf("judge-%02d", i) }

// NewPlan builds a deterministic plan from cfg.Seed.
func NewPlan(cfg Config) Plan {
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	p := Plan{Final: make(map[model.GroupKey]map[string]float64)}

	n := 0
	for g := 1; g <= cfg.Gymnasts; g++ {
		for _, app := range cfg.Apparatus {
			n++
			key := model.GroupKey{TournamentID: cfg.Tournament, GymnastID: fmt.Sprintf("gymnast-%03d", g), Apparatus: app}
			p.Groups = append(p.Groups, key)
			final := make(map[string]float64, cfg.Judges)
			var first []Step
			for j := 1; j <= cfg.Judges; j++ {
				d := draw(rng)
				st := newStep(cfg, KindSubmit, key, JudgeID(j), &d)
				first = append(first, st)
				p.Initial = append(p.Initial, st)
				final[JudgeID(j)] = d
			}
			retract := every(cfg.RetractEvery, n)
			// A lone judge cannot be both updated and retracted in the
			// concurrent follow-up phase.
			if every(cfg.UpdateEvery, n) && (cfg.Judges > 1 || !retract) {
				j := JudgeID(min(2, cfg.Judges))
				d := draw(rng)
				p.Followups = append(p.Followups, newStep(cfg, KindUpdate, key, j, &d))
				final[j] = d
			}
			if retract {
				j := JudgeID(1)
				p.Followups = append(p.Followups, newStep(cfg, KindRetract, key, j, nil))
				delete(final, j)
			}
			if every(cfg.DuplicateEvery, n) {
				dup := first[len(first)-1]
				dup.Kind = KindDuplicate
				p.Followups = append(p.Followups, dup)
			}
			p.Final[key] = final
		}
	}
	return p
}

func every(n, i int) bool { return n > 0 && i%n == 0 }

func draw(rng *rand.Rand) float64 {
	return scoring.Round(float64(rng.IntN(int(maxDeduction*10)+1)) / 10)
}

func newStep(cfg Config, kind string, key model.GroupKey, judge string, deduction *float64) Step {
	sub := model.Submission{
		GymnastID:     key.GymnastID,
		JudgeID:       judge,
		Apparatus:     key.Apparatus,
		TournamentID:  key.TournamentID,
		Deductions:    deduction,
		ScoringMethod: cfg.Method,
	}
	if cfg.Method == scoring.MethodStartValue {
		sv := cfg.StartValue
		sub.StartValue = &sv
	}
	return Step{Kind: kind, Judge: judge, IdempotencyKey: uuid.NewString(), Submission: sub}
}

// Expected returns the final score the service should publish for key, or
// nil when no judge holds a mark.
func (p Plan) Expected(cfg Config, key model.GroupKey) *float64 {
	marks := p.Final[key]
	values := make([]float64, 0, len(marks))
	for _, d := range marks {
		values = append(values, d)
	}
	in := scoring.Inputs{BaseScore: scoring.DefaultBaseScore, Deductions: values}
	if cfg.Method == scoring.MethodStartValue {
		sv := cfg.StartValue
		in.StartValue = &sv
	}
	res := scoring.FinalScore(cfg.Method, in)
	if res == nil {
		return nil
	}
	return &res.FinalScore
}

// Write dumps the request script as JSON.
func (p Plan) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(p)
}
