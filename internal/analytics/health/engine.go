package health

// NamedRule pairs a rule with the name it reports under.
type NamedRule struct {
	Name string
	Eval Rule
}

// Engine runs an ordered list of independent rules.
type Engine struct {
	rules []NamedRule
}

// NewEngine builds an engine from rules.
func NewEngine(rules ...NamedRule) *Engine {
	return &Engine{rules: rules}
}

// NewDefaultEngine builds the standard rule set for a policy.
func NewDefaultEngine(policy Policy) *Engine {
	return NewEngine(DefaultRules(policy)...)
}

// DefaultRules returns the standard rules configured by policy.
func DefaultRules(policy Policy) []NamedRule {
	p := policy.withDefaults()
	return []NamedRule{
		{Name: RuleRevenueDropWoW, Eval: RevenueDropWoW(p.RevenueDropPct)},
		{Name: RuleGrossMarginDropMoM, Eval: GrossMarginDropMoM(p.MarginDropPoints)},
		{Name: RuleExpenseSpike, Eval: ExpenseSpike(p.ExpenseSpikePct, p.ExpenseBaselineMonths)},
		{Name: RuleConsecutiveNegativeNet, Eval: ConsecutiveNegativeNet(p.NegativeNetRun)},
	}
}

// Evaluate runs every rule and scores the result. When nothing fires and at least one
// complete month was evaluated, a single info signal records the clean bill of health.
func (e *Engine) Evaluate(h History) Report {
	signals := make([]Signal, 0)
	if e != nil {
		for _, rule := range e.rules {
			if rule.Eval == nil {
				continue
			}
			for _, s := range rule.Eval(h) {
				if s.Rule == "" {
					s.Rule = rule.Name
				}
				signals = append(signals, s)
			}
		}
	}
	if len(signals) == 0 && len(h.Months) > 0 {
		signals = append(signals, Signal{
			Rule:   "healthy",
			Label:  "Healthy",
			Level:  LevelInfo,
			Detail: "No anomalies detected in the most recent complete periods",
			Period: PeriodMonth,
		})
	}
	return Report{Score: Score(signals), Signals: signals}
}
