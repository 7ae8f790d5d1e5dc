package health

// Level is the severity of a signal.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelAlert Level = "alert"
)

// Period names the window width a signal was evaluated over.
type Period string

const (
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// Signal is a detected condition in the financial series.
type Signal struct {
	Rule   string `json:"rule,omitempty"`
	Label  string `json:"label"`
	Level  Level  `json:"level"`
	Detail string `json:"detail"`
	Period Period `json:"period"`
}

// Report is the outcome of evaluating every rule.
type Report struct {
	Score   int      `json:"score"`
	Signals []Signal `json:"signals"`
}

// Score derives an integer 0..100 from the emitted signals.
func Score(signals []Signal) int {
	score := 100
	for _, s := range signals {
		switch s.Level {
		case LevelAlert:
			score -= 25
		case LevelWarn:
			score -= 10
		}
	}
	if score < 0 {
		return 0
	}
	return score
}
