package alerts

// Metric names a derived percentage a crossing rule compares
type Metric string

const (
	MetricDeltaToQuote Metric = "delta_to_quote"
	MetricDeltaToSMA   Metric = "delta_to_sma"
)

// RuleKind is the sealed variant over rule shapes: crossing rules compare a
// metric against a threshold between two consecutive observations, the
// drawdown rule compares closes over a fixed window. Evaluation switches
// exhaustively over the two implementations.
type RuleKind interface {
	ruleKind()
}

// Crossing fires exactly on the transition of a metric from above to
// at-or-below the threshold.
type Crossing struct {
	Metric    Metric
	Threshold float64
}

func (Crossing) ruleKind() {}

// Drawdown fires when the most recent close is down at least DropFraction
// from the close Window-1 trading days prior.
type Drawdown struct {
	Window       int
	DropFraction float64
}

func (Drawdown) ruleKind() {}

// Rule is one immutable, code-defined alert rule
type Rule struct {
	Key         string
	Cooldown    int // trading days
	Kind        RuleKind
	Description string
}

var ruleTable = []Rule{
	// Delta to target price crossing rules
	{
		Key:         "dq_le_10pct",
		Cooldown:    10,
		Kind:        Crossing{Metric: MetricDeltaToQuote, Threshold: 0.10},
		Description: "Stock crossed below +10% vs target price",
	},
	{
		Key:         "dq_le_5pct",
		Cooldown:    10,
		Kind:        Crossing{Metric: MetricDeltaToQuote, Threshold: 0.05},
		Description: "Stock crossed below +5% vs target price",
	},
	{
		Key:         "dq_le_0pct",
		Cooldown:    5,
		Kind:        Crossing{Metric: MetricDeltaToQuote, Threshold: 0.0},
		Description: "Stock crossed below target price",
	},
	{
		Key:         "dq_le_neg10pct",
		Cooldown:    5,
		Kind:        Crossing{Metric: MetricDeltaToQuote, Threshold: -0.10},
		Description: "Stock crossed below -10% vs target price",
	},

	// Delta to SMA200 crossing rules
	{
		Key:         "dsma_le_0pct",
		Cooldown:    10,
		Kind:        Crossing{Metric: MetricDeltaToSMA, Threshold: 0.0},
		Description: "Stock crossed below SMA200",
	},
	{
		Key:         "dsma_le_neg5pct",
		Cooldown:    10,
		Kind:        Crossing{Metric: MetricDeltaToSMA, Threshold: -0.05},
		Description: "Stock crossed below -5% vs SMA200",
	},
	{
		Key:         "dsma_le_neg10pct",
		Cooldown:    10,
		Kind:        Crossing{Metric: MetricDeltaToSMA, Threshold: -0.10},
		Description: "Stock crossed below -10% vs SMA200",
	},

	// Drawdown rule
	{
		Key:         "drawdown_10pct_2d",
		Cooldown:    5,
		Kind:        Drawdown{Window: 3, DropFraction: 0.10},
		Description: "Stock dropped 10% or more in 2 days",
	},
}

// Rules returns the fixed rule table in evaluation order
func Rules() []Rule {
	return ruleTable
}

// RuleByKey looks up a rule by its key
func RuleByKey(key string) (Rule, bool) {
	for _, rule := range ruleTable {
		if rule.Key == key {
			return rule, true
		}
	}
	return Rule{}, false
}
