// Package loadgen produces synthetic roster requests and drives them against
// a running server.
package loadgen

import (
	"math/rand/v2"
	"time"

	"github.com/ShayCichocki/rosterbuild/pkg/models"
)

// Teams is the pool of WNBA teams requests are drawn from.
var Teams = []string{
	"Las Vegas Aces",
	"New York Liberty",
	"Connecticut Sun",
	"Washington Mystics",
	"Chicago Sky",
	"Indiana Fever",
	"Minnesota Lynx",
	"Phoenix Mercury",
	"Seattle Storm",
	"Dallas Wings",
	"Atlanta Dream",
	"Los Angeles Sparks",
}

var Seasons = []string{"2025", "2026", "2027"}

var Strategies = []string{
	"championship",
	"rebuild",
	"retool",
	"contend",
	"develop",
	"win-now",
	"youth movement",
	"veteran leadership",
	"defensive focus",
	"offensive firepower",
	"balanced approach",
	"high-tempo",
	"defensive-minded",
	"three-point shooting",
	"inside-out game",
}

var Priorities = []string{
	"leadership",
	"scoring",
	"defense",
	"rebounding",
	"playmaking",
	"three-point shooting",
	"interior presence",
	"perimeter defense",
	"bench depth",
	"veteran experience",
	"youth development",
	"chemistry",
	"versatility",
	"athleticism",
	"basketball IQ",
	"clutch performance",
	"team culture",
	"injury prevention",
	"salary cap flexibility",
	"future assets",
}

var CapTargets = []string{
	"aggressive spending",
	"conservative approach",
	"flexible cap space",
	"max contracts",
	"mid-level exceptions",
	"veteran minimums",
	"rookie scale contracts",
	"balanced spending",
	"under the cap",
	"over the cap",
	"luxury tax avoidance",
	"championship investment",
	"developmental focus",
	"win-now spending",
	"future planning",
}

const (
	// NoPriorityRate is the share of requests sent without priorities.
	NoPriorityRate = 0.3
	// NoCapTargetRate is the share of requests sent without a cap target.
	NoCapTargetRate = 0.4
	// MaxPriorities bounds the priorities drawn for one request.
	MaxPriorities = 3
)

// Item is one generated request.
type Item struct {
	ID        int            `json:"id"`
	Request   models.Request `json:"request"`
	Timestamp time.Time      `json:"timestamp"`
}

// Generator draws synthetic requests. It is not safe for concurrent use.
type Generator struct {
	rng       *rand.Rand
	now       func() time.Time
	modelType string
}

// NewGenerator creates a generator. The same seed yields the same requests.
func NewGenerator(seed uint64) *Generator {
	return &Generator{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), now: time.Now}
}

// WithModel sets model_type on every generated request.
func (g *Generator) WithModel(modelType string) *Generator {
	g.modelType = modelType
	return g
}

// Generate returns n requests numbered from 1.
func (g *Generator) Generate(n int) []Item {
	items := make([]Item, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, Item{ID: i + 1, Request: g.Request(), Timestamp: g.now()})
	}
	return items
}

// Request draws one request.
func (g *Generator) Request() models.Request {
	req := models.Request{
		Team:      g.pick(Teams),
		Season:    g.pick(Seasons),
		Strategy:  g.pick(Strategies),
		ModelType: g.modelType,
	}
	if g.rng.Float64() >= NoPriorityRate {
		req.Priorities = g.sample(Priorities, 1+g.rng.IntN(MaxPriorities))
	}
	if g.rng.Float64() >= NoCapTargetRate {
		req.CapTarget = g.pick(CapTargets)
	}
	return req
}

func (g *Generator) pick(pool []string) string {
	return pool[g.rng.IntN(len(pool))]
}

// sample returns k distinct elements of pool.
func (g *Generator) sample(pool []string, k int) []string {
	idx := g.rng.Perm(len(pool))[:k]
	out := make([]string, k)
	for i, j := range idx {
		out[i] = pool[j]
	}
	return out
}
