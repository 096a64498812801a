package retry

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const cacheSchemaVersion = 1

const cacheMaxAge = 7 * 24 * time.Hour

// candidateStrategies are the backoff shapes the Adaptive strategy
// chooses between via Thompson sampling.
var candidateStrategies = []Strategy{StrategyLinear, StrategyExponential, StrategyExponentialJitter}

func strategyName(s Strategy) string {
	switch s {
	case StrategyLinear:
		return "linear"
	case StrategyExponential:
		return "exponential"
	case StrategyExponentialJitter:
		return "exponential_jitter"
	default:
		return "unknown"
	}
}

type strategyStats struct {
	Successes int `yaml:"successes"`
	Failures  int `yaml:"failures"`
}

type serverRecord struct {
	Strategies map[string]*strategyStats `yaml:"strategies"`
	LastSeen   time.Time                 `yaml:"last_seen"`
}

type cacheFile struct {
	SchemaVersion int                      `yaml:"schema_version"`
	Servers       map[string]*serverRecord `yaml:"servers"`
}

// cacheKey hashes a "host:port" server identity into the cache's map
// key, per spec.md §6's persisted-state description.
func cacheKey(server string) string {
	sum := sha256.Sum256([]byte(server))
	return hex.EncodeToString(sum[:])
}

func defaultCachePath(dir string) (string, error) {
	if dir == "" {
		d, err := os.UserCacheDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(d, "rtspingest")
	}
	return filepath.Join(dir, "adaptive-retry.yaml"), nil
}

func loadCache(path string) (*cacheFile, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &cacheFile{SchemaVersion: cacheSchemaVersion, Servers: map[string]*serverRecord{}}, nil
	}
	if err != nil {
		return nil, err
	}

	var cf cacheFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return &cacheFile{SchemaVersion: cacheSchemaVersion, Servers: map[string]*serverRecord{}}, nil
	}
	if cf.Servers == nil {
		cf.Servers = map[string]*serverRecord{}
	}
	cf.SchemaVersion = cacheSchemaVersion

	pruneOld(&cf, time.Now())

	return &cf, nil
}

func pruneOld(cf *cacheFile, now time.Time) {
	for k, rec := range cf.Servers {
		if now.Sub(rec.LastSeen) > cacheMaxAge {
			delete(cf.Servers, k)
		}
	}
}

// saveCache writes cf to path via a temp file plus atomic rename, so a
// concurrent reader never observes a torn write.
func saveCache(path string, cf *cacheFile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := yaml.Marshal(cf)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// --- Thompson sampling over Beta(success+1, failure+1) posteriors ---

func sampleNormal(rnd func() float64) float64 {
	u1 := rnd()
	if u1 < 1e-12 {
		u1 = 1e-12
	}
	u2 := rnd()
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

// sampleGamma draws from Gamma(alpha, 1) via Marsaglia-Tsang.
func sampleGamma(alpha float64, rnd func() float64) float64 {
	if alpha < 1 {
		u := rnd()
		return sampleGamma(alpha+1, rnd) * math.Pow(u, 1/alpha)
	}

	d := alpha - 1.0/3.0
	c := 1.0 / math.Sqrt(9*d)

	for {
		var x, v float64
		for {
			x = sampleNormal(rnd)
			v = 1 + c*x
			if v > 0 {
				break
			}
		}
		v = v * v * v
		u := rnd()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}

func sampleBeta(successes, failures int, rnd func() float64) float64 {
	a := float64(successes + 1)
	b := float64(failures + 1)
	x := sampleGamma(a, rnd)
	y := sampleGamma(b, rnd)
	return x / (x + y)
}

// Controller drives the retry controller's strategy selection (spec
// §4.7): it resolves Auto/Adaptive into a concrete backoff, persists
// the Adaptive per-server record, and runs change detection.
type Controller struct {
	policy      Policy
	server      string
	cachePath   string
	exploration float64

	rnd func() float64

	cache        *cacheFile
	cd           changeDetector
	exploreBoost int

	recentUptimes          []time.Duration
	recentConnectFailures  int
	recentFailuresObserved int

	lastWins bool

	log zerolog.Logger
}

// SetLogger attaches a logger for debug-level strategy-selection and
// outcome events. Safe to call once, right after NewController.
func (c *Controller) SetLogger(log zerolog.Logger) {
	c.log = log
}

// NewController builds a Controller for one server identity
// ("host:port"). exploration is the baseline exploration fraction
// (spec default 0.1).
func NewController(policy Policy, server, cacheDir string, exploration float64) (*Controller, error) {
	path, err := defaultCachePath(cacheDir)
	if err != nil {
		return nil, err
	}

	cache, err := loadCache(path)
	if err != nil {
		return nil, err
	}

	if exploration <= 0 {
		exploration = 0.1
	}

	return &Controller{
		policy:      policy,
		server:      server,
		cachePath:   path,
		exploration: exploration,
		cache:       cache,
		log:         zerolog.Nop(),
	}, nil
}

func (c *Controller) randFloat() float64 {
	if c.rnd != nil {
		return c.rnd()
	}
	return rand.Float64()
}

func (c *Controller) record() *serverRecord {
	key := cacheKey(c.server)
	rec, ok := c.cache.Servers[key]
	if !ok {
		rec = &serverRecord{Strategies: map[string]*strategyStats{}}
		c.cache.Servers[key] = rec
	}
	rec.LastSeen = time.Now()
	return rec
}

// chooseAdaptive runs Thompson sampling across candidateStrategies,
// reserving c.exploration (or 0.3 during an exploration boost window)
// of attempts for a uniformly random non-best candidate.
func (c *Controller) chooseAdaptive() Strategy {
	rec := c.record()

	explorationPct := c.exploration
	if c.exploreBoost > 0 {
		explorationPct = 0.3
		c.exploreBoost--
	}

	best := candidateStrategies[0]
	bestSample := -1.0
	for _, s := range candidateStrategies {
		stats := rec.Strategies[strategyName(s)]
		successes, failures := 0, 0
		if stats != nil {
			successes, failures = stats.Successes, stats.Failures
		}
		sample := sampleBeta(successes, failures, c.randFloat)
		if sample > bestSample {
			bestSample = sample
			best = s
		}
	}

	if c.randFloat() < explorationPct {
		others := make([]Strategy, 0, len(candidateStrategies)-1)
		for _, s := range candidateStrategies {
			if s != best {
				others = append(others, s)
			}
		}
		return others[rand.Intn(len(others))]
	}
	return best
}

// chooseAuto applies the heuristics of spec §4.7 step 2's `Auto` case
// based on the last few recorded session outcomes.
func (c *Controller) chooseAuto() (Strategy, bool) {
	if len(c.recentUptimes) >= 3 {
		first := c.recentUptimes[len(c.recentUptimes)-3]
		similar := true
		for _, u := range c.recentUptimes[len(c.recentUptimes)-2:] {
			diff := u - first
			if diff < 0 {
				diff = -diff
			}
			if diff > first/5+time.Second {
				similar = false
				break
			}
		}
		if similar {
			return StrategyLinear, true // last-wins
		}
	}

	if c.recentFailuresObserved > 0 &&
		c.recentConnectFailures*2 >= c.recentFailuresObserved {
		return StrategyExponentialJitter, false // first-wins
	}

	return StrategyExponentialJitter, false
}

// NextDelay resolves the configured Strategy (substituting a concrete
// one for Auto/Adaptive) and returns the delay before the given
// attempt, the strategy actually used, and whether racing should use
// last-wins.
func (c *Controller) NextDelay(attempt int) (time.Duration, Strategy, bool, bool) {
	strategy := c.policy.Strategy
	lastWins := c.lastWins

	switch c.policy.Strategy {
	case StrategyAdaptive:
		strategy = c.chooseAdaptive()
	case StrategyAuto:
		strategy, lastWins = c.chooseAuto()
	}

	p := c.policy
	p.Strategy = strategy
	delay, ok := p.NextDelay(attempt)
	c.log.Debug().
		Int("attempt", attempt).
		Str("strategy", strategyName(strategy)).
		Dur("delay", delay).
		Bool("last_wins", lastWins).
		Bool("ok", ok).
		Msg("retry: next delay chosen")
	return delay, strategy, lastWins, ok
}

// RecordOutcome feeds a reconnection attempt's result back into the
// change detector and, for Adaptive, the persisted Beta posteriors.
func (c *Controller) RecordOutcome(strategy Strategy, success bool, connectTimeFailure bool, uptime time.Duration) {
	c.log.Debug().
		Str("strategy", strategyName(strategy)).
		Bool("success", success).
		Bool("connect_failure", connectTimeFailure).
		Dur("uptime", uptime).
		Msg("retry: outcome recorded")

	if c.cd.record(success) {
		c.exploreBoost = 10
	}

	if !success {
		c.recentFailuresObserved++
		if connectTimeFailure {
			c.recentConnectFailures++
		}
	} else {
		c.recentUptimes = append(c.recentUptimes, uptime)
		if len(c.recentUptimes) > 3 {
			c.recentUptimes = c.recentUptimes[len(c.recentUptimes)-3:]
		}
		c.recentFailuresObserved = 0
		c.recentConnectFailures = 0
	}

	if c.policy.Strategy == StrategyAdaptive {
		rec := c.record()
		name := strategyName(strategy)
		stats, ok := rec.Strategies[name]
		if !ok {
			stats = &strategyStats{}
			rec.Strategies[name] = stats
		}
		if success {
			stats.Successes++
		} else {
			stats.Failures++
		}
	}
}

// Persist saves the adaptive cache to disk. Safe to call periodically
// and on shutdown.
func (c *Controller) Persist() error {
	pruneOld(c.cache, time.Now())
	err := saveCache(c.cachePath, c.cache)
	if err != nil {
		c.log.Debug().Err(err).Str("path", c.cachePath).Msg("retry: cache persist failed")
	}
	return err
}
