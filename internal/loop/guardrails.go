package loop

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/rscheiwe/deepharness/pkg/errors"
)

// CostGuard bounds a run's token and wall-clock spend. The wall-clock
// budget is fixed into a deadline at construction; the token budget is a
// running sum checked on every AddTokens.
type CostGuard struct {
	mu    sync.Mutex
	spent int64

	maxTokens int64
	deadline  time.Time // zero when the run has no wall-clock budget
	start     time.Time
	logger    *zap.Logger
}

// NewCostGuard creates a cost guard for the current run.
func NewCostGuard(maxTokens int64, maxDuration time.Duration, logger *zap.Logger) *CostGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &CostGuard{maxTokens: maxTokens, start: time.Now(), logger: logger}
	if maxDuration > 0 {
		g.deadline = g.start.Add(maxDuration)
	}
	return g
}

// AddTokens accumulates usage, returning a BudgetExceeded error once the
// configured ceiling is crossed.
func (g *CostGuard) AddTokens(n int64) error {
	g.mu.Lock()
	g.spent += n
	spent := g.spent
	g.mu.Unlock()

	if g.maxTokens > 0 && spent > g.maxTokens {
		g.logger.Warn("token budget exceeded",
			zap.Int64("spent", spent),
			zap.Int64("max", g.maxTokens),
		)
		return apperrors.NewBudgetExceededError(fmt.Sprintf("token budget exceeded: %d > %d", spent, g.maxTokens))
	}
	return nil
}

// CheckBudget returns a BudgetExceeded error once the run's deadline has
// passed.
func (g *CostGuard) CheckBudget() error {
	if !g.deadline.IsZero() && time.Now().After(g.deadline) {
		return apperrors.NewBudgetExceededError("run time budget exceeded")
	}
	return nil
}

// Usage returns the current token count and elapsed wall-clock time.
func (g *CostGuard) Usage() (tokens int64, elapsed time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.spent, time.Since(g.start)
}

// LoopDetector flags repeated tool-call patterns with two independent
// strategies. Exact repeats are caught by run-length: a call whose
// name+args signature matches the previous call extends the current run,
// anything else starts a new one, and a run of threshold length fires.
// Name frequency is caught by a count map maintained incrementally over a
// sliding window of the last windowSize names, so an interleaved pattern
// (the same tool dominating the window without ever repeating
// consecutively) fires too. Both strategies return a reflection prompt
// meant to be folded into the next turn so the model can self-correct, and
// both increment a counter the loop's termination predicate consults, so
// repeated flags eventually end the run even if the model never
// self-corrects.
type LoopDetector struct {
	windowSize    int
	threshold     int
	nameThreshold int

	lastSig   string
	runLength int

	nameWindow []string
	nameCounts map[string]int

	flagged int
	logger  *zap.Logger
}

// NewLoopDetector builds a detector combining both strategies.
func NewLoopDetector(windowSize, threshold, nameThreshold int, logger *zap.Logger) *LoopDetector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoopDetector{
		windowSize:    windowSize,
		threshold:     threshold,
		nameThreshold: nameThreshold,
		nameCounts:    make(map[string]int),
		logger:        logger,
	}
}

// RecordName tracks tool name frequency within the sliding window,
// independent of whether calls are consecutive, and returns a non-empty
// reflection prompt once a single name dominates the window.
func (d *LoopDetector) RecordName(toolName string) string {
	d.nameWindow = append(d.nameWindow, toolName)
	d.nameCounts[toolName]++
	if len(d.nameWindow) > d.windowSize {
		evicted := d.nameWindow[0]
		d.nameWindow = d.nameWindow[1:]
		if d.nameCounts[evicted]--; d.nameCounts[evicted] == 0 {
			delete(d.nameCounts, evicted)
		}
	}

	count := d.nameCounts[toolName]
	if d.nameThreshold <= 0 || count < d.nameThreshold {
		return ""
	}
	d.flagged++
	d.logger.Warn("tool dominates sliding window",
		zap.String("tool", toolName),
		zap.Int("count_in_window", count),
		zap.Int("threshold", d.nameThreshold),
	)
	return fmt.Sprintf(
		"[SYSTEM] Warning: tool %q has been called %d times in the last %d calls. "+
			"You are likely stuck in a retry loop. Stop calling tools and instead tell the user: "+
			"(1) what you were trying to do, (2) what is blocking it, (3) what they could do next.",
		toolName, count, len(d.nameWindow),
	)
}

// Record tracks exact name+args signatures and returns a non-empty
// reflection prompt once the same call repeats threshold times in a row.
func (d *LoopDetector) Record(toolName string, argsSig string) string {
	sig := toolName
	if argsSig != "" {
		sig = toolName + "|" + argsSig
	}

	if sig == d.lastSig {
		d.runLength++
	} else {
		d.lastSig = sig
		d.runLength = 1
	}

	if d.threshold <= 0 || d.runLength < d.threshold {
		return ""
	}
	d.flagged++
	d.logger.Warn("exact tool call loop detected",
		zap.String("signature", sig),
		zap.Int("consecutive_calls", d.runLength),
	)
	return fmt.Sprintf(
		"[SYSTEM] Tool %q was called %d times in a row with identical arguments; "+
			"the result will not change. Stop repeating the call and try a different approach "+
			"or report the outcome to the user.",
		toolName, d.runLength,
	)
}

// Flagged returns how many times either strategy has fired so far.
func (d *LoopDetector) Flagged() int { return d.flagged }

// Reset clears all tracking state; call at the start of each run.
func (d *LoopDetector) Reset() {
	d.lastSig = ""
	d.runLength = 0
	d.nameWindow = nil
	d.nameCounts = make(map[string]int)
	d.flagged = 0
}
