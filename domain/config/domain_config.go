package config

import "time"

// DomainConfig holds the tunable business rules of the fabric. Values are
// configuration, not hardcoded constants: the bootstrap layer may override
// any of them from the environment.
type DomainConfig struct {
	// Associative memory
	MemoryDecayFactor   float64 // controls how quickly unaccessed memories decay
	ImportanceThreshold float64 // records decaying below this are pruned
	DecayWriteThreshold float64 // skip persisting importance deltas smaller than this
	DefaultImportance   float64
	MaxAccessBonus      float64
	AccessBonusDivisor  float64

	// Event processing
	WorkerThreads   int
	MaxQueueSize    int
	HistoryPerType  int // rolling per-type id history consulted by correlation
	ShutdownTimeout time.Duration

	// Synchronization
	SyncIntervalMinutes int
	PriorityNodeTypes   []string
	SchedulerTick       time.Duration

	// Recall limits
	DefaultRecallLimit  int
	DefaultRelatedLimit int
}

// DefaultDomainConfig returns the default fabric tuning
func DefaultDomainConfig() *DomainConfig {
	return &DomainConfig{
		MemoryDecayFactor:   0.85,
		ImportanceThreshold: 0.3,
		DecayWriteThreshold: 0.01,
		DefaultImportance:   0.5,
		MaxAccessBonus:      0.2,
		AccessBonusDivisor:  100,

		WorkerThreads:   2,
		MaxQueueSize:    1000,
		HistoryPerType:  100,
		ShutdownTimeout: 5 * time.Second,

		SyncIntervalMinutes: 15,
		PriorityNodeTypes:   []string{"Event", "RedFlag"},
		SchedulerTick:       time.Second,

		DefaultRecallLimit:  5,
		DefaultRelatedLimit: 100,
	}
}

// PrioritySyncInterval derives the high-frequency cadence for priority
// node types from a full-pass interval, floored at one minute.
func PrioritySyncInterval(intervalMinutes int) int {
	interval := intervalMinutes / 3
	if interval < 1 {
		return 1
	}
	return interval
}
