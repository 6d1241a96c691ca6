package safety

import "time"

// CostEntry is one ledger row for a subtask's LLM usage.
type CostEntry struct {
	SubTaskID     string
	TokensUsed    int
	EstimatedCost float64
	Model         string
	Timestamp     time.Time
}

// TrackSubTaskCost appends a ledger row priced from the per-model table
// (per million tokens), falling back to the "default" row.
func (l *Limits) TrackSubTaskCost(subTaskID string, inputTokens, outputTokens int, model string) CostEntry {
	price, ok := l.pricing[model]
	if !ok {
		price = l.pricing["default"]
	}
	cost := float64(inputTokens)/1e6*price.InputPerMTok + float64(outputTokens)/1e6*price.OutputPerMTok

	entry := CostEntry{
		SubTaskID:     subTaskID,
		TokensUsed:    inputTokens + outputTokens,
		EstimatedCost: cost,
		Model:         model,
		Timestamp:     l.now(),
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.costs[subTaskID] = append(l.costs[subTaskID], entry)
	return entry
}

// TotalCostForWorker sums the ledger over every subtask whose ancestry
// entry names the worker.
func (l *Limits) TotalCostForWorker(workerID string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	var total float64
	for subTaskID, entries := range l.costs {
		anc, ok := l.ancestry[subTaskID]
		if !ok || anc.WorkerID != workerID {
			continue
		}
		for _, e := range entries {
			total += e.EstimatedCost
		}
	}
	return total
}

// CostEntries returns a copy of the ledger rows for a subtask.
func (l *Limits) CostEntries(subTaskID string) []CostEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.costs[subTaskID]
	out := make([]CostEntry, len(entries))
	copy(out, entries)
	return out
}

func (l *Limits) now() time.Time {
	l.mu.Lock()
	fn := l.nowFn
	l.mu.Unlock()
	return fn()
}
