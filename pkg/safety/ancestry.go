package safety

import "fmt"

// AncestryEntry records one spawn in a root-to-leaf delegation chain.
// The (WorkerID, AgentType, PromptHash) triple is the cycle key.
type AncestryEntry struct {
	SubTaskID       string
	ParentSubTaskID string
	WorkerID        string
	PlanID          string
	AgentType       string
	PromptHash      string
}

func (e AncestryEntry) cycleKey() string {
	return e.WorkerID + "\x00" + e.AgentType + "\x00" + e.PromptHash
}

// RegisterAncestry stores an entry. The entry lives until ClearAncestry
// or an emergency stop covering it.
func (l *Limits) RegisterAncestry(entry AncestryEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ancestry[entry.SubTaskID] = entry
}

// ClearAncestry removes the entry for a finished subtask and its cost
// rows. Idempotent.
func (l *Limits) ClearAncestry(subTaskID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.ancestry, subTaskID)
	delete(l.costs, subTaskID)
}

// AncestryChain returns the chain root-to-leaf ending at subTaskID.
// Empty when the id is unknown.
func (l *Limits) AncestryChain(subTaskID string) []AncestryEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.chainLocked(subTaskID)
}

func (l *Limits) chainLocked(subTaskID string) []AncestryEntry {
	var reversed []AncestryEntry
	seen := make(map[string]bool)
	id := subTaskID
	for id != "" && !seen[id] {
		seen[id] = true
		entry, ok := l.ancestry[id]
		if !ok {
			break
		}
		reversed = append(reversed, entry)
		id = entry.ParentSubTaskID
	}

	chain := make([]AncestryEntry, 0, len(reversed))
	for i := len(reversed) - 1; i >= 0; i-- {
		chain = append(chain, reversed[i])
	}
	return chain
}

// ProposedChain extends the parent's chain with a candidate entry,
// for handing to DetectCycle before the spawn is accepted.
func (l *Limits) ProposedChain(parentSubTaskID string, candidate AncestryEntry) []AncestryEntry {
	chain := l.AncestryChain(parentSubTaskID)
	return append(chain, candidate)
}

// DetectCycle fails when the chain repeats a subtask id or repeats the
// (workerID, agentType, promptHash) triple anywhere on the path.
func (l *Limits) DetectCycle(chain []AncestryEntry) error {
	seenIDs := make(map[string]bool, len(chain))
	seenKeys := make(map[string]bool, len(chain))

	for _, entry := range chain {
		if seenIDs[entry.SubTaskID] {
			return fmt.Errorf("%w: subtask %s repeats on its own ancestry path", ErrCycleDetected, entry.SubTaskID)
		}
		seenIDs[entry.SubTaskID] = true

		key := entry.cycleKey()
		if seenKeys[key] {
			return fmt.Errorf("%w: agent %q was already asked the same prompt by worker %s in this chain; refusing recursive delegation",
				ErrCycleDetected, entry.AgentType, entry.WorkerID)
		}
		seenKeys[key] = true
	}
	return nil
}
