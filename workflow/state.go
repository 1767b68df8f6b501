package workflow

import "fmt"

// semantic keys addressable in the data store alongside step indices.
const (
	KeyLastResult         = "lastResult"
	KeyLastSuccessfulTool = "lastSuccessfulTool"
)

// DataStore maps step indices and semantic keys to raw step results. The
// Executor consults it to resolve sentinel argument placeholders; the
// Observer summarizes collected data from the run's History instead.
type DataStore struct {
	byIndex    map[int]any
	bySemantic map[string]any
}

// NewDataStore returns an empty data store.
func NewDataStore() *DataStore {
	return &DataStore{byIndex: make(map[int]any), bySemantic: make(map[string]any)}
}

// PutStepResult records the raw result of step index and refreshes the
// lastResult/lastSuccessfulTool semantic keys.
func (d *DataStore) PutStepResult(index int, tool string, raw any) {
	d.byIndex[index] = raw
	d.bySemantic[KeyLastResult] = raw
	d.bySemantic[KeyLastSuccessfulTool] = tool
}

// StepResult returns the raw result recorded for step index, if any.
func (d *DataStore) StepResult(index int) (any, bool) {
	v, ok := d.byIndex[index]
	return v, ok
}

// Semantic returns the value stored under a semantic key (lastResult,
// lastSuccessfulTool, ...).
func (d *DataStore) Semantic(key string) (any, bool) {
	v, ok := d.bySemantic[key]
	return v, ok
}

// Keys lists every semantic key currently populated, for compact Planner
// status snapshots.
func (d *DataStore) Keys() []string {
	out := make([]string, 0, len(d.bySemantic))
	for k := range d.bySemantic {
		out = append(out, k)
	}
	return out
}

// Memory is a bounded per-run scratchpad the Planner/Observer may read.
// It is distinct from DataStore: DataStore holds raw tool results for
// argument inference, Memory holds a short summary trail of completed
// steps. Each run starts with an empty Memory; nothing is carried from one
// run to the next.
type Memory struct {
	capacity int
	entries  []MemoryEntry
}

// MemoryEntry is one remembered fact: the tool that produced it, a short
// textual summary, and the language it was resolved in at the time.
type MemoryEntry struct {
	Tool    string
	Summary string
	Lang    string
}

// NewMemory returns a memory scratchpad bounded to the last capacity
// entries.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 20
	}
	return &Memory{capacity: capacity}
}

// Remember appends an entry, evicting the oldest when over capacity.
func (m *Memory) Remember(e MemoryEntry) {
	m.entries = append(m.entries, e)
	if over := len(m.entries) - m.capacity; over > 0 {
		m.entries = m.entries[over:]
	}
}

// Entries returns the remembered entries in chronological order.
func (m *Memory) Entries() []MemoryEntry {
	return append([]MemoryEntry(nil), m.entries...)
}

// TerminationReason records why a run stopped, for final_result events and
// logs.
type TerminationReason string

const (
	ReasonObserverComplete   TerminationReason = "observer_complete"
	ReasonHardCap            TerminationReason = "hard_cap"
	ReasonConsecutiveFailure TerminationReason = "consecutive_failures"
	ReasonStagnation         TerminationReason = "stagnation"
	ReasonRepeatedAction     TerminationReason = "repeated_action"
	ReasonCancelled          TerminationReason = "cancelled"
	ReasonPlannerFailure     TerminationReason = "planner_failure"
	ReasonPlannerConcluded   TerminationReason = "planner_concluded"
)

// State is the full in-memory state of one engine run.
type State struct {
	OriginalQuery string
	UserLanguage  string

	History   []*Step
	DataStore *DataStore
	Memory    *Memory
	Progress  *Progress

	Iteration int

	IsComplete bool
	Reason     TerminationReason
}

// NewState constructs the initial state for a run.
func NewState(query, lang string, memCapacity int) *State {
	return &State{
		OriginalQuery: query,
		UserLanguage:  lang,
		DataStore:     NewDataStore(),
		Memory:        NewMemory(memCapacity),
		Progress:      NewProgress(),
	}
}

// AppendStep appends a finished (completed or failed) step to history and
// bumps Iteration, preserving invariant (a): history.length == iteration at
// the top of each loop.
func (s *State) AppendStep(step *Step) {
	if step.Status != StatusCompleted && step.Status != StatusFailed {
		panic(fmt.Sprintf("workflow: AppendStep called with non-terminal status %q", step.Status))
	}
	s.History = append(s.History, step)
	s.Iteration = len(s.History)
}

// SuccessCount returns how many steps in history completed successfully.
func (s *State) SuccessCount() int {
	n := 0
	for _, st := range s.History {
		if st.Status == StatusCompleted {
			n++
		}
	}
	return n
}

// LastStep returns the most recently appended step, or nil if history is
// empty.
func (s *State) LastStep() *Step {
	if len(s.History) == 0 {
		return nil
	}
	return s.History[len(s.History)-1]
}
