package domain

// RollbackEntry records one completed move
type RollbackEntry struct {
	Current  string `json:"current"`
	Original string `json:"original"`
}

// FileState is the position of a file in the organize pipeline
type FileState string

const (
	StateDiscovered           FileState = "discovered"
	StateExtracted            FileState = "extracted"
	StateClassified           FileState = "classified"
	StateMoved                FileState = "moved"
	StateTagged               FileState = "tagged"
	StateExtractionFailed     FileState = "extraction_failed"
	StateClassificationFailed FileState = "classification_failed"
	StateMoveFailed           FileState = "move_failed"
)

// Failed reports whether the state is terminal and unsuccessful
func (s FileState) Failed() bool {
	switch s {
	case StateExtractionFailed, StateClassificationFailed, StateMoveFailed:
		return true
	}
	return false
}

// FileResult is the outcome of processing one candidate file
type FileResult struct {
	Path        string    `json:"path"`
	State       FileState `json:"state"`
	Category    string    `json:"category,omitempty"`
	Destination string    `json:"destination,omitempty"`
	Err         error     `json:"-"`
}

// Report summarizes an organize run
type Report struct {
	Files   []FileResult `json:"files"`
	Missing []string     `json:"missing,omitempty"`
	// PersistErr is set when files moved but the rollback log or tag store
	// could not be written
	PersistErr error `json:"-"`
}

// Count returns how many files ended in the given state
func (r *Report) Count(state FileState) int {
	n := 0
	for _, f := range r.Files {
		if f.State == state {
			n++
		}
	}
	return n
}

// Failures returns the results that ended in a failure state
func (r *Report) Failures() []FileResult {
	var out []FileResult
	for _, f := range r.Files {
		if f.State.Failed() {
			out = append(out, f)
		}
	}
	return out
}
