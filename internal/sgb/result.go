package sgb

// Status is the terminal state of a single-game operation.
type Status int

const (
	StatusOK Status = iota
	StatusSkipped
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusSkipped:
		return "SKIPPED"
	default:
		return "FAILED"
	}
}

// Result is the tagged outcome of a backup or restore. Err is set only
// when Status is StatusFailed; a skip carries the reason in Reason.
type Result struct {
	GameID string
	Status Status
	Path   string // backup written or restored from
	Reason string
	Err    error
}

func ok(gameID, path string) Result {
	return Result{GameID: gameID, Status: StatusOK, Path: path}
}

func skipped(gameID, reason string) Result {
	return Result{GameID: gameID, Status: StatusSkipped, Reason: reason}
}

func failed(gameID, path string, err error) Result {
	return Result{GameID: gameID, Status: StatusFailed, Path: path, Err: err}
}

// BatchResult aggregates the outcomes of a multi-game operation.
type BatchResult struct {
	Results []Result
	OK      int
	Skipped int
	Failed  int
}

// Add records r and updates the counters.
func (b *BatchResult) Add(r Result) {
	b.Results = append(b.Results, r)
	switch r.Status {
	case StatusOK:
		b.OK++
	case StatusSkipped:
		b.Skipped++
	default:
		b.Failed++
	}
}
