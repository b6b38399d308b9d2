package unsubscribe

// Status is the caller-facing outcome of a run.
type Status string

const (
	StatusVisited        Status = "visited"
	StatusFormInteracted Status = "form_interacted"
	StatusSubmitted      Status = "submitted"
	StatusFormSubmitted  Status = "form_submitted"
	StatusNavigated      Status = "navigated"
	StatusError          Status = "error"
)

// rank orders the non-error statuses. submitted and form_submitted share a
// rank so either may replace the other.
func (s Status) rank() int {
	switch s {
	case StatusVisited:
		return 0
	case StatusFormInteracted:
		return 1
	case StatusSubmitted, StatusFormSubmitted:
		return 2
	case StatusNavigated:
		return 3
	}
	return -1
}

// Tracker holds the status of one run. It only moves forward, and error is
// terminal.
type Tracker struct {
	cur Status
}

func NewTracker() *Tracker {
	return &Tracker{cur: StatusVisited}
}

func (t *Tracker) Status() Status {
	return t.cur
}

// Advance moves to s unless that would go backwards. It reports whether the
// status changed.
func (t *Tracker) Advance(s Status) bool {
	if t.cur == StatusError || s == StatusError || s.rank() < t.cur.rank() || s == t.cur {
		return false
	}
	t.cur = s
	return true
}

// Fail sets the terminal error status.
func (t *Tracker) Fail() {
	t.cur = StatusError
}

// ActionLog is the ordered, append-only trace of executed steps.
type ActionLog struct {
	tags []string
}

func (l *ActionLog) Add(tag string) {
	l.tags = append(l.tags, tag)
}

// Tags returns a copy of the trace; never nil.
func (l *ActionLog) Tags() []string {
	return append(make([]string, 0, len(l.tags)), l.tags...)
}

func (l *ActionLog) Len() int {
	return len(l.tags)
}
