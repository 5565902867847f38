package frame

// ClauseKind tags what kind of nested control flow a suspended frame was
// inside when execution paused at an external call.
type ClauseKind uint8

const (
	ClauseNone ClauseKind = iota
	ClauseIf
	ClauseFor
)

// Clause is the state needed to re-enter one nested control-flow
// construct on resume: which branch an if took, or how far a for loop's
// iterator had advanced.
type Clause struct {
	Kind        ClauseKind
	BranchTaken bool
	Cursor      int
}

// Position records one suspended frame: its program counter plus the
// innermost clause state. The executor's resume handle holds one Position
// per live frame, outermost first.
type Position struct {
	PC     int
	Clause Clause
}
