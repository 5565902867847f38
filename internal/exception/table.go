package exception

// Handler is one row of a function's static exception table: the half-open
// bytecode range [PCStart, PCEnd) is protected by a handler starting at
// HandlerPC, which expects the value stack trimmed back to StackDepth
// before the caught exception is pushed.
type Handler struct {
	PCStart    int
	PCEnd      int
	HandlerPC  int
	StackDepth int
	// Kinds restricts the handler to specific exception kinds; a nil or
	// empty slice matches any kind, modeling a bare "except:".
	Kinds []Kind
}

func (h Handler) matchesKind(k Kind) bool {
	if len(h.Kinds) == 0 {
		return true
	}
	for _, want := range h.Kinds {
		if want == k {
			return true
		}
	}
	return false
}

func (h Handler) covers(pc int) bool {
	return pc >= h.PCStart && pc < h.PCEnd
}

// Table is the static per-function exception table compiled alongside a
// function's bytecode. Rows are expected in outer-to-inner declaration
// order; Lookup returns the innermost row that both covers pc and matches
// kind, mirroring a linear scan over nested try blocks.
type Table []Handler

// Lookup finds the handler that should catch an exception of kind k raised
// at pc, scanning from the end so that handlers added later (more deeply
// nested) win over earlier, broader ones covering the same pc.
func (t Table) Lookup(pc int, k Kind) (Handler, bool) {
	for i := len(t) - 1; i >= 0; i-- {
		h := t[i]
		if h.covers(pc) && h.matchesKind(k) {
			return h, true
		}
	}
	return Handler{}, false
}
