package compiler

// scopeInfo is the preparer's record of one function (or the module):
// which names it binds, which of its locals must live in cells because an
// inner function captures them, and which of its own references resolve
// into an enclosing function's cells.
type scopeInfo struct {
	parent   *scopeInfo
	isModule bool
	def      *funcDef // nil for the module

	// bound names in first-binding order: params first for functions;
	// externals, then inputs, then assignments for the module.
	bound      []string
	boundSet   map[string]bool
	referenced map[string]bool

	// stmtBound marks names bound by an actual statement (as opposed to
	// the external/input seeding), used to decide whether a direct
	// CALL_EXTERNAL is safe.
	stmtBound map[string]bool

	// cellvars are this scope's locals captured by inner functions, in
	// discovery order. freevars are names this scope reads from an
	// enclosing function, in discovery order; pass-through entries are
	// added for intermediate scopes.
	cellvars []string
	freevars []string

	children map[*funcDef]*scopeInfo
}

func newScope(parent *scopeInfo, def *funcDef) *scopeInfo {
	return &scopeInfo{
		parent:     parent,
		isModule:   def == nil,
		def:        def,
		boundSet:   map[string]bool{},
		stmtBound:  map[string]bool{},
		referenced: map[string]bool{},
		children:   map[*funcDef]*scopeInfo{},
	}
}

func (s *scopeInfo) bind(name string) {
	if !s.boundSet[name] {
		s.boundSet[name] = true
		s.bound = append(s.bound, name)
	}
}

func (s *scopeInfo) hasCellvar(name string) bool {
	for _, c := range s.cellvars {
		if c == name {
			return true
		}
	}
	return false
}

func (s *scopeInfo) hasFreevar(name string) bool {
	for _, f := range s.freevars {
		if f == name {
			return true
		}
	}
	return false
}

// analyzeModule builds the scope tree for the whole program. externals
// and inputs claim the first module slots, in that order, matching the
// executor's namespace seeding.
func analyzeModule(body []stmt, inputs, externals []string) *scopeInfo {
	mod := newScope(nil, nil)
	for _, n := range externals {
		mod.bind(n)
	}
	for _, n := range inputs {
		mod.bind(n)
	}
	collectScope(mod, body)
	resolveScope(mod)
	return mod
}

// collectScope records bindings and references for one scope's body and
// recurses into nested function definitions.
func collectScope(s *scopeInfo, body []stmt) {
	for _, st := range body {
		collectStmt(s, st)
	}
}

func collectStmt(s *scopeInfo, st stmt) {
	switch t := st.(type) {
	case *exprStmt:
		collectExpr(s, t.x)
	case *assignStmt:
		collectExpr(s, t.value)
		for _, target := range t.targets {
			collectTarget(s, target)
		}
	case *augAssignStmt:
		collectExpr(s, t.value)
		collectExpr(s, t.target)
		collectTarget(s, t.target)
	case *ifStmt:
		collectExpr(s, t.cond)
		collectScope(s, t.body)
		collectScope(s, t.elseBody)
	case *whileStmt:
		collectExpr(s, t.cond)
		collectScope(s, t.body)
	case *forStmt:
		collectExpr(s, t.iter)
		collectTarget(s, t.target)
		collectScope(s, t.body)
	case *funcDef:
		for _, p := range t.params {
			if p.dflt != nil {
				// Defaults evaluate in the defining scope.
				collectExpr(s, p.dflt)
			}
		}
		s.bind(t.name)
		s.stmtBound[t.name] = true
		child := newScope(s, t)
		for _, p := range t.params {
			child.bind(p.name)
		}
		collectScope(child, t.body)
		s.children[t] = child
	case *returnStmt:
		if t.value != nil {
			collectExpr(s, t.value)
		}
	case *raiseStmt:
		if t.exc != nil {
			collectExpr(s, t.exc)
		}
		if t.cause != nil {
			collectExpr(s, t.cause)
		}
	case *delStmt:
		for _, target := range t.targets {
			collectExpr(s, target)
		}
	case *passStmt, *breakStmt, *continueStmt:
	}
}

func collectTarget(s *scopeInfo, e expr) {
	switch t := e.(type) {
	case *nameExpr:
		s.bind(t.name)
		s.stmtBound[t.name] = true
	case *starExpr:
		collectTarget(s, t.x)
	case *tupleExpr:
		for _, item := range t.items {
			collectTarget(s, item)
		}
	case *listExpr:
		for _, item := range t.items {
			collectTarget(s, item)
		}
	case *attrExpr:
		collectExpr(s, t.x)
	case *indexExpr:
		collectExpr(s, t.x)
		collectExpr(s, t.idx)
	}
}

func collectExpr(s *scopeInfo, e expr) {
	switch t := e.(type) {
	case *nameExpr:
		s.referenced[t.name] = true
	case *unaryExpr:
		collectExpr(s, t.x)
	case *binaryExpr:
		collectExpr(s, t.l)
		collectExpr(s, t.r)
	case *boolOpExpr:
		collectExpr(s, t.l)
		collectExpr(s, t.r)
	case *compareExpr:
		collectExpr(s, t.l)
		collectExpr(s, t.r)
	case *callExpr:
		collectExpr(s, t.fn)
		for _, a := range t.args {
			collectExpr(s, a)
		}
		for _, kw := range t.kwargs {
			collectExpr(s, kw.val)
		}
		if t.starArg != nil {
			collectExpr(s, t.starArg)
		}
		if t.kwArg != nil {
			collectExpr(s, t.kwArg)
		}
	case *attrExpr:
		collectExpr(s, t.x)
	case *indexExpr:
		collectExpr(s, t.x)
		collectExpr(s, t.idx)
	case *listExpr:
		for _, item := range t.items {
			collectExpr(s, item)
		}
	case *tupleExpr:
		for _, item := range t.items {
			collectExpr(s, item)
		}
	case *setExpr:
		for _, item := range t.items {
			collectExpr(s, item)
		}
	case *dictExpr:
		for i := range t.keys {
			collectExpr(s, t.keys[i])
			collectExpr(s, t.vals[i])
		}
	case *starExpr:
		collectExpr(s, t.x)
	case *fstringExpr:
		for _, part := range t.parts {
			if part.isExpr {
				collectExpr(s, part.x)
				for _, sp := range part.specParts {
					if sp.isExpr {
						collectExpr(s, sp.x)
					}
				}
			}
		}
	}
}

// resolveScope wires up cells bottom-up: every name a function references
// without binding is hunted through enclosing function scopes; a hit
// turns the defining scope's local into a cellvar and threads a freevar
// through every scope in between.
func resolveScope(s *scopeInfo) {
	for _, child := range s.children {
		resolveScope(child)
	}
	if s.isModule {
		return
	}

	for name := range s.referenced {
		if s.boundSet[name] || s.hasFreevar(name) {
			continue
		}
		resolveFree(s, name)
	}
}

// resolveFree threads name from the referencing scope up to the function
// scope that binds it, if any. No enclosing function binding means the
// name is a global (or builtin/module), resolved at emit time.
func resolveFree(from *scopeInfo, name string) {
	var chain []*scopeInfo
	for anc := from.parent; anc != nil && !anc.isModule; anc = anc.parent {
		if anc.boundSet[name] || anc.hasCellvar(name) {
			if !anc.hasCellvar(name) {
				anc.cellvars = append(anc.cellvars, name)
			}
			for _, mid := range chain {
				if !mid.hasFreevar(name) {
					mid.freevars = append(mid.freevars, name)
				}
			}
			if !from.hasFreevar(name) {
				from.freevars = append(from.freevars, name)
			}
			return
		}
		if anc.hasFreevar(name) {
			// Already threaded higher up; just extend down to us.
			for _, mid := range chain {
				if !mid.hasFreevar(name) {
					mid.freevars = append(mid.freevars, name)
				}
			}
			if !from.hasFreevar(name) {
				from.freevars = append(from.freevars, name)
			}
			return
		}
		chain = append(chain, anc)
	}
}
