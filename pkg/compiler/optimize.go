package compiler

// entrySequence returns the statements that run from _start: every top-level
// statement except function definitions, followed by the body of a top-level
// `func main`. Other functions are never called, so their bodies are dropped.
func entrySequence(stmts []Stmt) (entry []Stmt, dropped []*FuncDecl) {
	var mainBody []Stmt
	for _, s := range stmts {
		f, ok := s.(*FuncDecl)
		if !ok {
			entry = append(entry, s)
			continue
		}
		if f.Name == "main" && mainBody == nil {
			mainBody = f.Body
			continue
		}
		dropped = append(dropped, f)
	}
	return append(entry, mainBody...), dropped
}

// walkStmts calls visit for every statement in stmts, descending into the
// bodies of if and while. Function, for-range and struct bodies are not
// entered since the generator never lowers them.
func walkStmts(stmts []Stmt, visit func(Stmt)) {
	for _, s := range stmts {
		visit(s)
		switch n := s.(type) {
		case *IfStmt:
			walkStmts(n.Then, visit)
			walkStmts(n.Else, visit)
		case *WhileStmt:
			walkStmts(n.Body, visit)
		}
	}
}

// usesName reports whether e reads any name in names, looking through
// binary operands and call arguments.
func usesName(e Expr, names map[string]bool) bool {
	switch n := e.(type) {
	case *Ident:
		return names[n.Name]
	case *BinaryExpr:
		return usesName(n.Left, names) || usesName(n.Right, names)
	case *CallExpr:
		for _, a := range n.Args {
			if usesName(a, names) {
				return true
			}
		}
	}
	return false
}

// isInputCall matches the zero-argument form  input()
func isInputCall(e Expr) bool {
	c, ok := e.(*CallExpr)
	return ok && c.Name == "input" && len(c.Args) == 0
}

// printArg returns the single argument of a print statement.
func printArg(s Stmt) (Expr, bool) {
	es, ok := s.(*ExprStmt)
	if !ok {
		return nil, false
	}
	c, ok := es.Expr.(*CallExpr)
	if !ok || c.Name != "print" || len(c.Args) != 1 {
		return nil, false
	}
	return c.Args[0], true
}
