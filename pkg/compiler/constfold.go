package compiler

import (
	"math"
	"strconv"
)

// constTable holds the compile-time values of let bindings.
type constTable struct {
	ints map[string]int64
	strs map[string]string
}

// foldBinary applies op with wrapping signed 64-bit arithmetic. Division by
// zero and the one overflowing division are reported as not constant, since
// the emitted idiv would trap on both.
func foldBinary(op BinOp, l, r int64) (int64, bool) {
	switch op {
	case OpAdd:
		return l + r, true
	case OpSub:
		return l - r, true
	case OpMul:
		return l * r, true
	case OpDiv:
		if r == 0 || (l == math.MinInt64 && r == -1) {
			return 0, false
		}
		return l / r, true
	case OpLt:
		return boolInt(l < r), true
	case OpGt:
		return boolInt(l > r), true
	case OpLtEq:
		return boolInt(l <= r), true
	case OpGtEq:
		return boolInt(l >= r), true
	case OpEqEq:
		return boolInt(l == r), true
	case OpNotEq:
		return boolInt(l != r), true
	}
	return 0, false
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// evalConst folds e using the integer table. Only literals, known names and
// binary operators participate.
func (c *constTable) evalConst(e Expr) (int64, bool) {
	switch n := e.(type) {
	case *IntLit:
		return n.Value, true
	case *Ident:
		v, ok := c.ints[n.Name]
		return v, ok
	case *BinaryExpr:
		l, ok := c.evalConst(n.Left)
		if !ok {
			return 0, false
		}
		r, ok := c.evalConst(n.Right)
		if !ok {
			return 0, false
		}
		return foldBinary(n.Op, l, r)
	}
	return 0, false
}

// evalText is evalConst rendered as decimal text.
func (c *constTable) evalText(e Expr) (string, bool) {
	v, ok := c.evalConst(e)
	if !ok {
		return "", false
	}
	return strconv.FormatInt(v, 10), true
}

// discoverConstants builds the tables from the top-level lets of entry.
//
// Literal pass: the first integer literal bound to a name wins; string
// literals overwrite, so the last one wins. Propagation pass: any let whose
// name is still unknown and whose initializer now folds is added; passes
// repeat until one adds nothing. Nested bodies are not consulted.
func discoverConstants(entry []Stmt) *constTable {
	c := &constTable{ints: map[string]int64{}, strs: map[string]string{}}

	var lets []*LetStmt
	for _, s := range entry {
		if l, ok := s.(*LetStmt); ok {
			lets = append(lets, l)
		}
	}

	for _, l := range lets {
		switch v := l.Value.(type) {
		case *IntLit:
			if _, seen := c.ints[l.Name]; !seen {
				c.ints[l.Name] = v.Value
			}
		case *StrLit:
			c.strs[l.Name] = v.Value
		}
	}

	for changed := true; changed; {
		changed = false
		for _, l := range lets {
			if _, known := c.ints[l.Name]; known {
				continue
			}
			if v, ok := c.evalConst(l.Value); ok {
				c.ints[l.Name] = v
				changed = true
			}
		}
	}
	return c
}
