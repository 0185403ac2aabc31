package storage

import (
	"fmt"
	"strings"
)

// ConditionKind selects the existence and column checks a conditional write performs.
type ConditionKind int

const (
	KindPutIfNotExists ConditionKind = iota + 1
	KindPutIfExists
	KindPutIf
	KindDeleteIfExists
	KindDeleteIf
)

// Operator compares a column against an expected value.
type Operator int

const (
	OpEQ Operator = iota + 1
	OpNE
	OpIsNull
	OpIsNotNull
)

// Expr is one column check of a PutIf or DeleteIf condition.
type Expr struct {
	Column string   `json:"column"`
	Op     Operator `json:"op"`
	Value  Value    `json:"value,omitempty"`
}

func Eq(column string, v Value) Expr { return Expr{Column: column, Op: OpEQ, Value: v} }
func Ne(column string, v Value) Expr { return Expr{Column: column, Op: OpNE, Value: v} }
func IsNull(column string) Expr      { return Expr{Column: column, Op: OpIsNull} }
func IsNotNull(column string) Expr   { return Expr{Column: column, Op: OpIsNotNull} }

func (e Expr) matches(existing Columns) bool {
	v, ok := existing[e.Column]
	switch e.Op {
	case OpEQ:
		return ok && !v.Null && v.Equal(e.Value)
	case OpNE:
		return !ok || v.Null || !v.Equal(e.Value)
	case OpIsNull:
		return !ok || v.Null
	case OpIsNotNull:
		return ok && !v.Null
	}
	return false
}

func (e Expr) String() string {
	switch e.Op {
	case OpEQ:
		return e.Column + "=" + e.Value.String()
	case OpNE:
		return e.Column + "!=" + e.Value.String()
	case OpIsNull:
		return e.Column + " IS NULL"
	case OpIsNotNull:
		return e.Column + " IS NOT NULL"
	}
	return e.Column + " ?"
}

// Condition guards a Put or Delete. A nil *Condition means the write is unconditional.
type Condition struct {
	Kind  ConditionKind `json:"kind"`
	Exprs []Expr        `json:"exprs,omitempty"`
}

func PutIfNotExists() *Condition        { return &Condition{Kind: KindPutIfNotExists} }
func PutIfExists() *Condition           { return &Condition{Kind: KindPutIfExists} }
func PutIf(exprs ...Expr) *Condition    { return &Condition{Kind: KindPutIf, Exprs: exprs} }
func DeleteIfExists() *Condition        { return &Condition{Kind: KindDeleteIfExists} }
func DeleteIf(exprs ...Expr) *Condition { return &Condition{Kind: KindDeleteIf, Exprs: exprs} }

// Check reports whether the condition holds for the stored row. existing is nil when the
// record does not exist.
func (c *Condition) Check(existing Columns) bool {
	if c == nil {
		return true
	}
	switch c.Kind {
	case KindPutIfNotExists:
		return existing == nil
	case KindPutIfExists, KindDeleteIfExists:
		return existing != nil
	case KindPutIf, KindDeleteIf:
		if existing == nil {
			return false
		}
		for _, e := range c.Exprs {
			if !e.matches(existing) {
				return false
			}
		}
		return true
	}
	return false
}

func (c *Condition) forPut() bool {
	return c == nil || c.Kind == KindPutIfNotExists || c.Kind == KindPutIfExists || c.Kind == KindPutIf
}

func (c *Condition) forDelete() bool {
	return c == nil || c.Kind == KindDeleteIfExists || c.Kind == KindDeleteIf
}

func (c *Condition) String() string {
	if c == nil {
		return "unconditional"
	}
	var name string
	switch c.Kind {
	case KindPutIfNotExists:
		return "PutIfNotExists"
	case KindPutIfExists:
		return "PutIfExists"
	case KindDeleteIfExists:
		return "DeleteIfExists"
	case KindPutIf:
		name = "PutIf"
	case KindDeleteIf:
		name = "DeleteIf"
	default:
		return fmt.Sprintf("Condition(%d)", int(c.Kind))
	}
	exprs := make([]string, len(c.Exprs))
	for i, e := range c.Exprs {
		exprs[i] = e.String()
	}
	return name + "(" + strings.Join(exprs, " AND ") + ")"
}
