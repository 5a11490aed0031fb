// Package odata parses $filter and $orderby expressions and translates
// filter trees to parameterized SQL predicates.
package odata

// Kind is the EDM type of a column or literal.
type Kind int

const (
	KindUnknown Kind = iota
	KindNull
	KindString
	KindBoolean
	KindInt32
	KindInt64
	KindDecimal
	KindDouble
	KindGuid
	KindDate
	KindDateTimeOffset
	KindTimeOfDay
	KindBinary
	KindDuration
	KindGeography
	KindGeometry
)

var kindNames = map[Kind]string{
	KindUnknown:        "Edm.Untyped",
	KindNull:           "null",
	KindString:         "Edm.String",
	KindBoolean:        "Edm.Boolean",
	KindInt32:          "Edm.Int32",
	KindInt64:          "Edm.Int64",
	KindDecimal:        "Edm.Decimal",
	KindDouble:         "Edm.Double",
	KindGuid:           "Edm.Guid",
	KindDate:           "Edm.Date",
	KindDateTimeOffset: "Edm.DateTimeOffset",
	KindTimeOfDay:      "Edm.TimeOfDay",
	KindBinary:         "Edm.Binary",
	KindDuration:       "Edm.Duration",
	KindGeography:      "Edm.Geography",
	KindGeometry:       "Edm.Geometry",
}

func (k Kind) String() string { return kindNames[k] }

func (k Kind) IsNumeric() bool {
	return k == KindInt32 || k == KindInt64 || k == KindDecimal || k == KindDouble
}

func (k Kind) IsTemporal() bool {
	return k == KindDate || k == KindDateTimeOffset || k == KindTimeOfDay
}

type BinaryOp int

const (
	OpEq BinaryOp = iota
	OpNe
	OpGt
	OpGe
	OpLt
	OpLe
	OpAnd
	OpOr
)

var binaryNames = map[BinaryOp]string{
	OpEq: "Equal", OpNe: "NotEqual", OpGt: "GreaterThan", OpGe: "GreaterThanOrEqual",
	OpLt: "LessThan", OpLe: "LessThanOrEqual", OpAnd: "And", OpOr: "Or",
}

func (o BinaryOp) String() string { return binaryNames[o] }

func (o BinaryOp) IsLogical() bool { return o == OpAnd || o == OpOr }

type UnaryOp int

const (
	OpNot UnaryOp = iota
	OpNegate
)

// Node is a filter expression tree node.
type Node interface{ node() }

type BinaryNode struct {
	Op          BinaryOp
	Left, Right Node
}

type UnaryNode struct {
	Op      UnaryOp
	Operand Node
}

// FieldNode references an exposed field name.
type FieldNode struct{ Name string }

// ConstantNode keeps the literal text; it is converted to Kind when visited.
type ConstantNode struct {
	Kind Kind
	Raw  string
}

type FunctionNode struct {
	Name string
	Args []Node
}

func (*BinaryNode) node()   {}
func (*UnaryNode) node()    {}
func (*FieldNode) node()    {}
func (*ConstantNode) node() {}
func (*FunctionNode) node() {}

// OrderByItem is one $orderby term.
type OrderByItem struct {
	Field string
	Desc  bool
}

// FieldNames lists the distinct fields n references, in order of first
// appearance.
func FieldNames(n Node) []string {
	var out []string
	seen := map[string]bool{}
	var walk func(Node)
	walk = func(n Node) {
		switch x := n.(type) {
		case *BinaryNode:
			walk(x.Left)
			walk(x.Right)
		case *UnaryNode:
			walk(x.Operand)
		case *FunctionNode:
			for _, a := range x.Args {
				walk(a)
			}
		case *FieldNode:
			if !seen[x.Name] {
				seen[x.Name] = true
				out = append(out, x.Name)
			}
		}
	}
	walk(n)
	return out
}
