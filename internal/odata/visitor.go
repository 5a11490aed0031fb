package odata

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"datagate/internal/apierr"
	"datagate/internal/config"
	"datagate/internal/dialect"
)

// Column is a filterable field: its backing column and EDM kind.
type Column struct {
	Backing string
	Kind    Kind
}

// ArgumentError signals a malformed operand: an unsupported unary operator,
// a literal that does not parse as its declared type, bad function arguments.
type ArgumentError struct{ Msg string }

func (e *ArgumentError) Error() string { return e.Msg }

func argErr(format string, args ...any) error {
	return &ArgumentError{Msg: fmt.Sprintf(format, args...)}
}

// Translator walks a filter tree and emits a SQL predicate. Constants become
// bind parameters in Params.
type Translator struct {
	Dialect dialect.Dialect
	Params  *dialect.Params
	// Columns maps exposed field names to columns. Nil disables field
	// checks and type checks.
	Columns map[string]Column
	// TableAlias qualifies column references when set.
	TableAlias string
	// EntityName is used in error messages.
	EntityName string
	// PolicyMode enables claim literal coercion for database policies.
	PolicyMode bool
}

var sqlOps = map[BinaryOp]string{
	OpEq: "=", OpNe: "!=", OpGt: ">", OpGe: ">=", OpLt: "<", OpLe: "<=", OpAnd: "AND", OpOr: "OR",
}

// Translate visits n and turns argument errors into 400 responses.
func (t *Translator) Translate(n Node) (string, error) {
	out, err := t.Visit(n)
	var ae *ArgumentError
	if errors.As(err, &ae) {
		return "", apierr.Wrap(err, apierr.BadRequest, "%s", ae.Msg)
	}
	return out, err
}

// Visit returns the SQL fragment for n.
func (t *Translator) Visit(n Node) (string, error) {
	switch n := n.(type) {
	case *BinaryNode:
		return t.visitBinary(n)
	case *UnaryNode:
		return t.visitUnary(n)
	case *FieldNode:
		return t.visitField(n)
	case *ConstantNode:
		return t.visitConstant(n, KindUnknown)
	case *FunctionNode:
		return t.visitFunction(n)
	}
	return "", argErr("unsupported filter node %T", n)
}

func isNull(n Node) bool {
	c, ok := n.(*ConstantNode)
	return ok && c.Kind == KindNull
}

func isBooleanExpr(n Node) bool {
	switch n := n.(type) {
	case *BinaryNode:
		return true
	case *UnaryNode:
		return n.Op == OpNot
	case *FunctionNode:
		return functionKind(n.Name) == KindBoolean
	}
	return false
}

func (t *Translator) visitBinary(n *BinaryNode) (string, error) {
	if n.Op.IsLogical() {
		if isNull(n.Left) || isNull(n.Right) {
			return "", apierr.New(apierr.NotSupported,
				"The logical operator %s is not supported with a null operand.", n.Op)
		}
		l, err := t.Visit(n.Left)
		if err != nil {
			return "", err
		}
		r, err := t.Visit(n.Right)
		if err != nil {
			return "", err
		}
		return "(" + l + " " + sqlOps[n.Op] + " " + r + ")", nil
	}

	_, leftField := n.Left.(*FieldNode)
	_, rightField := n.Right.(*FieldNode)
	if (leftField && isBooleanExpr(n.Right)) || (rightField && isBooleanExpr(n.Left)) {
		return "", apierr.New(apierr.BadRequest,
			"A field cannot be compared with the result of a boolean expression.")
	}

	// null comparisons
	if isNull(n.Right) || isNull(n.Left) {
		subject, subjectLeft := n.Left, true
		if isNull(n.Left) {
			subject, subjectLeft = n.Right, false
		}
		s := "NULL"
		if !isNull(subject) {
			var err error
			if s, err = t.Visit(subject); err != nil {
				return "", err
			}
		}
		switch n.Op {
		case OpEq:
			return "(" + s + " IS NULL)", nil
		case OpNe:
			return "(" + s + " IS NOT NULL)", nil
		}
		if subjectLeft {
			return "(" + s + " " + sqlOps[n.Op] + " NULL)", nil
		}
		return "(NULL " + sqlOps[n.Op] + " " + s + ")", nil
	}

	l, r, err := t.visitOperands(n)
	if err != nil {
		return "", err
	}
	return "(" + l + " " + sqlOps[n.Op] + " " + r + ")", nil
}

// visitOperands renders both sides of a comparison, checking a constant
// against the kind of the field it is compared with.
func (t *Translator) visitOperands(n *BinaryNode) (string, string, error) {
	lk, rk := t.kindOf(n.Left), t.kindOf(n.Right)
	if lk != KindUnknown && rk != KindUnknown && !compatible(lk, rk) {
		lc, lConst := n.Left.(*ConstantNode)
		rc, rConst := n.Right.(*ConstantNode)
		if !t.PolicyMode || lConst == rConst {
			return "", "", incompatible(lk, rk, n.Op)
		}
		if lConst {
			l, err := t.coerce(lc, rk, lk, rk, n.Op)
			if err != nil {
				return "", "", err
			}
			r, err := t.Visit(n.Right)
			return l, r, err
		}
		r, err := t.coerce(rc, lk, lk, rk, n.Op)
		if err != nil {
			return "", "", err
		}
		l, err := t.Visit(n.Left)
		return l, r, err
	}
	l, err := t.visitTyped(n.Left, rk)
	if err != nil {
		return "", "", err
	}
	r, err := t.visitTyped(n.Right, lk)
	return l, r, err
}

func (t *Translator) visitTyped(n Node, target Kind) (string, error) {
	if c, ok := n.(*ConstantNode); ok {
		return t.visitConstant(c, target)
	}
	return t.Visit(n)
}

func incompatible(lk, rk Kind, op BinaryOp) error {
	return apierr.New(apierr.BadRequest,
		"A binary operator with incompatible types was detected. Found operand types '%s' and '%s' for operator kind '%s'.",
		lk, rk, op)
}

func compatible(a, b Kind) bool {
	switch {
	case a == b:
		return true
	case a.IsNumeric() && b.IsNumeric():
		return true
	case (a == KindDate || a == KindDateTimeOffset) && (b == KindDate || b == KindDateTimeOffset):
		return true
	}
	return false
}

// coerce converts a claim literal to the kind of the field it is compared
// with. Only the conversions a claim value can meaningfully take are tried.
func (t *Translator) coerce(c *ConstantNode, target, lk, rk Kind, op BinaryOp) (string, error) {
	fail := func() (string, error) { return "", incompatible(lk, rk, op) }
	var v any
	switch {
	case c.Kind == KindString && (target == KindInt32 || target == KindInt64):
		i, err := strconv.ParseInt(strings.TrimSpace(c.Raw), 10, 64)
		if err != nil {
			return fail()
		}
		v = i
	case c.Kind == KindString && (target == KindDecimal || target == KindDouble):
		f, err := strconv.ParseFloat(strings.TrimSpace(c.Raw), 64)
		if err != nil {
			return fail()
		}
		v = f
	case c.Kind == KindString && target == KindGuid:
		g, err := uuid.Parse(strings.TrimSpace(c.Raw))
		if err != nil {
			return fail()
		}
		v = g.String()
	case c.Kind == KindString && target == KindBoolean:
		b, err := parseBool(c.Raw)
		if err != nil {
			return fail()
		}
		v = b
	case (c.Kind.IsNumeric() || c.Kind == KindBoolean) && target == KindString:
		v = c.Raw
	default:
		return fail()
	}
	return t.Params.Add(v), nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, fmt.Errorf("%q is not a boolean", s)
}

func (t *Translator) visitUnary(n *UnaryNode) (string, error) {
	if n.Op != OpNot {
		return "", argErr("The unary operator Negate is not supported in a filter.")
	}
	s, err := t.Visit(n.Operand)
	if err != nil {
		return "", err
	}
	return "(NOT " + s + ")", nil
}

func (t *Translator) column(name string) (string, error) {
	backing := name
	if t.Columns != nil {
		col, ok := t.Columns[name]
		if !ok {
			return "", apierr.New(apierr.BadRequest,
				"Could not find a property named '%s' on type '%s'.", name, t.EntityName)
		}
		backing = col.Backing
	}
	return t.Dialect.Column(t.TableAlias, backing), nil
}

func (t *Translator) visitField(n *FieldNode) (string, error) {
	return t.column(n.Name)
}

func (t *Translator) kindOf(n Node) Kind {
	switch n := n.(type) {
	case *FieldNode:
		if c, ok := t.Columns[n.Name]; ok {
			return c.Kind
		}
	case *ConstantNode:
		return n.Kind
	case *FunctionNode:
		return functionKind(n.Name)
	case *BinaryNode:
		return KindBoolean
	case *UnaryNode:
		if n.Op == OpNot {
			return KindBoolean
		}
		return t.kindOf(n.Operand)
	}
	return KindUnknown
}

func (t *Translator) visitConstant(c *ConstantNode, target Kind) (string, error) {
	if c.Kind == KindNull {
		return "NULL", nil
	}
	v, err := ConstantValue(c)
	if err != nil {
		return "", err
	}
	// Integer literals widen when compared with a decimal column.
	if target == KindDecimal || target == KindDouble {
		if i, ok := v.(int64); ok {
			v = float64(i)
		}
	}
	return t.Params.Add(v), nil
}

// ConstantValue converts a literal to the Go value bound as a parameter.
func ConstantValue(c *ConstantNode) (any, error) {
	raw := c.Raw
	switch c.Kind {
	case KindNull:
		return nil, nil
	case KindString:
		return raw, nil
	case KindBoolean:
		b, err := parseBool(raw)
		if err != nil {
			return nil, argErr("'%s' is not a valid Edm.Boolean literal.", raw)
		}
		return b, nil
	case KindInt32, KindInt64:
		i, err := strconv.ParseInt(strings.TrimRight(raw, "lL"), 10, 64)
		if err != nil {
			return nil, argErr("'%s' is not a valid %s literal.", raw, c.Kind)
		}
		return i, nil
	case KindDecimal, KindDouble:
		f, err := strconv.ParseFloat(strings.TrimRight(raw, "mMdDfF"), 64)
		if err != nil {
			return nil, argErr("'%s' is not a valid %s literal.", raw, c.Kind)
		}
		return f, nil
	case KindGuid:
		g, err := uuid.Parse(raw)
		if err != nil {
			return nil, argErr("'%s' is not a valid Edm.Guid literal.", raw)
		}
		return g.String(), nil
	case KindDate:
		d, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return nil, argErr("'%s' is not a valid Edm.Date literal.", raw)
		}
		return d, nil
	case KindDateTimeOffset:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02T15:04"} {
			if ts, err := time.Parse(layout, raw); err == nil {
				return ts, nil
			}
		}
		return nil, argErr("'%s' is not a valid Edm.DateTimeOffset literal.", raw)
	case KindTimeOfDay:
		for _, layout := range []string{"15:04:05.999999999", "15:04"} {
			if _, err := time.Parse(layout, raw); err == nil {
				return raw, nil
			}
		}
		return nil, argErr("'%s' is not a valid Edm.TimeOfDay literal.", raw)
	case KindBinary:
		b, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, argErr("'%s' is not a valid Edm.Binary literal.", raw)
		}
		return b, nil
	}
	return nil, apierr.New(apierr.NotSupported, "Literals of type %s are not supported.", c.Kind)
}

func functionKind(name string) Kind {
	switch name {
	case "contains", "startswith", "endswith":
		return KindBoolean
	case "tolower", "toupper", "trim":
		return KindString
	case "length":
		return KindInt32
	}
	return KindUnknown
}

func (t *Translator) visitFunction(n *FunctionNode) (string, error) {
	switch n.Name {
	case "contains", "startswith", "endswith":
		if len(n.Args) != 2 {
			return "", argErr("The function %s requires two arguments.", n.Name)
		}
		subject, err := t.Visit(n.Args[0])
		if err != nil {
			return "", err
		}
		c, ok := n.Args[1].(*ConstantNode)
		if !ok || c.Kind != KindString {
			return "", argErr("The second argument of %s must be a string literal.", n.Name)
		}
		if t.Dialect.Type == config.CosmosDB {
			fn := map[string]string{"contains": "CONTAINS", "startswith": "STARTSWITH", "endswith": "ENDSWITH"}[n.Name]
			return fn + "(" + subject + ", " + t.Params.Add(c.Raw) + ")", nil
		}
		pattern := t.Dialect.LikeEscape(c.Raw)
		switch n.Name {
		case "contains":
			pattern = "%" + pattern + "%"
		case "startswith":
			pattern += "%"
		default:
			pattern = "%" + pattern
		}
		return "(" + subject + " LIKE " + t.Params.Add(pattern) + t.Dialect.LikeEscapeClause() + ")", nil
	case "tolower", "toupper", "trim", "length":
		if len(n.Args) != 1 {
			return "", argErr("The function %s requires one argument.", n.Name)
		}
		arg, err := t.Visit(n.Args[0])
		if err != nil {
			return "", err
		}
		fn := map[string]string{"tolower": "LOWER", "toupper": "UPPER", "trim": "TRIM", "length": "LENGTH"}[n.Name]
		if n.Name == "length" && t.Dialect.Type == config.MSSQL {
			fn = "LEN"
		}
		return fn + "(" + arg + ")", nil
	}
	return "", apierr.New(apierr.NotSupported, "The function %s is not supported in a filter.", n.Name)
}

// Filter parses and translates a $filter or policy expression.
func (t *Translator) Filter(src string) (string, error) {
	n, err := ParseFilter(src)
	if err != nil {
		return "", err
	}
	return t.Translate(n)
}
