// Package exprs implements the two capabilities the planner and task model
// need from the embedded Vega expression language, per the specification:
// free-variable analysis (input_vars) and a precedence-aware pretty-printer
// (format). The expression language's actual numeric evaluation is an
// external collaborator and is not implemented here - this package only
// needs enough of an AST to walk it and print it back out.
//
// The binding-power table mirrors the approach used for JS operator
// precedence in the upstream expression AST: every node kind knows its own
// (left, right) binding power, and the printer parenthesizes a child only
// when the child's relevant side is weaker than what the parent requires.
package exprs

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/MarcoGorelli/vegafusion/internal/variable"
)

// Node is a single node of the expression AST. Every concrete node type in
// this package implements it.
type Node interface {
	// BindingPower returns (left, right) binding powers used to decide
	// whether a node needs parenthesization as a child of another node.
	// Left-to-right operators use a larger right power than left (so a
	// chain a-b-c parses/prints without redundant parens); right-to-left
	// operators (like assignment, not supported here) would be the reverse.
	BindingPower() (float64, float64)
	// Format appends this node's source-text rendering to b.
	Format(b *strings.Builder)
}

// Identifier references a bare name - a signal, or (inside a member
// expression base) the lead segment of a dataset:field reference.
type Identifier struct {
	Name string
}

func (Identifier) BindingPower() (float64, float64) { return maxBP, maxBP }
func (n Identifier) Format(b *strings.Builder)       { b.WriteString(n.Name) }

// Literal is a constant number, string, boolean, or null.
type Literal struct {
	// Kind is one of "number", "string", "boolean", "null".
	Kind  string
	Value any
}

func (Literal) BindingPower() (float64, float64) { return maxBP, maxBP }
func (n Literal) Format(b *strings.Builder) {
	switch n.Kind {
	case "string":
		b.WriteString(strconv.Quote(fmt.Sprint(n.Value)))
	case "null":
		b.WriteString("null")
	default:
		fmt.Fprint(b, n.Value)
	}
}

// Member is a property access: object.property, or object[property] when
// Computed is true.
type Member struct {
	Object   Node
	Property Node
	Computed bool
}

// memberBindingPower matches the left/right pair documented in the
// specification for member expressions: (20.0, 20.5). The asymmetry
// reflects left-to-right associativity - a chain a.b.c should print
// without parenthesizing either side.
func memberBindingPower() (float64, float64) { return 20.0, 20.5 }

func (Member) BindingPower() (float64, float64) { return memberBindingPower() }

func (n Member) Format(b *strings.Builder) {
	_, objectRightBP := n.Object.BindingPower()
	leftBP, _ := memberBindingPower()
	if objectRightBP < leftBP {
		b.WriteByte('(')
		n.Object.Format(b)
		b.WriteByte(')')
	} else {
		n.Object.Format(b)
	}
	if n.Computed {
		b.WriteByte('[')
		n.Property.Format(b)
		b.WriteByte(']')
	} else {
		b.WriteByte('.')
		n.Property.Format(b)
	}
}

// Call is a function invocation, e.g. scale('x', datum.y) or
// timeFormat(datum['d'], '%Y').
type Call struct {
	Callee string
	Args   []Node
}

func (Call) BindingPower() (float64, float64) { return maxBP, maxBP }
func (n Call) Format(b *strings.Builder) {
	b.WriteString(n.Callee)
	b.WriteByte('(')
	for i, a := range n.Args {
		if i > 0 {
			b.WriteString(", ")
		}
		a.Format(b)
	}
	b.WriteByte(')')
}

// Unary is a prefix operator: -x, !x, +x, ~x, typeof x.
type Unary struct {
	Op  string
	Arg Node
}

func unaryBindingPower() (float64, float64) { return 0, 15 }

func (Unary) BindingPower() (float64, float64) { return unaryBindingPower() }
func (n Unary) Format(b *strings.Builder) {
	b.WriteString(n.Op)
	if len(n.Op) > 1 {
		b.WriteByte(' ')
	}
	_, rightBP := unaryBindingPower()
	argLeftBP, _ := n.Arg.BindingPower()
	if argLeftBP < rightBP {
		b.WriteByte('(')
		n.Arg.Format(b)
		b.WriteByte(')')
	} else {
		n.Arg.Format(b)
	}
}

// binaryBindingPowers assigns a left-to-right binding-power band to each
// supported operator, in increasing precedence. Values are spaced apart so
// that new operators can be inserted between existing bands if needed.
var binaryBindingPowers = map[string]float64{
	"??": 1, "||": 2, "&&": 3,
	"|": 4, "^": 5, "&": 6,
	"==": 7, "!=": 7, "===": 7, "!==": 7,
	"<": 8, "<=": 8, ">": 8, ">=": 8,
	"<<": 9, ">>": 9, ">>>": 9,
	"+": 10, "-": 10,
	"*": 11, "/": 11, "%": 11,
}

// Binary is a two-operand operator expression.
type Binary struct {
	Op    string
	Left  Node
	Right Node
}

func (n Binary) BindingPower() (float64, float64) {
	p := binaryBindingPowers[n.Op]
	// Left-to-right: right side binds slightly tighter than left, so that
	// a chain of the same operator doesn't get spuriously parenthesized on
	// its right-hand operand.
	return p, p + 0.5
}

func (n Binary) Format(b *strings.Builder) {
	selfLeftBP, selfRightBP := n.BindingPower()
	// A left operand faces this operator with its right binding power, a
	// right operand with its left one.
	formatSide := func(side Node, required float64, isLeft bool) {
		leftBP, rightBP := side.BindingPower()
		bp := leftBP
		if isLeft {
			bp = rightBP
		}
		if bp < required {
			b.WriteByte('(')
			side.Format(b)
			b.WriteByte(')')
		} else {
			side.Format(b)
		}
	}
	formatSide(n.Left, selfLeftBP, true)
	fmt.Fprintf(b, " %s ", n.Op)
	formatSide(n.Right, selfRightBP, false)
}

// Conditional is the ternary operator: test ? consequent : alternate.
type Conditional struct {
	Test, Consequent, Alternate Node
}

func conditionalBindingPower() (float64, float64) { return 0.5, 0.4 }

func (Conditional) BindingPower() (float64, float64) { return conditionalBindingPower() }
func (n Conditional) Format(b *strings.Builder) {
	n.Test.Format(b)
	b.WriteString(" ? ")
	n.Consequent.Format(b)
	b.WriteString(" : ")
	n.Alternate.Format(b)
}

// Array is an array literal.
type Array struct {
	Elements []Node
}

func (Array) BindingPower() (float64, float64) { return maxBP, maxBP }
func (n Array) Format(b *strings.Builder) {
	b.WriteByte('[')
	for i, e := range n.Elements {
		if i > 0 {
			b.WriteString(", ")
		}
		e.Format(b)
	}
	b.WriteByte(']')
}

// ObjectProperty is a single key/value pair of an Object literal.
type ObjectProperty struct {
	Key   string
	Value Node
}

// Object is an object-literal expression.
type Object struct {
	Properties []ObjectProperty
}

func (Object) BindingPower() (float64, float64) { return maxBP, maxBP }
func (n Object) Format(b *strings.Builder) {
	b.WriteByte('{')
	for i, p := range n.Properties {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(b, "%s: ", strconv.Quote(p.Key))
		p.Value.Format(b)
	}
	b.WriteByte('}')
}

// maxBP is used by leaf/self-delimiting nodes (identifiers, literals, calls,
// arrays, objects) that never need parenthesization regardless of context.
const maxBP = 1000

// Format renders expr as source text using the standard operator
// precedence table, parenthesizing only where necessary.
func Format(expr Node) string {
	var b strings.Builder
	expr.Format(&b)
	return b.String()
}

// InputVar is a single free-variable reference discovered by InputVars: the
// variable referenced, and whether a change to it should propagate to
// (force re-evaluation of) the dependent task, versus only being available
// without forcing recomputation.
type InputVar struct {
	Var       variable.Variable
	Propagate bool
}

// datumIdentifier is the implicit loop variable inside encode/transform
// expressions; a reference to it is not a free variable of the
// surrounding signal/expression.
const datumIdentifier = "datum"

// eventIdentifier is the implicit event object available in signal
// "on" handlers; like datum, it is bound by context rather than being a
// free signal reference.
const eventIdentifier = "event"

var boundIdentifiers = map[string]bool{
	datumIdentifier: true,
	eventIdentifier: true,
}

// InputVars performs a static walk over expr and returns every signal (or
// dataset-derived-signal) it references, in first-occurrence order with
// duplicates removed. A bare identifier "foo" becomes a Signal InputVar
// unless it is one of the names bound by evaluation context (datum, event).
// A non-computed member expression whose object is a bare identifier "foo"
// and whose property is a bare identifier "bar" is recognized as the
// compound "foo:bar" addressing syntax used to reference a dataset's
// data-derived output signal (see variable.Scoped / TaskScope.Resolve), and
// is returned as a single Signal InputVar named "foo:bar" - it is up to the
// caller's scope resolution step to redirect it to dataset "foo" and its
// specific output.
func InputVars(expr Node) []InputVar {
	var order []InputVar
	seen := map[variable.Variable]bool{}
	add := func(v variable.Variable) {
		if seen[v] {
			return
		}
		seen[v] = true
		order = append(order, InputVar{Var: v, Propagate: true})
	}

	var walk func(n Node)
	walk = func(n Node) {
		switch t := n.(type) {
		case Identifier:
			if !boundIdentifiers[t.Name] {
				add(variable.MustNew(variable.Signal, t.Name))
			}
		case Literal:
			// no references
		case Member:
			if obj, ok := t.Object.(Identifier); ok && !t.Computed {
				if prop, ok := t.Property.(Identifier); ok && !boundIdentifiers[obj.Name] {
					// dataset:field compound reference; the combined name
					// deliberately bypasses variable.New's colon
					// restriction because it is a usage-site reference,
					// not a declaration.
					add(variable.Variable{Namespace: variable.Signal, Name: obj.Name + ":" + prop.Name})
					return
				}
			}
			walk(t.Object)
			if t.Computed {
				walk(t.Property)
			}
		case Call:
			for _, a := range t.Args {
				walk(a)
			}
		case Unary:
			walk(t.Arg)
		case Binary:
			walk(t.Left)
			walk(t.Right)
		case Conditional:
			walk(t.Test)
			walk(t.Consequent)
			walk(t.Alternate)
		case Array:
			for _, e := range t.Elements {
				walk(e)
			}
		case Object:
			for _, p := range t.Properties {
				walk(p.Value)
			}
		}
	}
	walk(expr)
	return order
}
