package ldap

import (
	"strings"

	goldap "github.com/go-ldap/ldap/v3"
)

// Clause is a single attribute comparison inside a search filter.
// Values are escaped, so caller input cannot break out of the filter.
type Clause struct {
	expr string
}

// Eq matches entries whose attribute equals value.
func Eq(attr, value string) Clause {
	return Clause{expr: "(" + attr + "=" + goldap.EscapeFilter(value) + ")"}
}

// Ge matches entries whose attribute is greater than or equal to value.
func Ge(attr, value string) Clause {
	return Clause{expr: "(" + attr + ">=" + goldap.EscapeFilter(value) + ")"}
}

// Prefix matches entries whose attribute starts with value.
func Prefix(attr, value string) Clause {
	return Clause{expr: "(" + attr + "=" + goldap.EscapeFilter(value) + "*)"}
}

// And combines clauses so all must match.
func And(clauses ...Clause) Clause {
	return combine("&", clauses)
}

// Or combines clauses so any may match.
func Or(clauses ...Clause) Clause {
	return combine("|", clauses)
}

func combine(op string, clauses []Clause) Clause {
	if len(clauses) == 1 {
		return clauses[0]
	}
	var b strings.Builder
	b.WriteString("(")
	b.WriteString(op)
	for _, c := range clauses {
		b.WriteString(c.expr)
	}
	b.WriteString(")")
	return Clause{expr: b.String()}
}

// String renders the clause as an LDAP filter expression.
func (c Clause) String() string {
	return c.expr
}

// classFilter scopes a clause to one object class.
func classFilter(class string, clause Clause) string {
	return And(Eq(AttrObjectClass, class), clause).String()
}
