package models

// FilterExpr is a typed metadata filter evaluated by the catalog and vector
// search adapters. The concrete expressions are Eq, Range, In and And.
type FilterExpr interface {
	filterExpr()
}

// Eq matches records whose field equals Value. On array fields it matches
// when the array contains Value.
type Eq struct {
	Field string
	Value interface{}
}

// Range matches records whose numeric field lies within [Gte, Lte]. A nil
// bound is open.
type Range struct {
	Field string
	Gte   *float64
	Lte   *float64
}

// In matches records whose field is one of Values. On array fields it
// matches when the arrays overlap.
type In struct {
	Field  string
	Values []interface{}
}

// And is the conjunction of its operands. An empty And matches everything.
type And []FilterExpr

func (Eq) filterExpr()    {}
func (Range) filterExpr() {}
func (In) filterExpr()    {}
func (And) filterExpr()   {}

// Strings converts a string slice into In values.
func Strings(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// YearRange builds a release year filter. It returns nil when both bounds are absent.
func YearRange(minYear, maxYear *int) FilterExpr {
	if minYear == nil && maxYear == nil {
		return nil
	}

	r := Range{Field: "release_year"}
	if minYear != nil {
		v := float64(*minYear)
		r.Gte = &v
	}
	if maxYear != nil {
		v := float64(*maxYear)
		r.Lte = &v
	}
	return r
}
