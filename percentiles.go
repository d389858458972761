package cardiffd

import "fmt"

// Percentile is a percentile of a timer series, named after the
// threshold it was computed for, e.g. "p90".
type Percentile struct {
	Float float64
	Str   string
}

// Percentiles is a list of percentiles.
type Percentiles []Percentile

// Set appends a named percentile value.
func (p *Percentiles) Set(s string, f float64) {
	*p = append(*p, Percentile{Float: f, Str: s})
}

func (p Percentile) String() string {
	return fmt.Sprintf("%s:%f", p.Str, p.Float)
}

// Copy returns a deep copy of the percentiles.
func (p Percentiles) Copy() Percentiles {
	if p == nil {
		return nil
	}
	pctCopy := make(Percentiles, len(p))
	copy(pctCopy, p)
	return pctCopy
}
