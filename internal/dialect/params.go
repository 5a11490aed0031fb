package dialect

// Params collects bind values for one statement in placeholder order.
type Params struct {
	d      Dialect
	values []any
}

func NewParams(d Dialect) *Params { return &Params{d: d} }

// Add stores v and returns its placeholder.
func (p *Params) Add(v any) string {
	p.values = append(p.values, v)
	return p.d.Placeholder(len(p.values) - 1)
}

func (p *Params) Values() []any { return p.values }

// Args returns the values in the form the driver expects.
func (p *Params) Args() []any { return p.d.Args(p.values) }

func (p *Params) Len() int { return len(p.values) }
