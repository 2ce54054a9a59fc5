package output

import "github.com/daryltucker/infer-bench/internal/model"

// Comparison pairs the results of one model from two suites.
type Comparison struct {
	Model   string
	Base    model.Result
	Other   model.Result
	Speedup float64 // Base.AverageMS / Other.AverageMS
}

// Compare matches successful rows by model name, in base order. A model
// that failed or is missing in either suite is left out. When a file holds
// several rows for one model the last one counts.
func Compare(base, other []model.Result) []Comparison {
	last := func(rs []model.Result) (map[string]model.Result, []string) {
		m := make(map[string]model.Result, len(rs))
		var order []string
		for _, r := range rs {
			if r.Error != "" {
				continue
			}
			if _, ok := m[r.Model]; !ok {
				order = append(order, r.Model)
			}
			m[r.Model] = r
		}
		return m, order
	}
	b, order := last(base)
	o, _ := last(other)

	var out []Comparison
	for _, name := range order {
		or, ok := o[name]
		if !ok {
			continue
		}
		c := Comparison{Model: name, Base: b[name], Other: or}
		if or.AverageMS > 0 {
			c.Speedup = c.Base.AverageMS / or.AverageMS
		}
		out = append(out, c)
	}
	return out
}
