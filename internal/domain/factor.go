package domain

// FactorVector maps factor name to value for one (instrument, day) pair.
// A missing key means the factor could not be computed from the
// available history; downstream consumers treat the instrument as
// excluded from that day's cross-section.
type FactorVector map[string]float64

func (v FactorVector) Clone() FactorVector {
	out := make(FactorVector, len(v))
	for name, value := range v {
		out[name] = value
	}
	return out
}

// Complete reports whether every named factor is present.
func (v FactorVector) Complete(names []string) bool {
	for _, name := range names {
		if _, ok := v[name]; !ok {
			return false
		}
	}
	return true
}
