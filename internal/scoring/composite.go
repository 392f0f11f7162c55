package scoring

import "github.com/textchamp/textchamp/internal/model"

// Composite sums the section scores of a full practice. Sections that are
// missing contribute 0.
func Composite(scores map[model.SectionID]float64) model.Composite {
	out := model.Composite{PerSection: make(map[model.SectionID]float64, len(model.Sections))}
	for _, s := range model.Sections {
		v, ok := scores[s]
		if !ok {
			continue
		}
		v = Clamp(v)
		out.PerSection[s] = v
		out.Total += v
	}
	return out
}

// PreferForDisplay picks which of two attempts for the same slot is shown.
// A completed attempt always wins over one in progress; otherwise the most
// recently saved wins. Either argument may be nil.
func PreferForDisplay(a, b *model.PracticeAttempt) *model.PracticeAttempt {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	if a.Completed() != b.Completed() {
		if a.Completed() {
			return a
		}
		return b
	}
	if b.LastSaved.After(a.LastSaved) {
		return b
	}
	return a
}

// SelectForDisplay reduces a set of attempts for one slot with PreferForDisplay.
func SelectForDisplay(attempts []model.PracticeAttempt) *model.PracticeAttempt {
	var best *model.PracticeAttempt
	for i := range attempts {
		best = PreferForDisplay(best, &attempts[i])
	}
	return best
}
