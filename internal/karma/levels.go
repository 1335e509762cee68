package karma

// Level is a named karma threshold.
type Level struct {
	Threshold int
	Name      string
}

// Levels is ordered by ascending threshold.
var Levels = []Level{
	{0, "New User"},
	{100, "Regular"},
	{500, "Established Member"},
	{1000, "Trusted Contributor"},
	{2500, "Expert"},
	{5000, "Community Leader"},
	{10000, "Legend"},
}

// levelIndex returns the index of the highest level reached. Negative karma
// stays on the first level.
func levelIndex(karma int) int {
	idx := 0
	for i, l := range Levels {
		if karma >= l.Threshold {
			idx = i
		}
	}
	return idx
}

// LevelFor returns the highest level whose threshold karma has reached.
func LevelFor(karma int) Level {
	return Levels[levelIndex(karma)]
}

// Progress is the percentage of the way from the current level to the next,
// clamped to [0, 100]. It is 100 on the last level.
func Progress(karma int) float64 {
	idx := levelIndex(karma)
	if idx == len(Levels)-1 {
		return 100
	}

	cur, next := Levels[idx].Threshold, Levels[idx+1].Threshold
	pct := 100 * float64(karma-cur) / float64(next-cur)
	return min(max(pct, 0), 100)
}
