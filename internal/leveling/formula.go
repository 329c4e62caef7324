package leveling

// RequiredPoints is the minimum point count of level L: (L-1)*L*5.
func RequiredPoints(level int) int64 {
	if level <= 1 {
		return 0
	}
	l := int64(level)
	return (l - 1) * l * 5
}

// Level is the largest L >= 1 with points >= RequiredPoints(L).
func Level(points int64) int {
	level := 1
	for points >= RequiredPoints(level+1) {
		level++
	}
	return level
}
