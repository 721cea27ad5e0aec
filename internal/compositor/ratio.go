package compositor

import (
	"math"
	"strconv"
	"strings"
)

var ratioDelimiters = strings.NewReplacer("×", ":", "x", ":", "/", ":")

// ParseRatio turns tokens such as "3:4", "21x30", "21/30" or "21×30 cm" into a
// width/height ratio clamped to [MinRatio, MaxRatio]. Anything it cannot read
// yields 1.
func ParseRatio(in string) float64 {
	token := strings.ToLower(strings.TrimSpace(in))
	token = ratioDelimiters.Replace(token)
	token = strings.ReplaceAll(token, "cm", "")

	var b strings.Builder
	b.Grow(len(token))
	for _, r := range token {
		switch {
		case r >= '0' && r <= '9', r == ':', r == '.', r == '-':
			b.WriteRune(r)
		}
	}

	a, rest, ok := strings.Cut(b.String(), ":")
	if !ok {
		return 1
	}
	num, err := strconv.ParseFloat(a, 64)
	if err != nil {
		return 1
	}
	den, err := strconv.ParseFloat(rest, 64)
	if err != nil {
		return 1
	}
	if num == 0 || den == 0 {
		return 1
	}

	ratio := num / den
	if math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		return 1
	}
	return clampFloat(ratio, MinRatio, MaxRatio)
}
