package buildver

import "strings"

// Compare compares two dotted build strings ("1.110.265.1030") with
// numeric-aware ordering, so "1.9.0" sorts below "1.10.0" and
// "1.110.265.1030" below "1.110.311.1020". Non-numeric segments fall back
// to byte comparison. Returns -1, 0 or +1.
//
// Ordering is only used for display ("update available", "game ahead of
// manifest"); update planning never infers reachability from ordering,
// only from the declared patch graph.
func Compare(a, b string) int {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		aDigit := a[i] >= '0' && a[i] <= '9'
		bDigit := b[j] >= '0' && b[j] <= '9'
		if aDigit && bDigit {
			i2 := i
			for i2 < len(a) && a[i2] >= '0' && a[i2] <= '9' {
				i2++
			}
			j2 := j
			for j2 < len(b) && b[j2] >= '0' && b[j2] <= '9' {
				j2++
			}
			if cmp := compareNumericRuns(a[i:i2], b[j:j2]); cmp != 0 {
				return cmp
			}
			i, j = i2, j2
			continue
		}
		if a[i] != b[j] {
			if a[i] < b[j] {
				return -1
			}
			return 1
		}
		i++
		j++
	}
	switch {
	case i == len(a) && j == len(b):
		return 0
	case i == len(a):
		return -1
	default:
		return 1
	}
}

// Newer reports whether candidate sorts strictly after current.
// An empty candidate is never newer; an empty current always loses.
func Newer(candidate, current string) bool {
	if candidate == "" {
		return false
	}
	if current == "" {
		return true
	}
	return Compare(candidate, current) > 0
}

func compareNumericRuns(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if a == "" {
		a = "0"
	}
	if b == "" {
		b = "0"
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}
