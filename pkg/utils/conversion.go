package utils

import "strconv"

// StringToUint64 parses an ID from a URL parameter. Anything that is not a
// positive integer yields 0.
func StringToUint64(str string) uint64 {
	val, err := strconv.ParseUint(str, 10, 64)
	if err != nil {
		return 0
	}
	return val
}
