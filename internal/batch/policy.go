package batch

// Decide picks the bytes to persist for one file. winner is true when the
// candidate is written.
//
// The candidate wins when output is forced, when the original is not already
// in the strategy's format, or when it is strictly smaller. Equal sizes keep
// the original.
func Decide(original, candidate []byte, originalRecognized, outputIfLarger bool) (data []byte, winner bool) {
	if outputIfLarger || !originalRecognized || len(candidate) < len(original) {
		return candidate, true
	}
	return original, false
}
