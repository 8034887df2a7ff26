package naming

// PCRHz is the program clock reference frequency.
const PCRHz = 27_000_000

// PCRToNanos converts a 27 MHz clock reference to nanoseconds.
// Negative values are clamped to 0.
func PCRToNanos(pcr int64) int64 {
	if pcr < 0 {
		return 0
	}
	// pcr*1000/27 overflows int64 above ~9.2e15 ticks (~10.8 years of clock);
	// split to keep precision for the full range.
	return (pcr/27)*1000 + (pcr%27)*1000/27
}
