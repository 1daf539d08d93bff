package libndt

import "time"

// KbitsPerSecond computes the speed in kbit/s for bytes transferred over
// elapsed, per spec §4.5/§8: bytes*8/1000/elapsed_seconds, with 0 when
// elapsed is non-positive.
func KbitsPerSecond(bytes int64, elapsed time.Duration) float64 {
	seconds := elapsed.Seconds()
	if seconds <= 0 {
		return 0
	}
	return float64(bytes) * 8 / 1000 / seconds
}
