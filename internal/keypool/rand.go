package keypool

import (
	"crypto/rand"
	"math/big"
	"time"
)

// randIntn returns a non-negative integer in [0, n). If n <= 0 it returns 0.
// It uses crypto/rand to produce a secure random value and falls back to a
// time-based source if crypto randomness fails.
func randIntn(n int) int {
	if n <= 0 {
		return 0
	}
	maxVal := big.NewInt(int64(n))
	if v, err := rand.Int(rand.Reader, maxVal); err == nil {
		return int(v.Int64())
	}
	return int(time.Now().UnixNano() % int64(n))
}

// randFloat01 returns a uniform float in [0, 1).
func randFloat01() float64 {
	return float64(randIntn(1<<24)) / (1 << 24)
}

// sampleCredentials picks up to n random candidates without replacement,
// leaving the input slice untouched.
func sampleCredentials(candidates []string, n int) []string {
	out := make([]string, len(candidates))
	copy(out, candidates)
	if n > len(out) {
		n = len(out)
	}
	for i := 0; i < n; i++ {
		j := i + randIntn(len(out)-i)
		out[i], out[j] = out[j], out[i]
	}
	return out[:n]
}
