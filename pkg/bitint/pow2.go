// SPDX-License-Identifier: MIT
/*
Package bitint provides the power-of-2 helpers used to size correlation
workspaces. Zero-padded FFT correlation of two n-sample frames needs a
transform of at least 2n-1 points, rounded up to a power of 2.

Design Principles:
- Zero Allocations: All operations use stack memory only
- Predictable Performance: O(1) constant time operations
- Real-Time Safe: No locks, syscalls, or blocking operations

Usage:

	// Transform size for a 2048-sample frame pair
	size := bitint.CorrelationSize(2048) // Returns 4096

	// Verify a configured frame size
	isValid := bitint.IsPowerOfTwo(frameSize)

----------------------------------------------------------------------

What NextPowerOfTwo does:

	The subtraction (size-1) is critical, without the subtraction,
	powers of 2 would be incorrectly doubled.

	- For input 8 (already a power of 2):
	  size-1 = 7 (binary 0111)
	  bits.Len(7) = 3 (highest bit position is 2^2)
	  1 << 3 = 8 (correctly preserves original power of 2)
*/
package bitint

import "math/bits"

// NextPowerOfTwo returns the next power of 2 >= size.
//
// Examples:
//
//	Input  Output  Explanation
//	4      4      Already power of 2 (preserved)
//	5      8      Next power after 5
//	0      1      Handle zero case
//	-1     1      Handle negative case
func NextPowerOfTwo(size int) int {
	if size <= 0 {
		return 1
	}
	return 1 << bits.Len(uint(size-1))
}

// IsPowerOfTwo checks if n is a power of 2 using bit manipulation.
// The expression (n & (n-1)) == 0 works because powers of 2 have
// exactly one bit set.
//
//	Input  Output  Binary
//	8      true    1000 & 0111 = 0000
//	7      false   0111 & 0110 = 0110
//	0      false   Not positive
func IsPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}

// CorrelationSize returns the FFT length needed for a linear (non-circular)
// cross-correlation of two frames of n samples: the next power of 2 that
// holds all 2n-1 lags.
//
//	Input  Output
//	1      1
//	100    256
//	2048   4096
func CorrelationSize(n int) int {
	if n <= 0 {
		return 1
	}
	return NextPowerOfTwo(2*n - 1)
}
