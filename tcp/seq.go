package tcp

// Value is a 32-bit TCP sequence number. Arithmetic on Value wraps modulo
// 2**32; ordering between two values is only meaningful through
// WrappingLT/IsBetweenWrapped, never through plain Go comparison operators.
type Value uint32

// Size is a byte count in the sequence space (payload length, window size).
type Size uint32

// Add returns v+n, wrapping modulo 2**32.
func Add(v Value, n Size) Value { return v + Value(n) }

// Sub returns the number of sequence positions from b to a going forward,
// i.e. a-b wrapped into [0, 2**32).
func Sub(a, b Value) Size { return Size(a - b) }

// WrappingLT reports whether a precedes b in circular sequence-number order:
// true iff (a-b) mod 2**32 exceeds 2**31, equivalently a lies in the open
// half of the sequence ring that precedes b.
func WrappingLT(a, b Value) bool {
	return Value(a-b) > 1<<31
}

// IsBetweenWrapped reports whether target lies in the strict open interval
// (start, end) in circular sequence order.
func IsBetweenWrapped(start, target, end Value) bool {
	return WrappingLT(start, target) && WrappingLT(target, end)
}
