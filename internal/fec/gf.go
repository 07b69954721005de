package fec

// Field parameters for GF(2^5)
const (
	// SymbolBits is the width of one field element
	SymbolBits = 5

	// FieldSize is the number of field elements
	FieldSize = 1 << SymbolBits

	// fieldOrder is the order of the multiplicative group
	fieldOrder = FieldSize - 1

	// primitivePoly is x^5 + x^2 + 1
	primitivePoly = 0x25
)

var (
	gfExp [2 * fieldOrder]byte
	gfLog [FieldSize]int
)

func init() {
	x := 1
	for i := 0; i < fieldOrder; i++ {
		gfExp[i] = byte(x)
		gfLog[x] = i
		x <<= 1
		if x&FieldSize != 0 {
			x ^= primitivePoly
		}
	}
	for i := fieldOrder; i < len(gfExp); i++ {
		gfExp[i] = gfExp[i-fieldOrder]
	}
}

func gfMul(a, b byte) byte {
	if a == 0 || b == 0 {
		return 0
	}
	return gfExp[gfLog[a]+gfLog[b]]
}

func gfDiv(a, b byte) byte {
	if b == 0 {
		panic("fec: division by zero in GF(2^5)")
	}
	if a == 0 {
		return 0
	}
	return gfExp[(gfLog[a]+fieldOrder-gfLog[b])%fieldOrder]
}

// gfPow returns α^n for any integer n.
func gfPow(n int) byte {
	n %= fieldOrder
	if n < 0 {
		n += fieldOrder
	}
	return gfExp[n]
}

func gfInverse(a byte) byte {
	return gfExp[fieldOrder-gfLog[a]]
}

// polyEval evaluates p (highest degree first) at x with Horner's rule.
func polyEval(p []byte, x byte) byte {
	var y byte
	for _, c := range p {
		y = gfMul(y, x) ^ c
	}
	return y
}

// polyMul multiplies two polynomials stored highest degree first.
func polyMul(p, q []byte) []byte {
	out := make([]byte, len(p)+len(q)-1)
	for j, qc := range q {
		for i, pc := range p {
			out[i+j] ^= gfMul(pc, qc)
		}
	}
	return out
}
