package fec

import (
	"errors"
	"fmt"
)

var (
	// ErrTooManyErrors is returned when a codeword holds more errors than the code can repair
	ErrTooManyErrors = errors.New("fec: too many symbol errors")
	// ErrInvalidLength is returned for codewords that do not fit the code
	ErrInvalidLength = errors.New("fec: invalid codeword length")
	// ErrInvalidSymbol is returned for values outside GF(2^5)
	ErrInvalidSymbol = errors.New("fec: symbol out of field range")
)

// Codec is a systematic Reed-Solomon code over GF(2^5) with roots
// α^0 .. α^(eccLen-1). It can repair up to eccLen/2 symbol errors.
//
// A Codec holds no mutable state and may be shared.
type Codec struct {
	eccLen    int
	generator []byte
}

// NewCodec creates a codec appending eccLen parity symbols
func NewCodec(eccLen int) (*Codec, error) {
	if eccLen <= 0 || eccLen >= fieldOrder {
		return nil, fmt.Errorf("ecc length must be between 1 and %d, got %d", fieldOrder-1, eccLen)
	}

	gen := []byte{1}
	for i := 0; i < eccLen; i++ {
		gen = polyMul(gen, []byte{1, gfPow(i)})
	}

	return &Codec{
		eccLen:    eccLen,
		generator: gen,
	}, nil
}

// ECCLen returns the number of parity symbols per codeword
func (c *Codec) ECCLen() int {
	return c.eccLen
}

// MaxErrors returns the number of symbol errors Correct can repair
func (c *Codec) MaxErrors() int {
	return c.eccLen / 2
}

// Encode returns data followed by its parity symbols
func (c *Codec) Encode(data []byte) ([]byte, error) {
	if len(data) == 0 || len(data)+c.eccLen > fieldOrder {
		return nil, fmt.Errorf("%w: %d data symbols with %d parity symbols", ErrInvalidLength, len(data), c.eccLen)
	}
	if err := checkSymbols(data); err != nil {
		return nil, err
	}

	out := make([]byte, len(data)+c.eccLen)
	copy(out, data)

	// Polynomial long division by the generator; the remainder is the parity
	for i := 0; i < len(data); i++ {
		coef := out[i]
		if coef == 0 {
			continue
		}
		for j := 1; j < len(c.generator); j++ {
			out[i+j] ^= gfMul(c.generator[j], coef)
		}
	}
	copy(out, data)

	return out, nil
}

// Correct repairs a received codeword and returns the corrected copy.
// The input slice is never modified.
func (c *Codec) Correct(received []byte) ([]byte, error) {
	n := len(received)
	if n <= c.eccLen || n > fieldOrder {
		return nil, fmt.Errorf("%w: %d symbols", ErrInvalidLength, n)
	}
	if err := checkSymbols(received); err != nil {
		return nil, err
	}

	out := make([]byte, n)
	copy(out, received)

	synd := c.syndromes(out)
	if isZero(synd) {
		return out, nil
	}

	lambda, numErrors := berlekampMassey(synd)
	if numErrors == 0 || numErrors > c.MaxErrors() {
		return nil, ErrTooManyErrors
	}

	// Chien search over the positions that exist in this (shortened) code
	positions := make([]int, 0, numErrors)
	for p := 0; p < n; p++ {
		if evalLow(lambda, gfPow(-(n - 1 - p))) == 0 {
			positions = append(positions, p)
		}
	}
	if len(positions) != numErrors {
		return nil, ErrTooManyErrors
	}

	// Forney: e = X·Ω(X⁻¹) / Λ'(X⁻¹) for first consecutive root α^0
	omega := errorEvaluator(synd, lambda)
	dLambda := derivative(lambda)
	for _, p := range positions {
		power := n - 1 - p
		xInv := gfPow(-power)
		den := evalLow(dLambda, xInv)
		if den == 0 {
			return nil, ErrTooManyErrors
		}
		num := gfMul(gfPow(power), evalLow(omega, xInv))
		out[p] ^= gfDiv(num, den)
	}

	if !isZero(c.syndromes(out)) {
		return nil, ErrTooManyErrors
	}

	return out, nil
}

// syndromes evaluates the codeword at every generator root
func (c *Codec) syndromes(codeword []byte) []byte {
	synd := make([]byte, c.eccLen)
	for i := range synd {
		synd[i] = polyEval(codeword, gfPow(i))
	}
	return synd
}

// berlekampMassey returns the error locator Λ (lowest degree first) and its degree.
func berlekampMassey(synd []byte) ([]byte, int) {
	nsym := len(synd)
	current := make([]byte, nsym+1)
	previous := make([]byte, nsym+1)
	current[0] = 1
	previous[0] = 1

	degree := 0
	shift := 1
	lastDiscrepancy := byte(1)

	for step := 0; step < nsym; step++ {
		d := synd[step]
		for i := 1; i <= degree; i++ {
			d ^= gfMul(current[i], synd[step-i])
		}
		if d == 0 {
			shift++
			continue
		}

		coef := gfDiv(d, lastDiscrepancy)
		if 2*degree <= step {
			saved := make([]byte, len(current))
			copy(saved, current)
			for i := 0; i+shift < len(current); i++ {
				current[i+shift] ^= gfMul(coef, previous[i])
			}
			degree = step + 1 - degree
			previous = saved
			lastDiscrepancy = d
			shift = 1
		} else {
			for i := 0; i+shift < len(current); i++ {
				current[i+shift] ^= gfMul(coef, previous[i])
			}
			shift++
		}
	}

	return current[:degree+1], degree
}

// errorEvaluator computes Ω = S·Λ mod x^len(S), lowest degree first.
func errorEvaluator(synd, lambda []byte) []byte {
	omega := make([]byte, len(synd))
	for i := range omega {
		var v byte
		for j := 0; j <= i && j < len(lambda); j++ {
			v ^= gfMul(lambda[j], synd[i-j])
		}
		omega[i] = v
	}
	return omega
}

// derivative is the formal derivative; in characteristic 2 only odd terms survive.
func derivative(p []byte) []byte {
	if len(p) < 2 {
		return []byte{0}
	}
	d := make([]byte, len(p)-1)
	for i := 1; i < len(p); i += 2 {
		d[i-1] = p[i]
	}
	return d
}

// evalLow evaluates p (lowest degree first) at x
func evalLow(p []byte, x byte) byte {
	var y byte
	for i := len(p) - 1; i >= 0; i-- {
		y = gfMul(y, x) ^ p[i]
	}
	return y
}

func isZero(p []byte) bool {
	for _, v := range p {
		if v != 0 {
			return false
		}
	}
	return true
}

func checkSymbols(symbols []byte) error {
	for i, v := range symbols {
		if v >= FieldSize {
			return fmt.Errorf("%w: symbol %d at index %d", ErrInvalidSymbol, v, i)
		}
	}
	return nil
}
