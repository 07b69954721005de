// Package fec implements the Reed-Solomon packet code used by the modem.
// Symbols are 5-bit elements of GF(2^5); codewords are systematic with the
// parity symbols appended after the data symbols.
package fec
