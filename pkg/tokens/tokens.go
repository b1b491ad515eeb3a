// Package tokens provides small token-symbol utilities used across the project.
package tokens

import "strings"

// WrappedSOL is the canonical wrapped-SOL mint address. Venues never see the
// bare "SOL" symbol; it is aliased to this address before quoting.
const WrappedSOL = "So11111111111111111111111111111111111111112"

// solSymbol is the client-facing alias for wrapped SOL.
const solSymbol = "SOL"

// Normalize maps the symbolic alias "SOL" (case-insensitive) to the wrapped
// mint address. The second return reports whether aliasing occurred. Any
// other symbol passes through untouched, including addresses.
func Normalize(symbol string) (string, bool) {
	if strings.EqualFold(symbol, solSymbol) {
		return WrappedSOL, true
	}
	return symbol, false
}
