package lsp

// Capabilities is an opaque capability map exchanged once during the
// initialize handshake. The client consults the cached server map to decide
// which extension operations to attempt; there is no runtime re-probing.
type Capabilities map[string]any

// DefaultClientCapabilities is what this client offers during initialize.
func DefaultClientCapabilities() Capabilities {
	return Capabilities{
		"analysis": map[string]any{
			"comprehensiveErrors": map[string]any{},
			"codebaseAnalysis":    map[string]any{},
			"diagnosticsPush":     map[string]any{},
		},
		"textDocument": map[string]any{
			"publishDiagnostics": map[string]any{},
		},
	}
}

// Has walks a dotted path ("analysis.comprehensiveErrors") through nested
// maps and reports whether the leaf exists and is not explicitly false.
func (c Capabilities) Has(path ...string) bool {
	var cur any = map[string]any(c)
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return false
		}
		cur, ok = m[key]
		if !ok {
			return false
		}
	}
	if b, ok := cur.(bool); ok {
		return b
	}
	return true
}
