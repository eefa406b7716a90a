package testutil

// FixedRunToken generates the same run token every time.
//
// This enables deterministic journal rows and golden trace comparison.
//
// Thread-safety: FixedRunToken is stateless and safe for concurrent use.
type FixedRunToken struct {
	token string
}

// NewFixedRunToken creates a fixed run token generator.
//
// If token is empty, Generate() returns "test-run-default".
func NewFixedRunToken(token string) *FixedRunToken {
	if token == "" {
		token = "test-run-default"
	}
	return &FixedRunToken{token: token}
}

// Generate returns the fixed token.
func (g *FixedRunToken) Generate() string {
	return g.token
}
