// internal/cache/names.go
package cache

import (
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// Names builds document names scoped to one network.
type Names struct {
	Network string
}

// PairKeys names the key cache for an arbitrage pair.
func (n Names) PairKeys(mint1, mint2 solana.PublicKey) string {
	return fmt.Sprintf("%s-jupKeyCache-%s-%s.json", n.Network, mint1, mint2)
}

// ExampleKeys names the key cache of the example flash loan for mint.
func (n Names) ExampleKeys(mint solana.PublicKey) string {
	return fmt.Sprintf("%s-exampleFLMCache-%s.json", n.Network, mint)
}

// LookupTables names the registry of created tables.
func (n Names) LookupTables() string {
	return fmt.Sprintf("%s-lookupTables.json", n.Network)
}

// ExtractedKeys names the document holding keys pulled out of the tables
// listed in the registry called name.
func ExtractedKeys(name string) string {
	base, _, _ := strings.Cut(name, ".")
	return base + "-keys.json"
}
