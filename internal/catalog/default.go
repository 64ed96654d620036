package catalog

import (
	_ "embed"
)

//go:embed default.yaml
var defaultCatalog []byte

// Default returns the built-in catalog. It panics if the embedded file is invalid.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic("catalog: invalid built-in catalog: " + err.Error())
	}
	return c
}
