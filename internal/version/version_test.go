// ABOUTME: Tests for version constants
// ABOUTME: Ensures version information is properly defined
package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentificationDefined(t *testing.T) {
	for name, v := range map[string]string{
		"Version":      Version,
		"Product":      Product,
		"Manufacturer": Manufacturer,
	} {
		assert.NotEmpty(t, v, name)
		assert.Less(t, len(v), 100, name)
		for _, placeholder := range []string{"TODO", "FIXME", "XXX", "placeholder"} {
			assert.NotEqual(t, placeholder, v, name)
		}
	}
}
