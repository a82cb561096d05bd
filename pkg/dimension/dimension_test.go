package dimension

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSetCanonicalOrder(t *testing.T) {
	tests := map[string]struct {
		in   []string
		want []string
	}{
		"already sorted":         {[]string{"cluster", "host"}, []string{"cluster", "host"}},
		"reverse order":          {[]string{"host", "cluster"}, []string{"cluster", "host"}},
		"case insensitive dedup": {[]string{"Host", "host", "HOST"}, []string{"host"}},
		"empty":                  {nil, nil},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			s := NewSet(tc.in...)
			assert.Equal(t, tc.want, s.Names())
		})
	}
}

func TestSetEqualIgnoresInsertionOrder(t *testing.T) {
	a := NewSet("host", "cluster")
	b := NewSet("cluster", "host")
	assert.True(t, a.Equal(b))

	c := NewSet("cluster", "datacenter")
	assert.False(t, a.Equal(c))
}

func TestSpecificationKeyForUsesCanonicalOrder(t *testing.T) {
	set := NewSet("host", "cluster")
	spec := Specification{"cluster": "us-east", "host": "web-01"}

	key := spec.KeyFor(set)
	assert.Equal(t, Key{"us-east", "web-01"}, key)
}

func TestSpecificationIsComplete(t *testing.T) {
	set := NewSet("host", "cluster")
	assert.True(t, Specification{"host": "a", "cluster": "b"}.IsComplete(set))
	assert.False(t, Specification{"host": "a"}.IsComplete(set))
}

func TestKeyStringIsStableAndDistinguishesTuples(t *testing.T) {
	a := Key{"a", "b"}
	b := Key{"ab", ""}
	assert.NotEqual(t, a.String(), b.String())
}
