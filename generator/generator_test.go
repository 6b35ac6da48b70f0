package generator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIDbyIP(t *testing.T) {
	assert.Equal(t, uint32(0x0a000001), IDbyIP("10.0.0.1"))
	assert.Equal(t, uint32(0), IDbyIP("not an ip"))
}

func TestNodeID(t *testing.T) {
	tests := []struct {
		ip   string
		want int64
	}{
		{"10.0.0.1", 1},
		{"10.0.4.1", 1},
		{"192.168.1.255", 511},
	}
	for _, tt := range tests {
		got := NodeID(tt.ip)
		assert.Equal(t, tt.want, got, tt.ip)
		assert.Less(t, got, int64(1024))
	}
}

func TestRunIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := RunID()
		assert.False(t, seen[id])
		seen[id] = true
	}
}
