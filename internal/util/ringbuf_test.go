package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingBufferOverwritesOldest(t *testing.T) {
	r := NewRingBuffer[int](3)
	for i := 1; i <= 5; i++ {
		r.Push(i)
	}
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []int{3, 4, 5}, r.Snapshot())
	assert.Equal(t, []int{4, 5}, r.Tail(2))
	assert.Equal(t, []int{3, 4, 5}, r.Tail(10))
}

func TestRingBufferPartial(t *testing.T) {
	r := NewRingBuffer[string](4)
	r.Push("a")
	r.Push("b")
	assert.Equal(t, []string{"a", "b"}, r.Snapshot())
	assert.Equal(t, []string{"b"}, r.Tail(1))
	assert.Empty(t, NewRingBuffer[string](2).Snapshot())
}

func TestValidateID(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"alice", "alice", false},
		{"  bob ", "bob", false},
		{"", "", true},
		{"a/b", "", true},
		{"a b", "", true},
		{"x:y", "", true},
		{"..", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ValidateID(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
