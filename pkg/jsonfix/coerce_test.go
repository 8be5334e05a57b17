package jsonfix

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruthy(t *testing.T) {
	falsy := []any{nil, false, float64(0), "", []any{}, map[string]any{}}
	for _, v := range falsy {
		assert.False(t, Truthy(v), "%#v", v)
	}
	truthy := []any{true, float64(2), "x", []any{1}, map[string]any{"a": 1}}
	for _, v := range truthy {
		assert.True(t, Truthy(v), "%#v", v)
	}
}

func TestString(t *testing.T) {
	assert.Equal(t, "Lena", String("Lena"))
	assert.Equal(t, "42", String(float64(42)))
	assert.Equal(t, "0.5", String(0.5))
	assert.Equal(t, "true", String(true))
}

func TestInt(t *testing.T) {
	tests := []struct {
		in     any
		want   int
		wantOK bool
	}{
		{float64(3), 3, true},
		{2.9, 2, true},
		{" 4 ", 4, true},
		{"3.5", 0, false},
		{"many", 0, false},
		{true, 1, true},
		{nil, 0, false},
		{[]any{1}, 0, false},
	}
	for _, tt := range tests {
		got, ok := Int(tt.in)
		assert.Equal(t, tt.wantOK, ok, "%#v", tt.in)
		if tt.wantOK {
			assert.Equal(t, tt.want, got, "%#v", tt.in)
		}
	}
}

func TestNumber(t *testing.T) {
	f, ok := Number(0.25)
	assert.True(t, ok)
	assert.Equal(t, 0.25, f)

	_, ok = Number("0.25")
	assert.False(t, ok)

	f, ok = NumberOrString("0.25")
	assert.True(t, ok)
	assert.Equal(t, 0.25, f)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 10, Clamp(99, 0, 10))
	assert.Equal(t, 0.0, Clamp(-0.5, 0, 1))
	assert.Equal(t, 0.3, Clamp(0.3, 0, 1))
}
