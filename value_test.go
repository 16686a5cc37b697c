package wren

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValuesEqual(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Value
		expected bool
	}{
		{"null equals null", Null, Null, true},
		{"bool equal", True, True, true},
		{"bool unequal", True, False, false},
		{"num equal", NumValue(3), NumValue(3), true},
		{"num unequal", NumValue(3), NumValue(4), false},
		{"string content equal", newString("hi"), newString("hi"), true},
		{"string content unequal", newString("hi"), newString("bye"), false},
		{"different kinds", NumValue(1), newString("1"), false},
		{"range equal", newRange(0, 10, true), newRange(0, 10, true), true},
		{"range differs on inclusive", newRange(0, 10, true), newRange(0, 10, false), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, valuesEqual(tt.a, tt.b))
		})
	}
}

func TestHashValueStableForEqualStrings(t *testing.T) {
	a := newString("the quick brown fox")
	b := newString("the quick brown fox")
	assert.Equal(t, hashValue(a), hashValue(b))
}

func TestFormatNum(t *testing.T) {
	assert.Equal(t, "3", formatNum(3))
	assert.Equal(t, "3.5", formatNum(3.5))
	assert.Equal(t, "nan", formatNum(math.NaN()))
	assert.Equal(t, "infinity", formatNum(math.Inf(1)))
	assert.Equal(t, "-infinity", formatNum(math.Inf(-1)))
}

func TestIsFalsey(t *testing.T) {
	assert.True(t, IsFalsey(Null))
	assert.True(t, IsFalsey(False))
	assert.False(t, IsFalsey(True))
	assert.False(t, IsFalsey(NumValue(0)))
	assert.False(t, IsFalsey(newString("")))
}
