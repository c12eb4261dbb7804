package convert

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFloat64(t *testing.T) {
	cases := []struct {
		in   any
		want float64
		ok   bool
	}{
		{in: 1.5, want: 1.5, ok: true},
		{in: 3, want: 3, ok: true},
		{in: json.Number("2.25"), want: 2.25, ok: true},
		{in: " 55.5% ", want: 55.5, ok: true},
		{in: "1,234.5", want: 1234.5, ok: true},
		{in: "abc", ok: false},
		{in: "", ok: false},
		{in: math.NaN(), ok: false},
		{in: struct{}{}, ok: false},
	}
	for _, tc := range cases {
		got, ok := Float64(tc.in)
		assert.Equal(t, tc.ok, ok, "%v", tc.in)
		if tc.ok {
			assert.InDelta(t, tc.want, got, 1e-12)
		}
	}
	assert.Equal(t, 0.0, ToFloat64("bad"))
}
