package dataval_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jihwankim/compositeworker/pkg/dataval"
)

func TestIsUndefined(t *testing.T) {
	assert.True(t, dataval.IsUndefined(nil))
	assert.True(t, dataval.IsUndefined(dataval.Undefined))
	assert.False(t, dataval.IsUndefined(0.0))
	assert.False(t, dataval.IsUndefined(""))
}

func TestAsFloat(t *testing.T) {
	cases := []struct {
		name    string
		in      interface{}
		want    float64
		wantOK  bool
	}{
		{"float64", 3.5, 3.5, true},
		{"int", 7, 7, true},
		{"numeric string", "42", 42, true},
		{"non-numeric string", "abc", 0, false},
		{"undefined", dataval.Undefined, 0, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, ok := dataval.AsFloat(c.in)
			assert.Equal(t, c.wantOK, ok)
			if ok {
				assert.Equal(t, c.want, got)
			}
		})
	}
}

func TestAsString(t *testing.T) {
	assert.Equal(t, "", dataval.AsString(dataval.Undefined))
	assert.Equal(t, "", dataval.AsString(nil))
	assert.Equal(t, "hi", dataval.AsString("hi"))
	assert.Equal(t, "3", dataval.AsString(3.0))
	assert.Equal(t, "3.5", dataval.AsString(3.5))
}

func TestTruthy(t *testing.T) {
	assert.False(t, dataval.Truthy(dataval.Undefined))
	assert.False(t, dataval.Truthy(0.0))
	assert.False(t, dataval.Truthy(""))
	assert.True(t, dataval.Truthy(1.0))
	assert.True(t, dataval.Truthy("x"))
}
