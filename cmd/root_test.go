package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateDefaults(t *testing.T) {
	assert.NoError(t, Validate(&Options{}))
}

func TestValidateNilOptions(t *testing.T) {
	assert.ErrorIs(t, Validate(nil), ErrInvalidArguments)
}

func TestValidateSingleModes(t *testing.T) {
	for _, opts := range []*Options{
		{Watch: true},
		{Once: true},
		{List: true},
		{List: true, JSON: true},
		{Set: "sim.exe", CPUs: "0-3"},
		{Delete: "sim.exe"},
		{Watch: true, Interval: time.Second},
	} {
		assert.NoError(t, Validate(opts), "%+v", opts)
	}
}

func TestValidateRejectsCombinations(t *testing.T) {
	for _, opts := range []*Options{
		{Watch: true, Once: true},
		{List: true, Set: "sim.exe", CPUs: "0"},
		{Set: "sim.exe", Delete: "sim.exe", CPUs: "0"},
		{JSON: true},
		{CPUs: "0-3"},
		{Set: "sim.exe"},
		{Set: "sim.exe", CPUs: "   "},
		{Watch: true, Interval: -time.Second},
	} {
		assert.ErrorIs(t, Validate(opts), ErrInvalidArguments, "%+v", opts)
	}
}
