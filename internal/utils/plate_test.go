package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePlate(t *testing.T) {
	assert.Equal(t, "7ERF019", NormalizePlate("  7erf019 \n"))
	assert.Equal(t, "AB 123", NormalizePlate("ab 123"))
	assert.Equal(t, "", NormalizePlate("   "))
}

func TestFilenamePlate(t *testing.T) {
	assert.Equal(t, "AB123", FilenamePlate("ab-1 23"))
	assert.Equal(t, "UNKNOWN", FilenamePlate("--"))
}
