package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResourceLimitsValidateRejectsSwapWithoutMemoryLimit(t *testing.T) {
	limits := ResourceLimits{MemorySwap: 256 * 1024 * 1024}
	assert.Error(t, limits.Validate(4))
}

func TestResourceLimitsValidateRejectsCPUQuotaAboveCoreCount(t *testing.T) {
	limits := ResourceLimits{CPUQuota: 5}
	assert.Error(t, limits.Validate(4))
}

func TestResourceLimitsValidateAcceptsWithinBounds(t *testing.T) {
	limits := ResourceLimits{MemoryLimit: 512 * 1024 * 1024, MemorySwap: 768 * 1024 * 1024, CPUQuota: 2}
	assert.NoError(t, limits.Validate(4))
}

func TestResourceLimitsValidateAcceptsZeroValue(t *testing.T) {
	assert.NoError(t, ResourceLimits{}.Validate(4))
}
