package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	base := Policy{LateThresholdMinutes: 30, DuplicateCheckMinutes: 120}
	fifteen, sixty := 15, 60

	tests := []struct {
		name     string
		override Override
		expected Policy
	}{
		{
			name:     "no override",
			override: Override{},
			expected: base,
		},
		{
			name:     "late threshold only",
			override: Override{LateThresholdMinutes: &fifteen},
			expected: Policy{LateThresholdMinutes: 15, DuplicateCheckMinutes: 120},
		},
		{
			name:     "duplicate window only",
			override: Override{DuplicateCheckMinutes: &sixty},
			expected: Policy{LateThresholdMinutes: 30, DuplicateCheckMinutes: 60},
		},
		{
			name:     "both",
			override: Override{LateThresholdMinutes: &fifteen, DuplicateCheckMinutes: &sixty},
			expected: Policy{LateThresholdMinutes: 15, DuplicateCheckMinutes: 60},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Resolve(base, tt.override))
		})
	}
}

func TestResolveDoesNotMutate(t *testing.T) {
	base := Policy{LateThresholdMinutes: 30, DuplicateCheckMinutes: 120}
	five := 5

	_ = Resolve(base, Override{LateThresholdMinutes: &five, DuplicateCheckMinutes: &five})
	assert.Equal(t, Policy{LateThresholdMinutes: 30, DuplicateCheckMinutes: 120}, base)
}
