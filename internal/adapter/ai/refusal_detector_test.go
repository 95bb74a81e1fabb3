package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRefusal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		response string
		want     bool
	}{
		{
			name:     "direct_refusal",
			response: "I cannot help with that request.",
			want:     true,
		},
		{
			name:     "apologetic_refusal",
			response: "I'm sorry, but I am not able to extract claims from this text.",
			want:     true,
		},
		{
			name:     "policy_refusal",
			response: "This request conflicts with my usage guidelines.",
			want:     true,
		},
		{
			name:     "capability_refusal",
			response: "Unfortunately I don't have access to real-time information.",
			want:     true,
		},
		{
			name:     "case_insensitive",
			response: "I CANNOT verify these claims.",
			want:     true,
		},
		{
			name:     "normal_json_reply",
			response: `[{"text": "GDP grew 3% in 2023", "kind": "statistic"}]`,
			want:     false,
		},
		{
			name:     "normal_prose_reply",
			response: "The draft looks strong. Consider a tighter opening.",
			want:     false,
		},
		{
			name:     "empty_response",
			response: "",
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, IsRefusal(tt.response))
		})
	}
}
