package markdown

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderer_Render(t *testing.T) {
	r := NewRenderer()

	tests := []struct {
		name     string
		input    string
		contains []string
		excludes []string
	}{
		{
			name:     "emphasis",
			input:    "Database **failover** complete",
			contains: []string{"<strong>failover</strong>"},
		},
		{
			name:     "strikethrough",
			input:    "~~degraded~~ restored",
			contains: []string{"<del>degraded</del>"},
		},
		{
			name:     "script stripped",
			input:    "hello <script>alert(1)</script>",
			contains: []string{"hello"},
			excludes: []string{"<script", "alert(1)</script>"},
		},
		{
			name:     "javascript link removed",
			input:    "[click](javascript:alert(1))",
			excludes: []string{"javascript:"},
		},
		{
			name:     "linkify",
			input:    "see https://status.example.com now",
			contains: []string{`href="https://status.example.com"`, `rel="nofollow`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := r.Render(tt.input)
			require.NoError(t, err)
			for _, s := range tt.contains {
				assert.Contains(t, out, s)
			}
			for _, s := range tt.excludes {
				assert.False(t, strings.Contains(out, s), "output %q should not contain %q", out, s)
			}
		})
	}
}
