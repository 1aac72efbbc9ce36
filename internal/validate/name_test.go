package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"plain", "alice", "alice", false},
		{"spaces trimmed", "  build agent  ", "build agent", false},
		{"control chars stripped", "al\x00ice\n", "alice", false},
		{"quotes stripped", `a"b\c`, "abc", false},
		{"empty", "", "", true},
		{"only forbidden", "\x01\x02\"", "", true},
		{"too long", strings.Repeat("x", 65), "", true},
		{"max length ok", strings.Repeat("x", 64), strings.Repeat("x", 64), false},
		{"unicode kept", "équipe-α", "équipe-α", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeName(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSanitizeTags(t *testing.T) {
	got := SanitizeTags([]string{" build ", "", "build", "deploy", "  "})
	assert.Equal(t, []string{"build", "deploy"}, got)

	assert.Empty(t, SanitizeTags(nil))
	assert.Empty(t, SanitizeTags([]string{"", "   "}))
}
