package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizer_Normalize(t *testing.T) {
	n := NewNormalizer("1")

	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "bare 10-digit domestic", raw: "1234567890", want: "+11234567890"},
		{name: "11-digit with country digit", raw: "11234567890", want: "+11234567890"},
		{name: "already canonical", raw: "+11234567890", want: "+11234567890"},
		{name: "formatted with punctuation", raw: "(123) 456-7890", want: "+11234567890"},
		{name: "international with plus", raw: "+442071838750", want: "+442071838750"},
		{name: "plus with spaces and dashes", raw: "+44 20 7183-8750", want: "+442071838750"},
		{name: "letters only", raw: "abc", wantErr: true},
		{name: "empty", raw: "", wantErr: true},
		{name: "too short with plus", raw: "+123456789", wantErr: true},
		{name: "too long with plus", raw: "+1234567890123456", wantErr: true},
		{name: "12 digits without plus", raw: "123456789012", wantErr: true},
		{name: "9 digits without plus", raw: "123456789", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := n.Normalize(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPhone)
				assert.Empty(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizer_Idempotent(t *testing.T) {
	n := NewNormalizer("1")

	inputs := []string{
		"1234567890",
		"11234567890",
		"+11234567890",
		"(555) 867-5309",
		"+442071838750",
	}

	for _, raw := range inputs {
		once, err := n.Normalize(raw)
		require.NoError(t, err)

		twice, err := n.Normalize(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice, "normalize must be idempotent for %q", raw)
	}
}

func TestNormalizer_IsDomestic(t *testing.T) {
	n := NewNormalizer("1")

	assert.True(t, n.IsDomestic("+11234567890"))
	assert.False(t, n.IsDomestic("+442071838750"))
}
