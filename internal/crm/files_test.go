package crm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsContractFileName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"Contract_12345.pdf", true},
		{"contract.pdf", true},
		{"Договор займа.pdf", true},
		{"client.pdf", true},
		{"Microinvest.PDF", true},
		// diacritics in partner-generated names must still match
		{"Contrăct_semnat.pdf", true},
		{"passport.jpg", false},
		{"buletin_fata.png", false},
		{"invoice.pdf", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, IsContractFileName(tt.name), "file %q", tt.name)
	}
}

func TestFoldName(t *testing.T) {
	assert.Equal(t, "contract", foldName("Contrâct"))
	assert.Equal(t, "договор", foldName("ДОГОВОР"))
}
