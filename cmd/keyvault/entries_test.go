package main

import (
	"bufio"
	"io"
	"strings"
	"testing"
	"time"

	pqtotp "github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/keyvault/internal/models"
	"github.com/TheMichaelB/keyvault/internal/services/totp"
)

func TestConfirmTOTP(t *testing.T) {
	svc := totp.NewService()
	secret, err := svc.NewSecret("KeyVault", "GitHub")
	require.NoError(t, err)

	code, err := pqtotp.GenerateCode(secret, time.Now())
	require.NoError(t, err)

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "first code matches", input: code + "\n"},
		{name: "second attempt matches", input: "abcdef\n" + code + "\n"},
		{name: "skipped", input: "\n"},
		{name: "skipped at end of input", input: ""},
		{name: "three wrong codes", input: "abcdef\nabcdef\nabcdef\n" + code + "\n", wantErr: true},
		{name: "wrong code then end of input", input: "abcdef", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := confirmTOTP(svc, secret, bufio.NewReader(strings.NewReader(tt.input)), io.Discard)
			if tt.wantErr {
				assert.ErrorIs(t, err, models.ErrInvalidEntry)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
