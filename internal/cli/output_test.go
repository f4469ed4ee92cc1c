package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/paywatch/internal/config"
	"github.com/roach88/paywatch/internal/payment"
	"github.com/roach88/paywatch/internal/store"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	err := formatter.Success(map[string]string{"result": "success"})
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	err := formatter.Error("NOT_FOUND", "payment not found", map[string]string{"id": "p1"})
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
	assert.Equal(t, "payment not found", resp.Error.Message)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf, Verbose: true}

	err := formatter.Error("COMMAND_ERROR", "database locked", map[string]string{"path": "x.db"})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [COMMAND_ERROR]: database locked")
	assert.Contains(t, buf.String(), "Details:")
}

func TestOutputFormatter_VerboseLogUsesErrWriter(t *testing.T) {
	out, diag := &bytes.Buffer{}, &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: out, ErrWriter: diag, Verbose: true}

	formatter.VerboseLog("running %s", "a.yaml")
	assert.Empty(t, out.String())
	assert.Contains(t, diag.String(), "running a.yaml")

	formatter.Verbose = false
	diag.Reset()
	formatter.VerboseLog("quiet")
	assert.Empty(t, diag.String())
}

func TestOutputFormatter_FailMapsExitCodes(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
		wantExit int
	}{
		{"not found", payment.ErrNotFound, "NOT_FOUND", ExitFailure},
		{"already terminal", payment.ErrAlreadyTerminal, "ALREADY_TERMINAL", ExitFailure},
		{"invalid request", payment.ErrInvalidRequest, "INVALID_REQUEST", ExitFailure},
		{"order state", payment.ErrInvalidOrderState, "INVALID_ORDER_STATE", ExitFailure},
		{"order exists", fmt.Errorf("add order O1: %w", store.ErrOrderExists), "COMMAND_ERROR", ExitFailure},
		{"persistence", payment.ErrPersistenceFailure, "PERSISTENCE_FAILURE", ExitCommandError},
		{"config", &config.ValidationError{Field: "log_format", Message: "bad"}, "COMMAND_ERROR", ExitCommandError},
		{"plain", errors.New("boom"), "COMMAND_ERROR", ExitCommandError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{Format: "json", Writer: buf}

			err := formatter.Fail("request failed", tt.err, nil)
			require.Error(t, err)
			assert.Equal(t, tt.wantExit, GetExitCode(err))
			assert.True(t, Reported(err))
			assert.ErrorIs(t, err, tt.err)

			var resp CLIResponse
			require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
			assert.Equal(t, tt.wantCode, resp.Error.Code)
		})
	}
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "x")))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(fmt.Errorf("wrapped: %w", NewExitError(ExitCommandError, "x"))))
	assert.False(t, Reported(NewExitError(ExitFailure, "x")))
}
