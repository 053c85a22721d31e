// Package clierror provides structured errors for CLI output with codes,
// exit codes, and remediation hints.
package clierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/galliumaudio/gallium/pkg/dsp"
	"github.com/galliumaudio/gallium/pkg/ipc"
	"github.com/galliumaudio/gallium/pkg/nhlt"
)

// Exit codes reported to the shell.
const (
	ExitSuccess  = 0 // Operation completed successfully
	ExitGeneral  = 1 // Unknown/unhandled error
	ExitFirmware = 2 // Firmware rejected a request
	ExitTimeout  = 3 // Firmware stopped answering
	ExitNotFound = 4 // Resource doesn't exist
	ExitConfig   = 5 // Board or stream configuration is invalid
)

// Error codes (strings) for programmatic error handling
const (
	CodeFirmwareError    = "FIRMWARE_ERROR"
	CodeFirmwareTimeout  = "FIRMWARE_TIMEOUT"
	CodeChannelShutdown  = "CHANNEL_SHUTDOWN"
	CodeNoEndpoint       = "NO_ENDPOINT"
	CodeCatalogMalformed = "CATALOG_MALFORMED"
	CodeIDsExhausted     = "IDS_EXHAUSTED"
	CodeConfigInvalid    = "CONFIG_INVALID"
	CodeSnapshotNotFound = "SNAPSHOT_NOT_FOUND"
	CodeInternalError    = "INTERNAL_ERROR"
)

// CLIError represents a structured error for CLI output.
type CLIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Hint      string `json:"hint,omitempty"`
	Retryable bool   `json:"retryable"`
	ExitCode  int    `json:"-"` // Not serialized, used for os.Exit
}

// Error implements the error interface.
func (e *CLIError) Error() string {
	return e.Message
}

// FirmwareError creates an error for a request the firmware rejected.
func FirmwareError(err error) *CLIError {
	return &CLIError{
		Code:      CodeFirmwareError,
		Message:   err.Error(),
		Hint:      "Run with --verbose and check the firmware status code",
		Retryable: false,
		ExitCode:  ExitFirmware,
	}
}

// FirmwareTimeout creates an error for a firmware that stopped answering.
func FirmwareTimeout(err error) *CLIError {
	return &CLIError{
		Code:      CodeFirmwareTimeout,
		Message:   err.Error(),
		Hint:      "The DSP may be hung; power cycle the device and retry",
		Retryable: true,
		ExitCode:  ExitTimeout,
	}
}

// NoEndpoint creates an error when the topology table has no blob for a
// requested stream.
func NoEndpoint(err error) *CLIError {
	return &CLIError{
		Code:      CodeNoEndpoint,
		Message:   err.Error(),
		Hint:      "Check the board config's endpoints against the stream's link, direction and format",
		Retryable: false,
		ExitCode:  ExitConfig,
	}
}

// CatalogMalformed creates an error for an unparseable module catalog.
func CatalogMalformed(err error) *CLIError {
	return &CLIError{
		Code:      CodeCatalogMalformed,
		Message:   err.Error(),
		Hint:      "The firmware image may be corrupt; reflash and retry",
		Retryable: false,
		ExitCode:  ExitFirmware,
	}
}

// IDsExhausted creates an error when pipeline or module ids run out.
func IDsExhausted(err error) *CLIError {
	return &CLIError{
		Code:      CodeIDsExhausted,
		Message:   err.Error(),
		Hint:      "Ids are never reused; reset the DSP to reclaim them",
		Retryable: false,
		ExitCode:  ExitGeneral,
	}
}

// ConfigInvalid creates an error for a bad board or stream configuration.
func ConfigInvalid(err error) *CLIError {
	return &CLIError{
		Code:      CodeConfigInvalid,
		Message:   err.Error(),
		Hint:      "Validate the board config file passed via --config",
		Retryable: false,
		ExitCode:  ExitConfig,
	}
}

// SnapshotNotFound creates an error when a catalog snapshot doesn't exist.
func SnapshotNotFound(id string) *CLIError {
	return &CLIError{
		Code:      CodeSnapshotNotFound,
		Message:   fmt.Sprintf("catalog snapshot '%s' not found", id),
		Hint:      "Save a snapshot first with 'galliumctl modules --save'",
		Retryable: false,
		ExitCode:  ExitNotFound,
	}
}

// InternalError creates an error for unexpected internal errors.
func InternalError(err error) *CLIError {
	msg := "an unexpected internal error occurred"
	if err != nil {
		msg = fmt.Sprintf("internal error: %s", err.Error())
	}
	return &CLIError{
		Code:      CodeInternalError,
		Message:   msg,
		Retryable: false,
		ExitCode:  ExitGeneral,
	}
}

// FromError classifies err into a CLIError. Already structured errors
// pass through unchanged.
func FromError(err error) *CLIError {
	var ce *CLIError
	if errors.As(err, &ce) {
		return ce
	}
	switch {
	case errors.Is(err, ipc.ErrTimeout):
		return FirmwareTimeout(err)
	case errors.Is(err, ipc.ErrCanceled):
		return &CLIError{
			Code:     CodeChannelShutdown,
			Message:  err.Error(),
			ExitCode: ExitGeneral,
		}
	case errors.Is(err, ipc.ErrFirmware):
		return FirmwareError(err)
	case errors.Is(err, nhlt.ErrNoEndpoint):
		return NoEndpoint(err)
	case errors.Is(err, dsp.ErrBadCatalog):
		return CatalogMalformed(err)
	case errors.Is(err, dsp.ErrPipelinesExhausted), errors.Is(err, dsp.ErrInstancesExhausted):
		return IDsExhausted(err)
	case errors.Is(err, dsp.ErrInvalidConfig):
		return ConfigInvalid(err)
	default:
		return &CLIError{
			Code:     CodeInternalError,
			Message:  err.Error(),
			ExitCode: ExitGeneral,
		}
	}
}

// FormatError returns the error formatted for the given output format.
// Supported formats: "json" for JSON output, anything else for human-readable format.
func FormatError(err *CLIError, outputFormat string) string {
	if outputFormat == "json" {
		data, jsonErr := json.MarshalIndent(err, "", "  ")
		if jsonErr != nil {
			return fmt.Sprintf(`{"code":"%s","message":"%s"}`, err.Code, err.Message)
		}
		return string(data)
	}

	output := fmt.Sprintf("Error [%s]: %s", err.Code, err.Message)
	if err.Hint != "" {
		output += fmt.Sprintf("\nHint: %s", err.Hint)
	}
	return output
}

// PrintError prints the error to stderr in the appropriate format.
func PrintError(err *CLIError, outputFormat string) {
	fmt.Fprintln(os.Stderr, FormatError(err, outputFormat))
}
