// galliumctl is the control CLI for the audio DSP: it brings up stream
// topologies, inspects the firmware module catalog and reviews past
// bring-up runs. Without hardware it drives the register-level firmware
// emulator.
package main

import (
	"os"

	"github.com/galliumaudio/gallium/cmd/galliumctl/cmd"
	"github.com/galliumaudio/gallium/pkg/clierror"
)

func main() {
	if err := cmd.Execute(); err != nil {
		ce := clierror.FromError(err)
		clierror.PrintError(ce, os.Getenv("GALLIUMCTL_OUTPUT"))
		os.Exit(ce.ExitCode)
	}
}
