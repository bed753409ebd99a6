package allocator

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// SetupScriptName is the file WriteSetupScript creates.
const SetupScriptName = "setup.sh"

// Exports returns the shell export lines a host needs to run the DDNS agent
// under its allocated identity.
func (id Identifier) Exports() string {
	return fmt.Sprintf("export DDNS_HOST=%s\nexport MACHINE_ID=%s\n", id.FQDN, id.Label)
}

// WriteSetupScript writes setup.sh into dir, creating dir if needed, and
// returns the script path. An existing script is replaced.
func WriteSetupScript(dir, network string, id Identifier) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("allocator: create %s: %w", dir, err)
	}

	var b strings.Builder
	b.WriteString("#!/bin/bash\n\n")
	fmt.Fprintf(&b, "export MACHINE_NET=%s\n", network)
	fmt.Fprintf(&b, "export MACHINE_ID=%s\n", id.Label)
	fmt.Fprintf(&b, "export DDNS_HOST=%s\n", id.FQDN)

	path := filepath.Join(dir, SetupScriptName)
	if err := os.WriteFile(path, []byte(b.String()), 0o755); err != nil {
		return "", fmt.Errorf("allocator: write %s: %w", path, err)
	}
	return path, nil
}

// DeviceDir names the output directory of device i (1-based) in a batch of
// total, zero-padded one digit wider than total: device-01 .. device-09.
func DeviceDir(base string, i, total int) string {
	width := len(strconv.Itoa(total)) + 1
	return filepath.Join(base, fmt.Sprintf("device-%0*d", width, i))
}
