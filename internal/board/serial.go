package board

import (
	"encoding/hex"
	"os"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// machineIDFiles hold a stable per-host identifier.
var machineIDFiles = []string{"/etc/machine-id", "/var/lib/dbus/machine-id"}

// SerialNumberLength is the number of hex digits in a derived serial
// number, the width of a 96-bit unique device ID.
const SerialNumberLength = 24

// SerialNumber returns configured if set. Otherwise it derives a serial
// number from the machine identity, so that the same host always presents
// the same serial.
func SerialNumber(configured string) string {
	if configured != "" {
		return configured
	}
	return deriveSerial(machineID())
}

func deriveSerial(id []byte) string {
	sum := blake2b.Sum256(id)
	return strings.ToUpper(hex.EncodeToString(sum[:SerialNumberLength/2]))
}

func machineID() []byte {
	for _, name := range machineIDFiles {
		if data, err := os.ReadFile(name); err == nil && len(strings.TrimSpace(string(data))) > 0 {
			return []byte(strings.TrimSpace(string(data)))
		}
	}
	if host, err := os.Hostname(); err == nil {
		return []byte(host)
	}
	return nil
}
