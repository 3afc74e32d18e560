package inventory

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Checksum fingerprints a tool as sha256("<server>:<name>:<description>"),
// omitting the server segment when server is empty.
func Checksum(server, name, description string) string {
	var data string
	if strings.TrimSpace(server) != "" {
		data = server + ":" + name + ":" + description
	} else {
		data = name + ":" + description
	}
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}
