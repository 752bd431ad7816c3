package ubl

import (
	"crypto/sha256"
	"encoding/hex"
)

// GenesisHash is the previous-hash value of a business's first document.
var GenesisHash = Hash("0")

// Hash returns the hex SHA-256 of the exact UTF-8 bytes of xml.
func Hash(xml string) string {
	sum := sha256.Sum256([]byte(xml))
	return hex.EncodeToString(sum[:])
}
