package hashutil

import (
	"encoding/hex"

	"lukechampine.com/blake3"
)

func Blake3Hash(data []byte) string {
	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// ContentHash is the digest recorded on pipelines and versions.
func ContentHash(data []byte) string {
	return "blake3:" + Blake3Hash(data)
}
