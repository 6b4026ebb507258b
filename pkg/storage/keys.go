package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const progressKeyPrefix = "upload_progress_"

// FileHash identifies an uploaded file by content.
func FileHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func ProgressKey(fileHash string) string {
	return progressKeyPrefix + fileHash
}

func hashFromKey(key string) string {
	return strings.TrimPrefix(key, progressKeyPrefix)
}
