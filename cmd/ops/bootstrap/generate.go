package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// adminKeyByteLength is the number of random bytes in the generated admin API
// key. 32 bytes hex-encodes to a 64-character key with 256 bits of entropy.
const adminKeyByteLength = 32

// adminKeyHashCost matches the bcrypt cost the API server uses when comparing
// the presented key against ADMIN_API_KEY_HASH.
const adminKeyHashCost = bcrypt.DefaultCost

// GenerateAdminAPIKey produces the admin API key pair: the plaintext key the
// operator must record, and the bcrypt hash that is stored in SSM. The server
// only ever sees the hash; if the plaintext is lost the key must be rotated
// by re-running bootstrap with overwrite.
func GenerateAdminAPIKey() (plaintext, hash string, err error) {
	buf := make([]byte, adminKeyByteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generating admin API key: crypto/rand failed: %w", err)
	}
	plaintext = hex.EncodeToString(buf)

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), adminKeyHashCost)
	if err != nil {
		return "", "", fmt.Errorf("hashing admin API key: %w", err)
	}

	return plaintext, string(hashed), nil
}
