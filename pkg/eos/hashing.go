package eos

import (
	"encoding/hex"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/crypto/blake2b"
)

// CacheKey derives a store key from a request: BLAKE2b-256 over its JSON encoding.
// ConfigCompatibleWithStandardLibrary sorts map keys, so equal requests give equal keys.
func CacheKey(request interface{}) (string, error) {

	var json = jsoniter.ConfigCompatibleWithStandardLibrary
	data, err := json.Marshal(request)
	if err != nil {
		return "", err
	}

	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// descriptorNamespace is a short, credential-free identifier for a target descriptor.
func descriptorNamespace(descriptor string) string {
	sum := blake2b.Sum256([]byte(descriptor))
	return hex.EncodeToString(sum[:8])
}
