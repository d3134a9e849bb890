package util

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/url"
	"strings"
)

type RsaKeyPair struct {
	Private string
	Public  string
}

// GeneratePemKeypair creates an RSA keypair for a locally-authoritative
// actor. The public part is PKIX PEM, the shape remote servers expect in
// actor documents.
func GeneratePemKeypair() *RsaKeyPair {
	bitSize := 2048

	key, err := rsa.GenerateKey(rand.Reader, bitSize)
	if err != nil {
		panic(err)
	}

	keyPEM := pem.EncodeToMemory(
		&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(key),
		},
	)

	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		panic(err)
	}
	pubPEM := pem.EncodeToMemory(
		&pem.Block{
			Type:  "PUBLIC KEY",
			Bytes: pubBytes,
		},
	)

	return &RsaKeyPair{Private: string(keyPEM), Public: string(pubPEM)}
}

// Digest returns the SHA-256 digest header value for a request body.
func Digest(body []byte) string {
	hash := sha256.Sum256(body)
	return "SHA-256=" + base64.StdEncoding.EncodeToString(hash[:])
}

// HashKey returns a hex SHA-256 of s, used to key refresh locks.
func HashKey(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

// ExtractDomain extracts the host from an actor or object URI.
// Example: "https://kbin.social/u/alice" -> "kbin.social"
func ExtractDomain(uri string) (string, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("invalid URI: %w", err)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("URI has no host: %s", uri)
	}
	return parsed.Host, nil
}

// ParseHandle splits "user@domain" (with or without a leading @) into
// its parts.
func ParseHandle(handle string) (string, string, error) {
	handle = strings.TrimPrefix(handle, "@")
	parts := strings.SplitN(handle, "@", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid handle: %s", handle)
	}
	return parts[0], parts[1], nil
}

func PrettyPrint(i interface{}) string {
	s, _ := json.MarshalIndent(i, "", " ")
	return string(s)
}
