package server

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/argon2"
)

const (
	argonTime    uint32 = 1
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 4
	argonKeyLen  uint32 = 32
	argonSaltLen        = 16
)

var ErrUnauthorized = errors.New("unauthorized")

// HashAPIKey encodes an operator API key as an Argon2id hash suitable for
// OPS_API_KEY_HASH.
func HashAPIKey(key string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	sum := argon2.IDKey([]byte(key), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	), nil
}

// VerifyAPIKey reports whether key matches an encoded Argon2id hash.
func VerifyAPIKey(key, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" || parts[2] != fmt.Sprintf("v=%d", argon2.Version) {
		return false
	}

	var memory, timeCost, threads uint64
	for _, param := range strings.Split(parts[3], ",") {
		name, raw, ok := strings.Cut(param, "=")
		if !ok {
			return false
		}
		var err error
		switch name {
		case "m":
			memory, err = strconv.ParseUint(raw, 10, 32)
		case "t":
			timeCost, err = strconv.ParseUint(raw, 10, 32)
		case "p":
			threads, err = strconv.ParseUint(raw, 10, 8)
		default:
			return false
		}
		if err != nil {
			return false
		}
	}
	if memory == 0 || timeCost == 0 || threads == 0 {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(want) == 0 {
		return false
	}

	got := argon2.IDKey([]byte(key), salt, uint32(timeCost), uint32(memory), uint8(threads), uint32(len(want)))
	return subtle.ConstantTimeCompare(want, got) == 1
}

// APIKeyRequired guards the operator API with a bearer key. An empty hash
// leaves the API open, which is only meant for local runs.
func APIKeyRequired(encodedHash string) gin.HandlerFunc {
	encodedHash = strings.TrimSpace(encodedHash)
	return func(c *gin.Context) {
		if encodedHash == "" {
			c.Next()
			return
		}

		scheme, key, ok := strings.Cut(strings.TrimSpace(c.GetHeader("Authorization")), " ")
		if !ok || scheme != "Bearer" || strings.TrimSpace(key) == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if !VerifyAPIKey(strings.TrimSpace(key), encodedHash) {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}
