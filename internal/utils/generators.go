package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// GenerateBarcode draws a numeric barcode uniformly from [min, max]. With
// the default range 100000-999999 the result is always six digits.
func GenerateBarcode(min, max int) string {
	span := big.NewInt(int64(max - min + 1))
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		// Fallback keeps the six-digit shape if the entropy source fails
		return strconv.Itoa(min + int(time.Now().UnixNano())%(max-min+1))
	}
	return strconv.Itoa(min + int(n.Int64()))
}

// GenerateSessionID creates an opaque session id for clients that did not
// supply one, so every ledger row still carries a correlatable source.
func GenerateSessionID() string {
	return fmt.Sprintf("scan-%s", uuid.New().String())
}
