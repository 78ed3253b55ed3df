package license

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// CustomerIDPrefix is the billing provider's customer id prefix.
	CustomerIDPrefix = "cus_"
	keyPrefix        = "LIC-PRO-"
	suffixBytes      = 4
)

type KeyStatus int

const (
	KeyAbsent KeyStatus = iota
	KeyUnresolvable
	KeyResolved
)

func (s KeyStatus) String() string {
	switch s {
	case KeyAbsent:
		return "absent"
	case KeyUnresolvable:
		return "unresolvable"
	case KeyResolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// ParsedKey is the outcome of parsing a license key. CustomerID is only
// meaningful when Status is KeyResolved.
type ParsedKey struct {
	Status     KeyStatus
	CustomerID string
}

func (p ParsedKey) Resolved() (string, bool) {
	return p.CustomerID, p.Status == KeyResolved
}

// ParseKey extracts the customer id embedded in a license key without any
// lookup. A key resolves only when exactly one dash-separated segment looks
// like a customer id; older key formats have none.
func ParseKey(key string) ParsedKey {
	key = strings.TrimSpace(key)
	if key == "" {
		return ParsedKey{Status: KeyAbsent}
	}

	var found []string
	for _, segment := range strings.Split(key, "-") {
		if len(segment) > len(CustomerIDPrefix) && strings.HasPrefix(segment, CustomerIDPrefix) {
			found = append(found, segment)
		}
	}

	if len(found) != 1 {
		return ParsedKey{Status: KeyUnresolvable}
	}
	return ParsedKey{Status: KeyResolved, CustomerID: found[0]}
}

// NewKey builds LIC-PRO-<customerId>-<8 uppercase hex>.
func NewKey(customerID string) (string, error) {
	if !strings.HasPrefix(customerID, CustomerIDPrefix) || strings.Contains(customerID, "-") {
		return "", fmt.Errorf("license: customer id %q cannot be embedded in a key", customerID)
	}

	buf := make([]byte, suffixBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("license: generate key suffix: %w", err)
	}

	return keyPrefix + customerID + "-" + strings.ToUpper(hex.EncodeToString(buf)), nil
}
