// Package ocid validates Oracle Cloud Identifiers and formats certificate
// fingerprints used as part of a signing keyId.
package ocid

import (
	"crypto/sha256"
	"crypto/x509"
	"fmt"
	"regexp"
	"strings"
)

// Pattern is the OCID shape required of tenancy, user, and compartment
// identifiers: at least five dot/colon separated segments (four or more
// separators), the first and last of them non-empty.
var Pattern = regexp.MustCompile(`^([0-9a-zA-Z_-]+[.:])([0-9a-zA-Z_-]*[.:]){3,}([0-9a-zA-Z_-]+)$`)

// Valid reports whether s matches the OCID shape.
func Valid(s string) bool {
	return Pattern.MatchString(s)
}

// Fingerprint returns the colon-separated, lowercase hex SHA-256 fingerprint
// of a certificate, in the form OCI expects for a fed-x509 keyId.
func Fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return colonSeparated(sum[:])
}

func colonSeparated(sum []byte) string {
	spaced := fmt.Sprintf("% x", sum)
	return strings.ReplaceAll(spaced, " ", ":")
}

// ExtractTenancyID pulls the tenancy OCID out of a leaf certificate's subject,
// looking for an "opc-tenant:" attribute and falling back to "opc-identity:".
func ExtractTenancyID(cert *x509.Certificate) string {
	for _, name := range cert.Subject.Names {
		value, ok := name.Value.(string)
		if !ok {
			continue
		}
		if strings.HasPrefix(value, "opc-tenant:") {
			return strings.TrimPrefix(value, "opc-tenant:")
		}
	}
	for _, name := range cert.Subject.Names {
		value, ok := name.Value.(string)
		if !ok {
			continue
		}
		if strings.HasPrefix(value, "opc-identity:") {
			return strings.TrimPrefix(value, "opc-identity:")
		}
	}
	return ""
}
