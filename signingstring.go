package iamauth

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// signingHeaders holds the values of every header the canonical signing
// string may reference, already computed for the request at hand.
type signingHeaders struct {
	requestTarget string // "post /V2/nosql/data"
	host          string
	date          string
	contentLength string
	contentType   string
	contentSHA256 string
	delegation    string
}

// buildSigningString renders the canonical signing string and the ordered
// list of header names it covers, per the fixed layout: request-target,
// host, date, then the optional content block, then the optional
// delegation-token block.
func buildSigningString(h signingHeaders, needsContentSigned bool) (signingString string, headerNames []string) {
	var lines []string
	var names []string

	lines = append(lines, "(request-target): "+h.requestTarget)
	names = append(names, "(request-target)")

	lines = append(lines, "host: "+h.host)
	names = append(names, "host")

	lines = append(lines, "date: "+h.date)
	names = append(names, "date")

	if needsContentSigned {
		lines = append(lines, "content-length: "+h.contentLength)
		names = append(names, "content-length")
		lines = append(lines, "content-type: "+h.contentType)
		names = append(names, "content-type")
		lines = append(lines, "x-content-sha256: "+h.contentSHA256)
		names = append(names, "x-content-sha256")
	}

	if h.delegation != "" {
		lines = append(lines, "opc-obo-token: "+h.delegation)
		names = append(names, "opc-obo-token")
	}

	return strings.Join(lines, "\n"), names
}

// signWithRSA signs the SHA-256 hash of signingString with key using PKCS#1 v1.5 /
// rsa-sha256, the only algorithm the Authorization header format supports.
func signWithRSA(key *rsa.PrivateKey, signingString string) ([]byte, error) {
	sum := sha256.Sum256([]byte(signingString))
	signature, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, sum[:])
	if err != nil {
		return nil, wrapCryptographicError(err)
	}
	return signature, nil
}

// buildAuthorizationHeader renders the Signature-scheme Authorization header
// value. headerNames must list the same names, in the same order, used to
// build signingString.
func buildAuthorizationHeader(keyID string, headerNames []string, signature []byte) string {
	return fmt.Sprintf(
		`Signature headers="%s",keyId="%s",algorithm="rsa-sha256",signature="%s",version="1"`,
		strings.Join(headerNames, " "), keyID, base64.StdEncoding.EncodeToString(signature),
	)
}

// rfc1123UTC formats t the way the signing string and Date header require:
// RFC1123 with a "GMT" zone label instead of Go's default "UTC".
func rfc1123UTC(t time.Time) string {
	return strings.Replace(t.UTC().Format(time.RFC1123), "UTC", "GMT", 1)
}

// contentSHA256Base64 returns base64(SHA-256(body)), for the
// x-content-sha256 signing-string line and request header.
func contentSHA256Base64(body []byte) string {
	sum := sha256.Sum256(body)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// requestTargetOf lowercases the method and combines it with the URL path,
// per the "post /<data-path>" signing-string convention.
func requestTargetOf(req *http.Request) string {
	return strings.ToLower(req.Method) + " " + req.URL.Path
}

func contentLengthOf(body []byte) string {
	return strconv.Itoa(len(body))
}

// requestMethodOf and requestPathOf split a "method path" requestTarget
// string, the inverse of requestTargetOf, used to rebuild a request for the
// background refresh task which has no live *http.Request to work from.
func requestMethodOf(requestTarget string) string {
	method, _, _ := strings.Cut(requestTarget, " ")
	return strings.ToUpper(method)
}

func requestPathOf(requestTarget string) string {
	_, path, _ := strings.Cut(requestTarget, " ")
	return path
}
