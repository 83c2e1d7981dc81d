// Package sha256 derives stable cache keys for research requests.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/JakeFAU/company-research/internal/research"
)

// Digest returns the hex SHA-256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// RequestKey hashes the fields of a request that influence its report. User
// identity and tier are excluded so identical research is shared.
func RequestKey(req research.Request) string {
	req = req.Normalized()
	parts := []string{
		strings.ToLower(req.CompanyName),
		req.CompanyDomain,
		req.Depth,
		strconv.FormatBool(req.IncludeEmployeeReviews),
		strconv.FormatBool(req.IncludeFinancialData),
	}
	return Digest([]byte(strings.Join(parts, "\x1f")))
}

// CompanyKey hashes the company identity alone.
func CompanyKey(companyName, companyDomain string) string {
	req := research.Request{CompanyName: companyName, CompanyDomain: companyDomain}.Normalized()
	return Digest([]byte(strings.ToLower(req.CompanyName) + "\x1f" + req.CompanyDomain))
}
