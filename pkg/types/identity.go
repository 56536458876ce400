package types

import "time"

// Role represents the authorization role a caller presents
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleAuditor  Role = "auditor"
	RoleUser     Role = "user"
)

// Identity is the authenticated caller extracted from a verified bearer token
type Identity struct {
	UserID          string   `json:"user_id"`
	Username        string   `json:"username"`
	Role            Role     `json:"role"`
	OrgID           string   `json:"org_id"`
	MSPID           string   `json:"msp_id,omitempty"`
	CertFingerprint string   `json:"cert_fingerprint,omitempty"`
	Permissions     []string `json:"permissions,omitempty"`
}

// IsAdmin reports whether the identity carries the admin role
func (i *Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// HasCertificate reports whether the identity carries an enrollment
// certificate binding (MSP membership plus certificate fingerprint)
func (i *Identity) HasCertificate() bool {
	return i.MSPID != "" && i.CertFingerprint != ""
}

// AuthToken is the credential pair returned by the identity provider.
// The gateway never stores it; tokens are validated per request.
type AuthToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in"`
	IssuedAt     time.Time `json:"issued_at"`
}
