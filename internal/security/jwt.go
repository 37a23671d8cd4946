package security

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken   = errors.New("missing access token")
	ErrInvalidToken   = errors.New("invalid access token")
	ErrInvalidSubject = errors.New("invalid token subject")
)

// Authenticator resolves the caller's user id from an access token.
// userHint is the id the client claims (X-User-ID, ?user_id=); a verifying
// implementation may ignore it or reject a mismatch.
type Authenticator interface {
	Authenticate(token, userHint string) (string, error)
}

type AccessClaims struct {
	jwt.RegisteredClaims
}

// Verifier checks RS256 access tokens issued by the auth service.
type Verifier struct {
	public *rsa.PublicKey
	parser *jwt.Parser
}

func NewVerifier(public *rsa.PublicKey, issuer, audience string, clockSkew time.Duration) *Verifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	return &Verifier{public: public, parser: jwt.NewParser(opts...)}
}

func (v *Verifier) ParseAndValidate(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	_, err := v.parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return v.public, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return claims, nil
}

// Authenticate returns sub. A non-empty hint must match it.
func (v *Verifier) Authenticate(token, userHint string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingToken
	}
	claims, err := v.ParseAndValidate(token)
	if err != nil {
		return "", err
	}
	sub := strings.TrimSpace(claims.Subject)
	if sub == "" {
		return "", ErrInvalidSubject
	}
	if userHint != "" && userHint != sub {
		return "", fmt.Errorf("%w: user id does not match token", ErrInvalidSubject)
	}
	return sub, nil
}

// HeaderTrust принимает любой непустой токен и верит заявленному user id.
// Только для окружений за доверенным gateway.
type HeaderTrust struct{}

func (HeaderTrust) Authenticate(token, userHint string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", ErrMissingToken
	}
	userHint = strings.TrimSpace(userHint)
	if userHint == "" || len(userHint) > 64 {
		return "", ErrInvalidSubject
	}
	return userHint, nil
}

// Signer выпускает токены в том же формате; нужен тестам и локальной отладке.
type Signer struct {
	private  *rsa.PrivateKey
	issuer   string
	audience string
	ttl      time.Duration
}

func NewSigner(private *rsa.PrivateKey, issuer, audience string, ttl time.Duration) *Signer {
	return &Signer{private: private, issuer: issuer, audience: audience, ttl: ttl}
}

func (s *Signer) SignAccessToken(userID string, now time.Time) (string, error) {
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.private)
}

func LoadRSAPublicKeyFromPEM(path string) (*rsa.PublicKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return jwt.ParseRSAPublicKeyFromPEM(b)
}
