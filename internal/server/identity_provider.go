package server

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/OniT-Enterprises/meza/modules/iam/infrastructure/kratos"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

var errInvalidCredentials = errors.New("server: invalid credentials")

type authenticatedIdentity struct {
	IdPIdentityID string
	Email         string
	RoleSlug      string
}

type identityProvider interface {
	AuthenticatePassword(ctx context.Context, tenant Tenant, email string, password string) (authenticatedIdentity, error)
}

// newIdentityProviderFromEnv picks the credential backend. IDP_MODE=local
// verifies bcrypt hashes stored in iam.principal_credentials; anything else
// goes through Kratos.
func newIdentityProviderFromEnv(pool *pgxpool.Pool) (identityProvider, error) {
	mode := strings.ToLower(strings.TrimSpace(os.Getenv("IDP_MODE")))
	if mode == "local" {
		if pool == nil {
			return nil, errors.New("server: IDP_MODE=local requires a database")
		}
		return &localIdentityProvider{q: pool}, nil
	}
	return newKratosIdentityProviderFromEnv()
}

type kratosIdentityProvider struct {
	client *kratos.Client
}

func newKratosIdentityProviderFromEnv() (identityProvider, error) {
	publicURL := strings.TrimSpace(os.Getenv("KRATOS_PUBLIC_URL"))
	if publicURL == "" {
		publicURL = "http://127.0.0.1:4433"
	}
	c, err := kratos.New(publicURL)
	if err != nil {
		return nil, err
	}
	return &kratosIdentityProvider{client: c}, nil
}

func (p *kratosIdentityProvider) AuthenticatePassword(ctx context.Context, tenant Tenant, email string, password string) (authenticatedIdentity, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	identifier := tenant.ID + ":" + email

	ident, err := p.client.LoginPassword(ctx, identifier, password)
	if err != nil {
		var he *kratos.HTTPError
		if errors.As(err, &he) {
			switch he.StatusCode {
			case 400, 401, 403:
				return authenticatedIdentity{}, errInvalidCredentials
			}
		}
		return authenticatedIdentity{}, err
	}

	tenantTrait, ok := stringTrait(ident.Traits, "tenant_uuid")
	if !ok || tenantTrait != tenant.ID {
		return authenticatedIdentity{}, errors.New("server: identity tenant mismatch")
	}
	emailTrait, ok := stringTrait(ident.Traits, "email")
	if !ok || strings.ToLower(strings.TrimSpace(emailTrait)) != email {
		return authenticatedIdentity{}, errors.New("server: identity email mismatch")
	}
	if ident.ID == "" {
		return authenticatedIdentity{}, errors.New("server: identity missing id")
	}

	roleSlug, _ := stringTrait(ident.Traits, "role_slug")
	roleSlug = strings.ToLower(strings.TrimSpace(roleSlug))

	return authenticatedIdentity{
		IdPIdentityID: ident.ID,
		Email:         email,
		RoleSlug:      roleSlug,
	}, nil
}

func stringTrait(m map[string]any, key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	return s, true
}

type localIdentityProvider struct {
	q queryRower
}

func (p *localIdentityProvider) AuthenticatePassword(ctx context.Context, tenant Tenant, email string, password string) (authenticatedIdentity, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return authenticatedIdentity{}, errInvalidCredentials
	}

	var identityID string
	var roleSlug string
	var passwordHash []byte
	err := p.q.QueryRow(ctx, `
SELECT c.identity_id::text, c.role_slug, c.password_hash
FROM iam.principal_credentials c
WHERE c.tenant_id = $1 AND c.email = $2;
`, tenant.ID, email).Scan(&identityID, &roleSlug, &passwordHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return authenticatedIdentity{}, errInvalidCredentials
		}
		return authenticatedIdentity{}, err
	}

	if err := bcrypt.CompareHashAndPassword(passwordHash, []byte(password)); err != nil {
		return authenticatedIdentity{}, errInvalidCredentials
	}

	return authenticatedIdentity{
		IdPIdentityID: identityID,
		Email:         email,
		RoleSlug:      strings.ToLower(strings.TrimSpace(roleSlug)),
	}, nil
}
