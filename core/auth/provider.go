package auth

import (
	"context"
	"errors"
	"strings"

	"condor-aog/config"
	"condor-aog/core/rbac"
	"condor-aog/core/store"
	"condor-aog/core/utils"
)

// ErrInvalidCredentials is returned for every login failure the caller may
// see. Unknown email and wrong password are deliberately indistinguishable.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Provider resolves the current user's identity and role and answers
// capability checks against the permission registry.
type Provider struct {
	users   store.UsersStore
	manager *SessionManager
	policy  *rbac.Policy
	cfg     *config.AppConfig
	audits  store.AuditStore
	logger  *utils.Logger
}

func NewProvider(users store.UsersStore, manager *SessionManager, policy *rbac.Policy, cfg *config.AppConfig, audits store.AuditStore, logger *utils.Logger) *Provider {
	return &Provider{users: users, manager: manager, policy: policy, cfg: cfg, audits: audits, logger: logger}
}

// Login verifies the email/password pair and establishes a session. The
// session role is fixed at creation; there is no privilege change until
// logout.
func (p *Provider) Login(ctx context.Context, cred Credentials, ip, userAgent string) (*Session, error) {
	email := strings.ToLower(strings.TrimSpace(cred.Email))
	if err := utils.ValidateEmail(email); err != nil {
		return nil, ErrInvalidCredentials
	}
	user, err := p.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.Active {
		p.audits.Log(ctx, email, "auth.login_failed", "user missing or inactive")
		return nil, ErrInvalidCredentials
	}
	ph, err := ParsePasswordHash(user.PasswordHash, user.Salt)
	if err != nil {
		p.audits.Log(ctx, email, "auth.login_failed", "credential record unusable")
		return nil, ErrInvalidCredentials
	}
	ok, err := VerifyPassword(cred.Password, p.cfg.Pepper, ph)
	if err != nil || !ok {
		p.audits.Log(ctx, email, "auth.login_failed", "invalid password")
		return nil, ErrInvalidCredentials
	}
	sess, err := p.manager.Create(ctx, user, ip, userAgent)
	if err != nil {
		if p.logger != nil {
			p.logger.Errorf("session create for %s: %v", email, err)
		}
		return nil, err
	}
	_ = p.users.TouchLastLogin(ctx, user.ID, utils.NowUTC())
	p.audits.Log(ctx, email, "auth.login_success", "")
	return sess, nil
}

// CurrentUser resolves the user behind a session id, or nil when the
// session is absent, expired, or the user is gone.
func (p *Provider) CurrentUser(ctx context.Context, sessionID string) (*store.User, error) {
	if sessionID == "" {
		return nil, nil
	}
	rec, err := p.manager.store.GetSession(ctx, sessionID)
	if err != nil || rec == nil {
		return nil, err
	}
	user, err := p.users.Get(ctx, rec.UserID)
	if err != nil || user == nil || !user.Active {
		return nil, err
	}
	return user, nil
}

// Session resolves the session record behind an id and slides its expiry
// forward. nil means absent or expired.
func (p *Provider) Session(ctx context.Context, sessionID string) (*store.SessionRecord, error) {
	if sessionID == "" {
		return nil, nil
	}
	rec, err := p.manager.store.GetSession(ctx, sessionID)
	if err != nil || rec == nil {
		return nil, err
	}
	if err := p.manager.Refresh(ctx, rec.ID); err != nil && p.logger != nil {
		p.logger.Warnf("session refresh %s: %v", rec.ID, err)
	}
	return rec, nil
}

// HasCapability never errors: an unauthenticated or unknown session simply
// holds no capabilities.
func (p *Provider) HasCapability(ctx context.Context, sessionID string, cap rbac.Capability) bool {
	user, err := p.CurrentUser(ctx, sessionID)
	if err != nil || user == nil {
		return false
	}
	return p.policy.Allowed(user.Role, cap)
}

func (p *Provider) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if rec, err := p.manager.store.GetSession(ctx, sessionID); err == nil && rec != nil {
		p.audits.Log(ctx, rec.Email, "auth.logout", "")
	}
	return p.manager.Delete(ctx, sessionID)
}
