package community

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	minHandleLen      = 3
	maxHandleLen      = 32
	maxDisplayNameLen = 80
	maxBioLen         = 2000
	maxHandleAttempts = 20
)

var handlePattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// EnsureProfile returns the caller's profile, creating it on first sign-in.
// The handle is derived from the e-mail local part and suffixed until unique.
func (m *Manager) EnsureProfile(ctx context.Context, id *Identity) (*Profile, error) {
	if err := requireUser(id); err != nil {
		return nil, err
	}

	p, err := m.content.GetProfile(ctx, id.UserID)
	if err == nil {
		return p, nil
	}
	if !isNotFound(err) {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	role := RoleWriter
	if id.Role == RoleAdmin {
		role = RoleAdmin
	}
	now := m.now()
	base := baseHandle(id.Email, id.UserID)
	for attempt := 0; attempt < maxHandleAttempts; attempt++ {
		handle := base
		if attempt > 0 {
			handle = fmt.Sprintf("%s-%d", truncate(base, maxHandleLen-4), attempt+1)
		}
		p = &Profile{
			ID:          id.UserID,
			Handle:      handle,
			DisplayName: handle,
			Email:       strings.ToLower(strings.TrimSpace(id.Email)),
			Role:        role,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		err = m.content.CreateProfile(ctx, p)
		if err == nil {
			m.logger.Info("profile created", Field{"user_id", p.ID}, Field{"handle", p.Handle})
			return p, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, fmt.Errorf("failed to create profile: %w", err)
		}
		// A concurrent first request may have created the profile
		if existing, getErr := m.content.GetProfile(ctx, id.UserID); getErr == nil {
			return existing, nil
		}
	}
	return nil, fmt.Errorf("%w: could not allocate a unique handle", ErrConflict)
}

// GetProfile retrieves a profile by user id
func (m *Manager) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	return m.content.GetProfile(ctx, userID)
}

// ProfileByHandle retrieves a profile for public display; the e-mail is cleared
func (m *Manager) ProfileByHandle(ctx context.Context, handle string) (*Profile, error) {
	p, err := m.content.GetProfileByHandle(ctx, strings.ToLower(strings.TrimSpace(handle)))
	if err != nil {
		return nil, err
	}
	public := *p
	public.Email = ""
	return &public, nil
}

// ProfileByEmail looks a profile up by e-mail
func (m *Manager) ProfileByEmail(ctx context.Context, email string) (*Profile, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, ErrNotFound
	}
	return m.content.GetProfileByEmail(ctx, email)
}

// UpdateProfile applies a patch to the caller's own profile
func (m *Manager) UpdateProfile(ctx context.Context, viewer *Identity, patch ProfilePatch) (*Profile, error) {
	if err := requireUser(viewer); err != nil {
		return nil, err
	}
	p, err := m.content.GetProfile(ctx, viewer.UserID)
	if err != nil {
		return nil, err
	}

	if patch.Handle != nil {
		handle := strings.ToLower(strings.TrimSpace(*patch.Handle))
		if err := validateHandle(handle); err != nil {
			return nil, err
		}
		p.Handle = handle
	}
	if patch.DisplayName != nil {
		name := strings.TrimSpace(*patch.DisplayName)
		if name == "" || utf8.RuneCountInString(name) > maxDisplayNameLen {
			return nil, invalid("display_name", fmt.Sprintf("must be 1-%d characters", maxDisplayNameLen))
		}
		p.DisplayName = name
	}
	if patch.Bio != nil {
		bio := strings.TrimSpace(*patch.Bio)
		if utf8.RuneCountInString(bio) > maxBioLen {
			return nil, invalid("bio", fmt.Sprintf("must be at most %d characters", maxBioLen))
		}
		p.Bio = bio
	}
	p.UpdatedAt = m.now()

	if err := m.content.UpdateProfile(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func validateHandle(handle string) error {
	if len(handle) < minHandleLen || len(handle) > maxHandleLen {
		return invalid("handle", fmt.Sprintf("must be %d-%d characters", minHandleLen, maxHandleLen))
	}
	if !handlePattern.MatchString(handle) {
		return invalid("handle", "may contain only a-z, 0-9, '_' and '-'")
	}
	return nil
}

func baseHandle(email, fallback string) string {
	local := email
	if i := strings.IndexByte(local, '@'); i >= 0 {
		local = local[:i]
	}
	handle := sanitizeHandle(local)
	if len(handle) < minHandleLen {
		handle = "writer-" + truncate(strings.ReplaceAll(sanitizeHandle(fallback), "-", ""), 8)
	}
	return truncate(handle, maxHandleLen)
}

func sanitizeHandle(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		case r == '.' || r == '+':
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
