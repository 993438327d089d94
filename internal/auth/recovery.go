// recovery.go -- Forgot-password flow.
//
//	RequestRecovery     phone            -> recovery_id   (code emailed)
//	VerifyRecoveryCode  recovery_id+code -> reset_token   (session consumed)
//	ConfirmReset        reset_token+pwd  -> user          (token consumed)
//
// Each step's secret is single use. Failures never say which part was wrong.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"

	"github.com/MGallo-Code/pomodoro/internal/normalize"
	"github.com/MGallo-Code/pomodoro/internal/store"
	"github.com/jackc/pgx/v5"
)

const (
	recoveryCodeMin = 100000
	recoveryCodeMax = 999999
)

// randomToken returns 32 random bytes, base64url encoded (43 chars).
func randomToken() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b[:]), nil
}

// randomCode returns a uniformly random 6-digit code.
func randomCode() (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(recoveryCodeMax-recoveryCodeMin+1))
	if err != nil {
		return 0, fmt.Errorf("generating recovery code: %w", err)
	}
	return recoveryCodeMin + int(n.Int64()), nil
}

// RequestRecovery starts password recovery for the account owning rawPhone.
// It returns a well-formed recovery id whether or not the phone belongs to a
// user with an email, and rate limits by phone before looking the user up.
func (s *Service) RequestRecovery(ctx context.Context, rawPhone string) (string, error) {
	phone, ok := normalize.Phone(rawPhone)
	if !ok {
		return "", validationError("invalid phone number")
	}
	if err := s.allow(ctx, "recovery:"+phone, s.Limits.Recovery); err != nil {
		return "", err
	}

	recoveryID, err := randomToken()
	if err != nil {
		return "", err
	}
	code, err := randomCode()
	if err != nil {
		return "", err
	}
	// Hash before the lookup so both paths pay for argon2.
	codeHash, err := HashPassword(strconv.Itoa(code))
	if err != nil {
		return "", err
	}

	user, err := s.Users.GetUserByPhone(ctx, phone)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("fetching user: %w", err)
	}
	if user == nil || !user.IsActive || user.Email == nil || *user.Email == "" {
		slog.Info("recovery requested for unknown or unreachable account")
		return recoveryID, nil
	}

	if err := s.Recovery.CreateRecoverySession(ctx, recoveryID, user.ID, codeHash, s.RecoveryCodeTTL); err != nil {
		return "", err
	}

	mailCtx, cancel := context.WithTimeout(ctx, s.ExternalTimeout)
	defer cancel()
	if err := s.Mailer.SendRecoveryCode(mailCtx, *user.Email, code, s.RecoveryCodeTTL); err != nil {
		return "", ErrUpstream.wrap(err)
	}
	slog.Info("recovery code sent", "user_id", user.ID)
	return recoveryID, nil
}

// VerifyRecoveryCode exchanges a correct code for a single-use reset token.
// A wrong code leaves the session intact until it expires or the per-session
// attempt limit locks it; a correct code consumes it.
func (s *Service) VerifyRecoveryCode(ctx context.Context, recoveryID string, code int) (string, error) {
	if recoveryID == "" {
		return "", ErrInvalidOrExpiredCode
	}
	if err := s.allow(ctx, "recovery_verify:"+recoveryID, s.Limits.RecoveryVerify); err != nil {
		return "", err
	}

	codeHash, err := s.Recovery.GetRecoveryCode(ctx, recoveryID)
	if errors.Is(err, store.ErrCacheMiss) {
		burnVerify(strconv.Itoa(code))
		return "", ErrInvalidOrExpiredCode
	}
	if err != nil {
		return "", err
	}

	match, err := VerifyPassword(strconv.Itoa(code), codeHash)
	if err != nil {
		return "", fmt.Errorf("verifying recovery code: %w", err)
	}
	if !match {
		slog.Warn("recovery code rejected", "reason", "mismatch")
		return "", ErrInvalidOrExpiredCode
	}

	resetToken, err := randomToken()
	if err != nil {
		return "", err
	}
	userID, err := s.Recovery.PromoteRecoverySession(ctx, recoveryID, codeHash, resetToken, s.ResetTokenTTL)
	if errors.Is(err, store.ErrCacheMiss) {
		// Consumed by a concurrent request between read and promote.
		return "", ErrInvalidOrExpiredCode
	}
	if err != nil {
		return "", err
	}
	slog.Info("recovery code verified", "user_id", userID)
	return resetToken, nil
}

// ConfirmReset sets a new password using a reset token.
// The password is checked against policy before the token is consumed, so a
// rejected password does not burn the token.
func (s *Service) ConfirmReset(ctx context.Context, resetToken, newPassword string) (*store.User, error) {
	if resetToken == "" {
		return nil, ErrInvalidResetToken
	}
	if failures := s.Policy.Validate(newPassword); len(failures) > 0 {
		return nil, validationError(failures...)
	}

	userID, err := s.Recovery.ConsumeResetToken(ctx, resetToken)
	if errors.Is(err, store.ErrCacheMiss) {
		return nil, ErrInvalidResetToken
	}
	if err != nil {
		return nil, err
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return nil, err
	}
	user, err := s.Users.UpdateUserPassword(ctx, userID, hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("updating password: %w", err)
	}
	slog.Info("password reset", "user_id", userID)
	return user, nil
}
