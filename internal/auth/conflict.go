package auth

import (
	"context"
	"fmt"
	"strings"
)

// ConflictField names a globally unique identity attribute.
type ConflictField string

const (
	FieldEmail          ConflictField = "email"
	FieldPhone          ConflictField = "phone"
	FieldUsername       ConflictField = "username"
	FieldSecondaryEmail ConflictField = "secondary_email"
	FieldSecondaryPhone ConflictField = "secondary_phone"
)

// ConflictQuery lists the candidate values; empty fields are skipped.
type ConflictQuery struct {
	Email         string
	Phone         string
	Username      string
	ExcludeUserID string
}

// CheckConflicts runs one existence query per supplied field in the order
// email, phone, username and reports only the first violation.
func CheckConflicts(ctx context.Context, store UserStore, q ConflictQuery) error {
	checks := []struct {
		field ConflictField
		value string
		label string
	}{
		{FieldEmail, q.Email, "email"},
		{FieldPhone, q.Phone, "phone number"},
		{FieldUsername, q.Username, "username"},
	}
	for _, c := range checks {
		if strings.TrimSpace(c.value) == "" {
			continue
		}
		exists, err := store.UserFieldExists(ctx, c.field, c.value, q.ExcludeUserID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %s is already in use", ErrConflict, c.label)
		}
	}
	return nil
}

// checkProfileConflicts validates secondary contacts against other profiles.
func checkProfileConflicts(ctx context.Context, store UserStore, p *ProfileInput, excludeUserID string) error {
	if p == nil {
		return nil
	}
	if p.SecondaryEmail != "" {
		exists, err := store.ProfileFieldExists(ctx, FieldSecondaryEmail, p.SecondaryEmail, excludeUserID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: secondary email is already in use", ErrConflict)
		}
	}
	if p.SecondaryPhone != "" {
		exists, err := store.ProfileFieldExists(ctx, FieldSecondaryPhone, p.SecondaryPhone, excludeUserID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: secondary phone is already in use", ErrConflict)
		}
	}
	return nil
}
