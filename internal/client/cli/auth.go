package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/saytro/saytro/internal/client/models"
	"github.com/saytro/saytro/internal/client/services"
	"github.com/saytro/saytro/internal/common"
)

// getSimpleText, getPassword and getConfirmation are indirections used to
// facilitate testing. They point to interactive input helpers and can be
// swapped in tests.
var getSimpleText = GetSimpleText
var getPassword = GetPassword
var getConfirmation = GetConfirmation

// Register prompts for an email, username, full name and password and
// creates the account. The backend creates the profile record from the
// sign-up metadata; a confirmation step may still be required before the
// first login succeeds.
func (a *App) Register(ctx context.Context) error {
	email, err := getSimpleText(a.reader, "Enter email", os.Stdout)
	if err != nil {
		return err
	}
	username, err := getSimpleText(a.reader, "Enter username", os.Stdout)
	if err != nil {
		return err
	}
	fullName, err := getSimpleText(a.reader, "Enter full name", os.Stdout)
	if err != nil {
		return err
	}

	password, err := getPassword(os.Stdout)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	seed := models.ProfileSeed{Username: username, FullName: fullName}
	if err := a.session.SignUp(ctx, email, string(password), seed); err != nil {
		return err
	}

	printlnFn("Account created. You can log in now.")
	return nil
}

// Login prompts for credentials, authenticates, and brings the chat
// services up for the signed-in user.
func (a *App) Login(ctx context.Context) error {
	if a.isLoggedIn() {
		printlnFn("Already logged in.")
		return nil
	}

	email, err := getSimpleText(a.reader, "Enter email", os.Stdout)
	if err != nil {
		return err
	}
	password, err := getPassword(os.Stdout)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	if err := a.session.SignIn(ctx, email, string(password)); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	p, err := a.bootstrap(ctx)
	if err != nil {
		if errors.Is(err, services.ErrSignedOut) {
			return fmt.Errorf("login did not produce a session")
		}
		// The session is live; the profile load failed. Let the user retry
		// instead of signing out.
		return fmt.Errorf("profile load failed, try again: %w", err)
	}

	printlnFn(fmt.Sprintf("Welcome, %s!", p.DisplayName()))
	return nil
}

// Logout asks for confirmation and, if given, flips the user offline and
// signs out. Declining keeps the session exactly as it was.
func (a *App) Logout(ctx context.Context) error {
	if !a.isLoggedIn() {
		printlnFn("Not logged in.")
		return nil
	}

	a.session.BeginLogout()
	confirmed, err := getConfirmation(a.reader, "Log out?", os.Stdout)
	if err != nil || !confirmed {
		a.session.CancelLogout()
		return err
	}

	a.session.ConfirmLogout(ctx)
	return nil
}
