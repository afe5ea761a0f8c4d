package cli

import (
	"context"
	"fmt"
	"os"
)

// EditProfile runs the interactive profile editor: show the current
// values, prompt for replacements (empty keeps the current value),
// optionally upload a new avatar, then save.
//
// The avatar upload and the record save are independent: a failed upload
// keeps the old avatar URL, and the user is asked whether to save the
// remaining changes anyway.
func (a *App) EditProfile(ctx context.Context) error {
	if !a.isLoggedIn() {
		return errNotLoggedIn
	}

	current, err := a.editor.Load(ctx)
	if err != nil {
		return err
	}
	printlnFn(fmt.Sprintf("Username:  %s", current.Username))
	printlnFn(fmt.Sprintf("Full name: %s", current.FullName))
	printlnFn(fmt.Sprintf("Avatar:    %s", current.AvatarURL))

	username, err := getSimpleText(a.reader, "New username (empty to keep)", os.Stdout)
	if err != nil {
		return err
	}
	if username != "" {
		a.editor.SetUsername(username)
	}

	fullName, err := getSimpleText(a.reader, "New full name (empty to keep)", os.Stdout)
	if err != nil {
		return err
	}
	if fullName != "" {
		a.editor.SetFullName(fullName)
	}

	avatarPath, err := getSimpleText(a.reader, "Avatar image path (empty to keep)", os.Stdout)
	if err != nil {
		return err
	}
	if avatarPath != "" {
		url, err := a.editor.UploadAvatar(ctx, avatarPath)
		if err != nil {
			printlnFn("Avatar upload failed:", err.Error())
			save, err := getConfirmation(a.reader, "Save profile anyway?", os.Stdout)
			if err != nil {
				return err
			}
			if !save {
				printlnFn("Profile not saved.")
				return nil
			}
		} else {
			printlnFn("Avatar uploaded:", url)
		}
	}

	if err := a.editor.Save(ctx); err != nil {
		return err
	}
	printlnFn("Profile saved.")

	// Keep the in-memory profile in step with what was just saved. A
	// fresh copy replaces the pointer so concurrent readers never see a
	// half-updated profile.
	draft := a.editor.Draft()
	a.mu.Lock()
	updated := *a.profile
	updated.Username = draft.Username
	updated.FullName = draft.FullName
	updated.AvatarURL = draft.AvatarURL
	a.profile = &updated
	a.mu.Unlock()
	return nil
}
