package services

import (
	"context"
	"fmt"
	"time"

	"github.com/saytro/saytro/internal/client/backend"
	"github.com/saytro/saytro/internal/client/models"
	"github.com/saytro/saytro/internal/filex"
)

// ProfileDraft holds the editable profile fields between Load and Save.
type ProfileDraft struct {
	Username  string
	FullName  string
	AvatarURL string
}

// ProfileService edits the signed-in user's profile record. Avatar upload
// and the record save are independent steps: a failed save leaves an
// already uploaded avatar in storage, and a failed upload leaves the
// record untouched.
type ProfileService struct {
	client backend.Client
	store  backend.AvatarStore
	userID string
	nowFn  func() time.Time

	draft ProfileDraft
}

func NewProfileService(client backend.Client, store backend.AvatarStore, userID string) *ProfileService {
	return &ProfileService{client: client, store: store, userID: userID, nowFn: time.Now}
}

// Load fetches the current profile and seeds the draft from it.
func (p *ProfileService) Load(ctx context.Context) (*models.Profile, error) {
	profile, err := p.client.Profile(ctx, p.userID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	p.draft = ProfileDraft{
		Username:  profile.Username,
		FullName:  profile.FullName,
		AvatarURL: profile.AvatarURL,
	}
	return profile, nil
}

// Draft returns the current draft.
func (p *ProfileService) Draft() ProfileDraft {
	return p.draft
}

// SetUsername updates the draft username.
func (p *ProfileService) SetUsername(username string) {
	p.draft.Username = username
}

// SetFullName updates the draft full name.
func (p *ProfileService) SetFullName(fullName string) {
	p.draft.FullName = fullName
}

// UploadAvatar reads the image at path and uploads it to the fixed
// per-user key, overwriting any prior avatar. The draft URL is only
// updated once the upload succeeded.
func (p *ProfileService) UploadAvatar(ctx context.Context, path string) (string, error) {
	data, ext, err := filex.ReadImageFile(path)
	if err != nil {
		return "", err
	}
	url, err := p.store.UploadAvatar(ctx, p.userID, ext, data)
	if err != nil {
		return "", fmt.Errorf("upload avatar: %w", err)
	}
	p.draft.AvatarURL = url
	return url, nil
}

// Save writes the draft back to the profile record.
func (p *ProfileService) Save(ctx context.Context) error {
	patch := models.ProfilePatch{
		Username:  p.draft.Username,
		FullName:  p.draft.FullName,
		AvatarURL: p.draft.AvatarURL,
		UpdatedAt: p.nowFn().UTC(),
	}
	if err := p.client.UpdateProfile(ctx, p.userID, patch); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}
