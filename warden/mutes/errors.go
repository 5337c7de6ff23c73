package mutes

import "errors"

var (
	// ErrHierarchy is returned when the acting moderator is not above the
	// target in the role hierarchy.
	ErrHierarchy = errors.New("you are not higher than the user in the role hierarchy")

	// ErrRoleHierarchy is returned when the acting moderator is not above the
	// configured mute role itself.
	ErrRoleHierarchy = errors.New("you are not higher than the mute role in the role hierarchy")

	// ErrAdministrator is returned for targets holding the Administrator
	// permission, which makes any mute ineffective.
	ErrAdministrator = errors.New("that user cannot be (un)muted, as they have the Administrator permission")

	// ErrPermissions is returned when the bot lacks the capability or rank
	// required to apply or lift the restriction.
	ErrPermissions = errors.New("missing permissions to manage the mute")

	// ErrAlreadyMuted and ErrAlreadyUnmuted report calls that would not
	// change the current state.
	ErrAlreadyMuted   = errors.New("that user is already muted")
	ErrAlreadyUnmuted = errors.New("that user is not muted")

	// ErrRoleMissing is returned when the configured mute role was deleted
	// out from under us.
	ErrRoleMissing = errors.New("the mute role no longer exists")

	// ErrTargetGone is returned when the target user has left the guild.
	ErrTargetGone = errors.New("the user has left the server")

	// ErrExternalAPI wraps failures from the platform that do not map to a
	// more specific condition.
	ErrExternalAPI = errors.New("discord request failed")
)
