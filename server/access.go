/******************************************************************************
 *
 *  Description :
 *    Access control for conversation membership: who may add, remove or
 *    re-rank whom. All privilege comparisons go through Role.Outranks.
 *
 *****************************************************************************/
package main

import (
	"errors"

	"github.com/meshchat/chat/server/store"
	t "github.com/meshchat/chat/server/store/types"
)

// Rejection reasons. Sent to clients verbatim, so keep them readable.
var (
	errConversationNotFound = errors.New("conversation does not exist")

	errSelfChange          = errors.New("can not change your own access")
	errChangeOutrankTarget = errors.New("you do not outrank the target user")
	errChangeOutrankLevel  = errors.New("you do not outrank the requested access level")

	errSelfAdd          = errors.New("can not add yourself")
	errAlreadyMember    = errors.New("user had already been added")
	errMemberAdd        = errors.New("can not add with member access type")
	errAddPermission    = errors.New("you do not have permission to add the user")
	errSelfRemove       = errors.New("can not remove yourself, leave the conversation instead")
	errNotInConvo       = errors.New("user does not exist in the conversation")
	errMemberRemove     = errors.New("can not remove with member access type")
	errRemovePermission = errors.New("you do not have permission to remove the user")
)

// accessChange re-ranks target within the conversation. The requester must
// outrank both the target's current role and the requested role. When
// creator handoff is enabled, the sole creator of a conversation may promote
// another member to creator; that is the only path which bypasses the
// outranking rules.
func accessChange(requester, target, conversation t.Uid, newRole t.Role) error {
	if requester == target {
		return errSelfChange
	}

	return store.Conversations.UpdatePermission(conversation, func(cp *t.ConversationPermission) error {
		if newRole == t.RoleCreator {
			if globals.allowCreatorHandoff && cp.Status(requester) == t.RoleCreator &&
				cp.CountRole(t.RoleCreator) == 1 {
				cp.ChangeAccess(target, newRole)
				return nil
			}
			// Nothing outranks creator, so the checks below always reject.
		}

		if !cp.Status(requester).Outranks(cp.Status(target)) {
			return errChangeOutrankTarget
		}
		if !cp.Status(requester).Outranks(newRole) {
			return errChangeOutrankLevel
		}

		cp.ChangeAccess(target, newRole)
		return nil
	})
}

// accessAddUser grants target a role in the conversation. RoleNotSet stands
// for "use the conversation's default" and is resolved before the
// outranking check.
func accessAddUser(requester, target, conversation t.Uid, role t.Role) error {
	if requester == target {
		return errSelfAdd
	}

	return store.Conversations.UpdatePermission(conversation, func(cp *t.ConversationPermission) error {
		if cp.ContainsUser(target) {
			return errAlreadyMember
		}
		if cp.Status(requester) == t.RoleMember {
			return errMemberAdd
		}
		if role == t.RoleNotSet {
			role = cp.DefaultAccess
		}
		if !cp.Status(requester).Outranks(role) {
			return errAddPermission
		}

		cp.ChangeAccess(target, role)
		return nil
	})
}

// accessRemoveUser evicts target from the conversation.
func accessRemoveUser(requester, target, conversation t.Uid) error {
	if requester == target {
		return errSelfRemove
	}

	return store.Conversations.UpdatePermission(conversation, func(cp *t.ConversationPermission) error {
		if !cp.ContainsUser(target) {
			return errNotInConvo
		}
		if cp.Status(requester) == t.RoleMember {
			return errMemberRemove
		}
		if !cp.Status(requester).Outranks(cp.Status(target)) {
			return errRemovePermission
		}

		cp.RemoveUser(target)
		return nil
	})
}

// accessLeave clears the caller's own role. Always permitted.
func accessLeave(user, conversation t.Uid) error {
	return store.Conversations.UpdatePermission(conversation, func(cp *t.ConversationPermission) error {
		cp.RemoveUser(user)
		return nil
	})
}

// accessRoleMap returns the conversation's member-to-role table.
func accessRoleMap(conversation t.Uid) (map[t.Uid]t.Role, error) {
	cp, err := store.Conversations.Permission(conversation)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, errConversationNotFound
	}
	return cp.Users, nil
}
