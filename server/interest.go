/******************************************************************************
 *
 *  Description :
 *    The interest engine: subscriptions to user or conversation activity
 *    and the "what changed since last checked" reports.
 *
 *****************************************************************************/
package main

import (
	"errors"

	"github.com/meshchat/chat/server/logs"
	"github.com/meshchat/chat/server/store"
	t "github.com/meshchat/chat/server/store/types"
)

var (
	errUserNotFound     = errors.New("user does not exist")
	errInterestNotFound = errors.New("interest does not exist")
)

// interestAdd subscribes owner to the activity of target. Adding the same
// target twice returns the existing subscription unchanged.
func interestAdd(owner, target t.Uid, kind t.InterestKind) (*t.Interest, error) {
	if user, err := store.Users.Get(owner); err != nil {
		return nil, err
	} else if user == nil {
		return nil, errUserNotFound
	}

	switch kind {
	case t.KindUser:
		if user, err := store.Users.Get(target); err != nil {
			return nil, err
		} else if user == nil {
			return nil, errUserNotFound
		}
	case t.KindConversation:
		if conv, err := store.Conversations.Get(target); err != nil {
			return nil, err
		} else if conv == nil {
			return nil, errConversationNotFound
		}
	default:
		return nil, errors.New("invalid interest kind")
	}

	if existing, err := store.Interests.Find(owner, target); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	return store.Interests.Create(owner, target, kind)
}

// interestRemove drops owner's subscription to target.
func interestRemove(owner, target t.Uid) error {
	in, err := store.Interests.Find(owner, target)
	if err != nil {
		return err
	}
	if in == nil {
		return errInterestNotFound
	}
	return store.Interests.Delete(in.Id)
}

// interestStatusAll computes one report per subscription of the owner and
// advances the watermark of every subscription that produced one. A
// conversation subscription the owner is no longer allowed to see is
// skipped and its watermark is left alone, so access regained later reports
// the activity missed in between.
func interestStatusAll(owner t.Uid) ([]t.InterestStatus, error) {
	interests, err := store.Interests.ByOwner(owner)
	if err != nil {
		return nil, err
	}

	now := t.TimeNow()
	reports := make([]t.InterestStatus, 0, len(interests))
	for i := range interests {
		in := &interests[i]
		st, err := processInterest(in, owner)
		if err != nil {
			return nil, err
		}
		if st == nil {
			continue
		}
		if err := store.Interests.SetWatermark(in.Id, now); err != nil {
			return nil, err
		}
		reports = append(reports, *st)
	}
	return reports, nil
}

func processInterest(in *t.Interest, owner t.Uid) (*t.InterestStatus, error) {
	switch in.Kind {
	case t.KindUser:
		return userInterestStatus(in)
	case t.KindConversation:
		return conversationInterestStatus(in, owner)
	}
	logs.Warning.Printf("interest %s has unknown kind %d", in.Id, in.Kind)
	return nil, nil
}

// userInterestStatus reports the titles of conversations the watched user
// created since the watermark and, separately, the titles of conversations
// the watched user posted into, in first-post order without duplicates.
// No access check: user activity is public.
func userInterestStatus(in *t.Interest) (*t.InterestStatus, error) {
	user, err := store.Users.Get(in.Target)
	if err != nil {
		return nil, err
	}
	if user == nil {
		logs.Warning.Printf("interest %s watches missing user %s", in.Id, in.Target)
		return nil, nil
	}

	headers, err := store.Conversations.CreatedBy(in.Target, in.LastUpdate)
	if err != nil {
		return nil, err
	}
	created := make([]string, 0, len(headers))
	for _, h := range headers {
		created = append(created, h.Title)
	}

	msgs, err := store.Messages.CreatedAfter(in.LastUpdate)
	if err != nil {
		return nil, err
	}
	// De-duplicated by title, not conversation id: two conversations sharing
	// a title produce one entry.
	contributed := make([]string, 0)
	seen := make(map[string]bool)
	for _, m := range msgs {
		if m.Author != in.Target {
			continue
		}
		header, err := store.Conversations.Get(m.Conversation)
		if err != nil {
			return nil, err
		}
		if header == nil {
			// Conversation removed after the message was indexed.
			continue
		}
		if seen[header.Title] {
			continue
		}
		seen[header.Title] = true
		contributed = append(contributed, header.Title)
	}

	return &t.InterestStatus{
		Id:                       in.Id,
		Unread:                   -1,
		NewConversations:         created,
		ContributedConversations: contributed,
		Kind:                     t.KindUser,
		Name:                     user.Name,
	}, nil
}

// conversationInterestStatus counts messages newer than the watermark by
// walking the chain backwards from the tail. Returns nil without touching
// the watermark when the owner holds no access to the conversation.
func conversationInterestStatus(in *t.Interest, owner t.Uid) (*t.InterestStatus, error) {
	cp, err := store.Conversations.Permission(in.Target)
	if err != nil {
		return nil, err
	}
	if cp == nil || cp.Status(owner) == t.RoleNotSet {
		return nil, nil
	}

	header, err := store.Conversations.Get(in.Target)
	if err != nil {
		return nil, err
	}
	payload, err := store.Conversations.Payload(in.Target)
	if err != nil {
		return nil, err
	}
	if header == nil || payload == nil {
		return nil, nil
	}

	var unread int
	for at := payload.LastMessage; !at.IsZero(); {
		msg, err := store.Messages.Get(at)
		if err != nil {
			return nil, err
		}
		if msg == nil || !msg.CreatedAt.After(in.LastUpdate) {
			break
		}
		unread++
		at = msg.Previous
	}

	return &t.InterestStatus{
		Id:     in.Id,
		Unread: unread,
		Kind:   t.KindConversation,
		Name:   header.Title,
	}, nil
}
