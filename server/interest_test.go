package main

import (
	"testing"
	"time"

	"github.com/meshchat/chat/server/store"
	"github.com/meshchat/chat/server/store/types"
)

// Watermarks and creation times are millisecond-rounded, so tests sleep
// between steps that must be ordered by "created strictly after".
func tick() {
	time.Sleep(2 * time.Millisecond)
}

func TestInterestAdd(t *testing.T) {
	owner := testUser(t, "int-add-owner")
	target := testUser(t, "int-add-target")
	conv := testConversation(t, owner.Id, "int-add", types.RoleMember)

	if _, err := interestAdd(types.Uid(0xabad1dea), target.Id, types.KindUser); err != errUserNotFound {
		t.Errorf("unknown owner should fail with errUserNotFound, got %v", err)
	}
	if _, err := interestAdd(owner.Id, types.Uid(0xabad1dea), types.KindUser); err != errUserNotFound {
		t.Errorf("unknown user target should fail with errUserNotFound, got %v", err)
	}
	if _, err := interestAdd(owner.Id, types.Uid(0xabad1dea), types.KindConversation); err != errConversationNotFound {
		t.Errorf("unknown conversation target should fail, got %v", err)
	}

	first, err := interestAdd(owner.Id, conv.Id, types.KindConversation)
	if err != nil {
		t.Fatalf("failed to add interest: %v", err)
	}
	second, err := interestAdd(owner.Id, conv.Id, types.KindConversation)
	if err != nil {
		t.Fatalf("duplicate add should not fail: %v", err)
	}
	if second.Id != first.Id {
		t.Error("duplicate add should return the existing interest")
	}

	if err = interestRemove(owner.Id, conv.Id); err != nil {
		t.Fatalf("failed to remove interest: %v", err)
	}
	if err = interestRemove(owner.Id, conv.Id); err != errInterestNotFound {
		t.Errorf("removing twice should fail with errInterestNotFound, got %v", err)
	}
}

func TestConversationInterestUnread(t *testing.T) {
	owner := testUser(t, "int-conv-owner")
	author := testUser(t, "int-conv-author")
	conv := testConversation(t, owner.Id, "int-conv", types.RoleMember)

	if _, err := interestAdd(owner.Id, conv.Id, types.KindConversation); err != nil {
		t.Fatal(err)
	}
	tick()

	for i := 0; i < 3; i++ {
		if _, err := newMessage(author.Id, conv.Id, "ping"); err != nil {
			t.Fatal(err)
		}
	}
	tick()

	reports, err := interestStatusAll(owner.Id)
	if err != nil {
		t.Fatal(err)
	}
	if len(reports) != 1 {
		t.Fatalf("expected one report, got %d", len(reports))
	}
	st := reports[0]
	if st.Kind != types.KindConversation || st.Name != "int-conv" {
		t.Errorf("wrong report identity: %v %q", st.Kind, st.Name)
	}
	if st.Unread != 3 {
		t.Errorf("expected 3 unread, got %d", st.Unread)
	}

	// The report advanced the watermark: everything is now read.
	tick()
	reports, err = interestStatusAll(owner.Id)
	if err != nil {
		t.Fatal(err)
	}
	if len(reports) != 1 || reports[0].Unread != 0 {
		t.Errorf("second check should report 0 unread, got %v", reports)
	}
}

func TestConversationInterestNoAccess(t *testing.T) {
	owner := testUser(t, "int-acc-owner")
	creator := testUser(t, "int-acc-creator")
	conv := testConversation(t, creator.Id, "int-acc", types.RoleMember)

	if _, err := interestAdd(owner.Id, conv.Id, types.KindConversation); err != nil {
		t.Fatal(err)
	}
	tick()

	if _, err := newMessage(creator.Id, conv.Id, "secret"); err != nil {
		t.Fatal(err)
	}
	tick()

	// The owner holds no role, so the subscription is silently skipped.
	reports, err := interestStatusAll(owner.Id)
	if err != nil {
		t.Fatal(err)
	}
	if len(reports) != 0 {
		t.Fatalf("no report expected without access, got %v", reports)
	}

	// The skip left the watermark alone, so joining later surfaces the
	// activity missed in between.
	if err = accessAddUser(creator.Id, owner.Id, conv.Id, types.RoleMember); err != nil {
		t.Fatal(err)
	}
	reports, err = interestStatusAll(owner.Id)
	if err != nil {
		t.Fatal(err)
	}
	if len(reports) != 1 || reports[0].Unread != 1 {
		t.Errorf("expected the missed message to be reported, got %v", reports)
	}
}

func TestUserInterestStatus(t *testing.T) {
	owner := testUser(t, "int-usr-owner")
	watched := testUser(t, "int-usr-watched")
	bystander := testUser(t, "int-usr-bystander")
	old := testConversation(t, watched.Id, "int-usr-old", types.RoleMember)

	if _, err := interestAdd(owner.Id, watched.Id, types.KindUser); err != nil {
		t.Fatal(err)
	}
	tick()

	// One conversation created after the watermark, two posted into. The
	// second post into the new conversation must not duplicate its title.
	fresh := testConversation(t, watched.Id, "int-usr-fresh", types.RoleMember)
	for _, conv := range []types.Uid{old.Id, fresh.Id, fresh.Id} {
		// Distinct timestamps keep first-post order deterministic.
		tick()
		if _, err := newMessage(watched.Id, conv, "hello"); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := newMessage(bystander.Id, old.Id, "noise"); err != nil {
		t.Fatal(err)
	}
	tick()

	reports, err := interestStatusAll(owner.Id)
	if err != nil {
		t.Fatal(err)
	}
	if len(reports) != 1 {
		t.Fatalf("expected one report, got %d", len(reports))
	}
	st := reports[0]
	if st.Kind != types.KindUser || st.Name != "int-usr-watched" {
		t.Errorf("wrong report identity: %v %q", st.Kind, st.Name)
	}
	if st.Unread != -1 {
		t.Errorf("user reports carry no unread count, got %d", st.Unread)
	}
	if len(st.NewConversations) != 1 || st.NewConversations[0] != "int-usr-fresh" {
		t.Errorf("created titles wrong: %v", st.NewConversations)
	}
	if len(st.ContributedConversations) != 2 ||
		st.ContributedConversations[0] != "int-usr-old" ||
		st.ContributedConversations[1] != "int-usr-fresh" {
		t.Errorf("contributed titles wrong: %v", st.ContributedConversations)
	}
}

func TestUserInterestRepeatedTitles(t *testing.T) {
	owner := testUser(t, "int-dup-owner")
	watched := testUser(t, "int-dup-watched")
	first := testConversation(t, watched.Id, "int-dup-title", types.RoleMember)
	second := testConversation(t, watched.Id, "int-dup-title", types.RoleMember)

	if _, err := interestAdd(owner.Id, watched.Id, types.KindUser); err != nil {
		t.Fatal(err)
	}
	tick()

	for _, conv := range []types.Uid{first.Id, second.Id} {
		tick()
		if _, err := newMessage(watched.Id, conv, "hello"); err != nil {
			t.Fatal(err)
		}
	}
	tick()

	reports, err := interestStatusAll(owner.Id)
	if err != nil {
		t.Fatal(err)
	}
	if len(reports) != 1 {
		t.Fatalf("expected one report, got %d", len(reports))
	}
	// Distinct conversations sharing a title collapse into one entry.
	st := reports[0]
	if len(st.ContributedConversations) != 1 || st.ContributedConversations[0] != "int-dup-title" {
		t.Errorf("contributed titles wrong: %v", st.ContributedConversations)
	}
}

func TestUserInterestQuietTarget(t *testing.T) {
	owner := testUser(t, "int-quiet-owner")
	watched := testUser(t, "int-quiet-watched")

	if _, err := interestAdd(owner.Id, watched.Id, types.KindUser); err != nil {
		t.Fatal(err)
	}
	tick()

	reports, err := interestStatusAll(owner.Id)
	if err != nil {
		t.Fatal(err)
	}
	if len(reports) != 1 {
		t.Fatalf("a quiet target still produces a report, got %d", len(reports))
	}
	st := reports[0]
	if st.NewConversations == nil || len(st.NewConversations) != 0 {
		t.Errorf("expected empty non-nil created list, got %#v", st.NewConversations)
	}
	if st.ContributedConversations == nil || len(st.ContributedConversations) != 0 {
		t.Errorf("expected empty non-nil contributed list, got %#v", st.ContributedConversations)
	}
}

func TestInterestWatermarkAdvancesOnlyOnReport(t *testing.T) {
	owner := testUser(t, "int-wm-owner")
	creator := testUser(t, "int-wm-creator")
	conv := testConversation(t, creator.Id, "int-wm", types.RoleMember)

	in, err := interestAdd(owner.Id, conv.Id, types.KindConversation)
	if err != nil {
		t.Fatal(err)
	}
	before := in.LastUpdate
	tick()

	if _, err = interestStatusAll(owner.Id); err != nil {
		t.Fatal(err)
	}
	after, err := store.Interests.Get(in.Id)
	if err != nil {
		t.Fatal(err)
	}
	if !after.LastUpdate.Equal(before) {
		t.Error("skipped subscription must keep its watermark")
	}

	if err = accessAddUser(creator.Id, owner.Id, conv.Id, types.RoleMember); err != nil {
		t.Fatal(err)
	}
	if _, err = interestStatusAll(owner.Id); err != nil {
		t.Fatal(err)
	}
	after, err = store.Interests.Get(in.Id)
	if err != nil {
		t.Fatal(err)
	}
	if !after.LastUpdate.After(before) {
		t.Error("reported subscription must advance its watermark")
	}
}
