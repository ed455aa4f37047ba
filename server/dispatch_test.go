package main

import (
	"bytes"
	"testing"

	"github.com/meshchat/chat/server/store/types"
	"github.com/meshchat/chat/server/wire"
)

// roundtrip encodes one request, runs it through the dispatcher and returns
// a reader over the response bytes.
func roundtrip(tb testing.TB, opcode int32, encode func(*bytes.Buffer)) *bytes.Buffer {
	tb.Helper()
	var req bytes.Buffer
	if err := wire.WriteInt32(&req, opcode); err != nil {
		tb.Fatal(err)
	}
	if encode != nil {
		encode(&req)
	}
	var resp bytes.Buffer
	dispatch(&req, &resp)
	return &resp
}

func expectOpcode(tb testing.TB, resp *bytes.Buffer, want int32) {
	tb.Helper()
	got, err := wire.ReadInt32(resp)
	if err != nil {
		tb.Fatalf("failed to read response opcode: %v", err)
	}
	if got != want {
		tb.Fatalf("response opcode = %d, want %d", got, want)
	}
}

func TestDispatchUnknownOpcode(t *testing.T) {
	resp := roundtrip(t, 9999, nil)
	expectOpcode(t, resp, wire.NoMessage)
	if resp.Len() != 0 {
		t.Error("NoMessage should be the entire response")
	}
}

func TestDispatchServerInfo(t *testing.T) {
	resp := roundtrip(t, wire.ServerInfoRequest, nil)
	expectOpcode(t, resp, wire.ServerInfoResponse)

	version, err := wire.ReadString(resp)
	if err != nil || version != currentVersion {
		t.Errorf("version = %q (%v), want %q", version, err, currentVersion)
	}
	serverId, err := wire.ReadUid(resp)
	if err != nil || serverId != globals.serverId {
		t.Errorf("server id = %v (%v), want %v", serverId, err, globals.serverId)
	}
}

func TestDispatchConversationLifecycle(t *testing.T) {
	// Create a user over the wire.
	resp := roundtrip(t, wire.NewUserRequest, func(b *bytes.Buffer) {
		wire.WriteString(b, "disp-alice")
	})
	expectOpcode(t, resp, wire.NewUserResponse)
	present, err := wire.ReadPresence(resp)
	if err != nil || !present {
		t.Fatalf("new user should be present: %v, %v", present, err)
	}
	alice, err := wire.ReadUser(resp)
	if err != nil {
		t.Fatal(err)
	}
	if alice.Name != "disp-alice" || alice.Id.IsZero() {
		t.Fatalf("bad user: %+v", alice)
	}

	// Create a conversation.
	resp = roundtrip(t, wire.NewConversationRequest, func(b *bytes.Buffer) {
		wire.WriteString(b, "disp-room")
		wire.WriteUid(b, alice.Id)
		wire.WriteRole(b, types.RoleMember)
	})
	expectOpcode(t, resp, wire.NewConversationResponse)
	if present, _ = wire.ReadPresence(resp); !present {
		t.Fatal("new conversation should be present")
	}
	room, err := wire.ReadConversationHeader(resp)
	if err != nil {
		t.Fatal(err)
	}
	if room.Creator != alice.Id || room.Title != "disp-room" {
		t.Fatalf("bad conversation: %+v", room)
	}

	// Post a message.
	resp = roundtrip(t, wire.NewMessageRequest, func(b *bytes.Buffer) {
		wire.WriteUid(b, alice.Id)
		wire.WriteUid(b, room.Id)
		wire.WriteString(b, "hello over the wire")
	})
	expectOpcode(t, resp, wire.NewMessageResponse)
	if present, _ = wire.ReadPresence(resp); !present {
		t.Fatal("new message should be present")
	}
	msg, err := wire.ReadMessage(resp)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Author != alice.Id || msg.Conversation != room.Id || msg.Content != "hello over the wire" {
		t.Fatalf("bad message: %+v", msg)
	}

	// Fetch it back by id; an unknown id in the list is dropped silently.
	resp = roundtrip(t, wire.GetMessagesByIdRequest, func(b *bytes.Buffer) {
		wire.WriteUidList(b, []types.Uid{msg.Id, 0xabad1dea})
	})
	expectOpcode(t, resp, wire.GetMessagesByIdResponse)
	count, err := wire.ReadCount(resp)
	if err != nil || count != 1 {
		t.Fatalf("count = %d (%v), want 1", count, err)
	}
	fetched, err := wire.ReadMessage(resp)
	if err != nil || fetched.Id != msg.Id {
		t.Errorf("fetched %+v (%v), want id %v", fetched, err, msg.Id)
	}
}

func TestDispatchRejectedMessageIsAbsent(t *testing.T) {
	resp := roundtrip(t, wire.NewMessageRequest, func(b *bytes.Buffer) {
		wire.WriteUid(b, 0xabad1dea)
		wire.WriteUid(b, 0xabad1dea)
		wire.WriteString(b, "into the void")
	})
	expectOpcode(t, resp, wire.NewMessageResponse)
	present, err := wire.ReadPresence(resp)
	if err != nil {
		t.Fatal(err)
	}
	if present {
		t.Error("message from an unknown author should be absent")
	}
	if resp.Len() != 0 {
		t.Error("absent message should end the response")
	}
}

func TestDispatchMembership(t *testing.T) {
	creator := testUser(t, "disp-creator")
	member := testUser(t, "disp-member")
	conv := testConversation(t, creator.Id, "disp-members", types.RoleMember)

	resp := roundtrip(t, wire.AddUserRequest, func(b *bytes.Buffer) {
		wire.WriteUid(b, creator.Id)
		wire.WriteUid(b, member.Id)
		wire.WriteUid(b, conv.Id)
		wire.WriteRole(b, types.RoleNotSet)
	})
	expectOpcode(t, resp, wire.AddUserResponse)
	reply, err := wire.ReadString(resp)
	if err != nil || reply != "user added successfully" {
		t.Errorf("reply = %q (%v)", reply, err)
	}

	// A member promoting the creator lacks the privilege; the reason comes
	// back verbatim.
	resp = roundtrip(t, wire.ChangePrivilegeRequest, func(b *bytes.Buffer) {
		wire.WriteUid(b, member.Id)
		wire.WriteUid(b, creator.Id)
		wire.WriteUid(b, conv.Id)
		wire.WriteRole(b, types.RoleMember)
	})
	expectOpcode(t, resp, wire.InsufficientPrivilegesResponse)
	reason, err := wire.ReadString(resp)
	if err != nil || reason != errChangeOutrankTarget.Error() {
		t.Errorf("reason = %q (%v)", reason, err)
	}

	resp = roundtrip(t, wire.ChangePrivilegeRequest, func(b *bytes.Buffer) {
		wire.WriteUid(b, creator.Id)
		wire.WriteUid(b, member.Id)
		wire.WriteUid(b, conv.Id)
		wire.WriteRole(b, types.RoleOwner)
	})
	expectOpcode(t, resp, wire.SufficientPrivilegesResponse)

	resp = roundtrip(t, wire.GetConversationPermissionRequest, func(b *bytes.Buffer) {
		wire.WriteUid(b, conv.Id)
	})
	expectOpcode(t, resp, wire.GetConversationPermissionResponse)
	users, err := wire.ReadRoleMap(resp)
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 2 || users[creator.Id] != types.RoleCreator || users[member.Id] != types.RoleOwner {
		t.Errorf("role map wrong: %v", users)
	}

	resp = roundtrip(t, wire.LeaveConversationRequest, func(b *bytes.Buffer) {
		wire.WriteUid(b, member.Id)
		wire.WriteUid(b, conv.Id)
	})
	expectOpcode(t, resp, wire.LeaveConversationResponse)
	if got := testRole(t, conv.Id, member.Id); got != types.RoleNotSet {
		t.Errorf("member should be gone after leaving, got %v", got)
	}
}

func TestDispatchRemoveConversation(t *testing.T) {
	creator := testUser(t, "disp-rm-creator")
	conv := testConversation(t, creator.Id, "disp-rm", types.RoleMember)

	resp := roundtrip(t, wire.RemoveConversationRequest, func(b *bytes.Buffer) {
		wire.WriteUid(b, conv.Id)
	})
	expectOpcode(t, resp, wire.RemoveConversationResponse)

	resp = roundtrip(t, wire.GetConversationHeaderByIdRequest, func(b *bytes.Buffer) {
		wire.WriteUid(b, conv.Id)
	})
	expectOpcode(t, resp, wire.GetConversationHeaderByIdResponse)
	present, err := wire.ReadPresence(resp)
	if err != nil {
		t.Fatal(err)
	}
	if present {
		t.Error("removed conversation should be absent")
	}
}
