/******************************************************************************
 *
 *  Description :
 *    Maps request opcodes to handlers. Each handler decodes its argument
 *    sequence, calls into the store or an engine, and encodes one response.
 *    The same dispatcher serves the TCP listener and the websocket handler.
 *
 *****************************************************************************/
package main

import (
	"io"

	"github.com/meshchat/chat/server/logs"
	"github.com/meshchat/chat/server/store"
	t "github.com/meshchat/chat/server/store/types"
	"github.com/meshchat/chat/server/wire"
)

type commandHandler func(in io.Reader, out io.Writer) error

var commands map[int32]commandHandler

func dispatchInit() {
	commands = map[int32]commandHandler{
		wire.ServerInfoRequest:                handleServerInfo,
		wire.NewMessageRequest:                handleNewMessage,
		wire.NewUserRequest:                   handleNewUser,
		wire.NewConversationRequest:           handleNewConversation,
		wire.RemoveConversationRequest:        handleRemoveConversation,
		wire.GetUsersRequest:                  handleGetUsers,
		wire.GetAllConversationsRequest:       handleGetAllConversations,
		wire.GetConversationsByIdRequest:      handleGetConversationsById,
		wire.GetUserByIdRequest:               handleGetUserById,
		wire.GetConversationHeaderByIdRequest: handleGetConversationHeaderById,
		wire.GetMessagesByIdRequest:           handleGetMessagesById,
		wire.NewInterestRequest:               handleNewInterest,
		wire.RemoveInterestRequest:            handleRemoveInterest,
		wire.InterestStatusRequest:            handleInterestStatus,
		wire.ChangePrivilegeRequest:           handleChangePrivilege,
		wire.AddUserRequest:                   handleAddUser,
		wire.RemoveUserRequest:                handleRemoveUser,
		wire.LeaveConversationRequest:         handleLeaveConversation,
		wire.GetConversationPermissionRequest: handleGetConversationPermission,
	}
}

// dispatch handles exactly one request: reads the opcode, runs the matching
// handler. An unknown opcode gets the NoMessage response and the server
// moves on.
func dispatch(in io.Reader, out io.Writer) {
	opcode, err := wire.ReadInt32(in)
	if err != nil {
		logs.Warning.Println("dispatch: failed to read opcode:", err)
		statsInc("RequestsFailed", 1)
		return
	}

	handler := commands[opcode]
	if handler == nil {
		logs.Info.Printf("dispatch: unknown opcode %d", opcode)
		if err = wire.WriteInt32(out, wire.NoMessage); err != nil {
			logs.Warning.Println("dispatch: failed to respond:", err)
		}
		statsInc("RequestsUnknown", 1)
		return
	}

	if err = handler(in, out); err != nil {
		logs.Warning.Printf("dispatch: opcode %d failed: %s", opcode, err)
		statsInc("RequestsFailed", 1)
		return
	}
	statsInc("RequestsOk", 1)
}

func handleServerInfo(in io.Reader, out io.Writer) error {
	if err := wire.WriteInt32(out, wire.ServerInfoResponse); err != nil {
		return err
	}
	if err := wire.WriteString(out, currentVersion); err != nil {
		return err
	}
	return wire.WriteUid(out, globals.serverId)
}

func handleNewMessage(in io.Reader, out io.Writer) error {
	author, err := wire.ReadUid(in)
	if err != nil {
		return err
	}
	conversation, err := wire.ReadUid(in)
	if err != nil {
		return err
	}
	content, err := wire.ReadString(in)
	if err != nil {
		return err
	}

	globals.modelLock.Lock()
	msg, err := newMessage(author, conversation, content)
	globals.modelLock.Unlock()
	if err != nil {
		logs.Warning.Println("dispatch: new message rejected:", err)
	}

	if err := wire.WriteInt32(out, wire.NewMessageResponse); err != nil {
		return err
	}
	if err := wire.WritePresence(out, msg != nil); err != nil {
		return err
	}
	if msg == nil {
		return nil
	}
	if err := wire.WriteMessage(out, msg); err != nil {
		return err
	}

	if globals.relay != nil {
		globals.relay.scheduleSend(author, conversation, msg.Id)
	}
	return nil
}

// newMessage validates the author and the conversation, then appends.
// Caller holds the model lock.
func newMessage(author, conversation t.Uid, content string) (*t.Message, error) {
	user, err := store.Users.Get(author)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errUserNotFound
	}
	conv, err := store.Conversations.Get(conversation)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, errConversationNotFound
	}
	return store.Messages.Save(author, conversation, content)
}

func handleNewUser(in io.Reader, out io.Writer) error {
	name, err := wire.ReadString(in)
	if err != nil {
		return err
	}

	globals.modelLock.Lock()
	user, err := store.Users.Create(name)
	globals.modelLock.Unlock()
	if err != nil {
		logs.Warning.Println("dispatch: new user rejected:", err)
	}

	if err := wire.WriteInt32(out, wire.NewUserResponse); err != nil {
		return err
	}
	if err := wire.WritePresence(out, user != nil); err != nil {
		return err
	}
	if user == nil {
		return nil
	}
	return wire.WriteUser(out, user)
}

func handleNewConversation(in io.Reader, out io.Writer) error {
	title, err := wire.ReadString(in)
	if err != nil {
		return err
	}
	creator, err := wire.ReadUid(in)
	if err != nil {
		return err
	}
	defaultAccess, err := wire.ReadRole(in)
	if err != nil {
		return err
	}

	globals.modelLock.Lock()
	header, err := newConversation(creator, title, defaultAccess)
	globals.modelLock.Unlock()
	if err != nil {
		logs.Warning.Println("dispatch: new conversation rejected:", err)
	}

	if err := wire.WriteInt32(out, wire.NewConversationResponse); err != nil {
		return err
	}
	if err := wire.WritePresence(out, header != nil); err != nil {
		return err
	}
	if header == nil {
		return nil
	}
	return wire.WriteConversationHeader(out, header)
}

// newConversation validates the creator, then creates. Caller holds the
// model lock.
func newConversation(creator t.Uid, title string, defaultAccess t.Role) (*t.ConversationHeader, error) {
	user, err := store.Users.Get(creator)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errUserNotFound
	}
	return store.Conversations.Create(creator, title, defaultAccess)
}

func handleRemoveConversation(in io.Reader, out io.Writer) error {
	id, err := wire.ReadUid(in)
	if err != nil {
		return err
	}

	globals.modelLock.Lock()
	err = store.Conversations.Delete(id)
	globals.modelLock.Unlock()
	if err != nil {
		logs.Warning.Println("dispatch: remove conversation:", err)
	}

	return wire.WriteInt32(out, wire.RemoveConversationResponse)
}

func handleGetUsers(in io.Reader, out io.Writer) error {
	users, err := store.Users.GetAll()
	if err != nil {
		return err
	}
	if err := wire.WriteInt32(out, wire.GetUsersResponse); err != nil {
		return err
	}
	if err := wire.WriteCount(out, len(users)); err != nil {
		return err
	}
	for i := range users {
		if err := wire.WriteUser(out, &users[i]); err != nil {
			return err
		}
	}
	return nil
}

func handleGetAllConversations(in io.Reader, out io.Writer) error {
	headers, err := store.Conversations.GetAll()
	if err != nil {
		return err
	}
	if err := wire.WriteInt32(out, wire.GetAllConversationsResponse); err != nil {
		return err
	}
	if err := wire.WriteCount(out, len(headers)); err != nil {
		return err
	}
	for i := range headers {
		if err := wire.WriteConversationHeader(out, &headers[i]); err != nil {
			return err
		}
	}
	return nil
}

func handleGetConversationsById(in io.Reader, out io.Writer) error {
	ids, err := wire.ReadUidList(in)
	if err != nil {
		return err
	}
	payloads := make([]*t.ConversationPayload, 0, len(ids))
	for _, id := range ids {
		p, err := store.Conversations.Payload(id)
		if err != nil {
			return err
		}
		if p != nil {
			payloads = append(payloads, p)
		}
	}
	if err := wire.WriteInt32(out, wire.GetConversationsByIdResponse); err != nil {
		return err
	}
	if err := wire.WriteCount(out, len(payloads)); err != nil {
		return err
	}
	for _, p := range payloads {
		if err := wire.WriteConversationPayload(out, p); err != nil {
			return err
		}
	}
	return nil
}

func handleGetUserById(in io.Reader, out io.Writer) error {
	id, err := wire.ReadUid(in)
	if err != nil {
		return err
	}
	user, err := store.Users.Get(id)
	if err != nil {
		return err
	}
	if err := wire.WriteInt32(out, wire.GetUserByIdResponse); err != nil {
		return err
	}
	if err := wire.WritePresence(out, user != nil); err != nil {
		return err
	}
	if user == nil {
		return nil
	}
	return wire.WriteUser(out, user)
}

func handleGetConversationHeaderById(in io.Reader, out io.Writer) error {
	id, err := wire.ReadUid(in)
	if err != nil {
		return err
	}
	header, err := store.Conversations.Get(id)
	if err != nil {
		return err
	}
	if err := wire.WriteInt32(out, wire.GetConversationHeaderByIdResponse); err != nil {
		return err
	}
	if err := wire.WritePresence(out, header != nil); err != nil {
		return err
	}
	if header == nil {
		return nil
	}
	return wire.WriteConversationHeader(out, header)
}

func handleGetMessagesById(in io.Reader, out io.Writer) error {
	ids, err := wire.ReadUidList(in)
	if err != nil {
		return err
	}
	msgs := make([]*t.Message, 0, len(ids))
	for _, id := range ids {
		m, err := store.Messages.Get(id)
		if err != nil {
			return err
		}
		if m != nil {
			msgs = append(msgs, m)
		}
	}
	if err := wire.WriteInt32(out, wire.GetMessagesByIdResponse); err != nil {
		return err
	}
	if err := wire.WriteCount(out, len(msgs)); err != nil {
		return err
	}
	for _, m := range msgs {
		if err := wire.WriteMessage(out, m); err != nil {
			return err
		}
	}
	return nil
}

func handleNewInterest(in io.Reader, out io.Writer) error {
	owner, err := wire.ReadUid(in)
	if err != nil {
		return err
	}
	target, err := wire.ReadUid(in)
	if err != nil {
		return err
	}
	kind, err := wire.ReadInt32(in)
	if err != nil {
		return err
	}

	globals.modelLock.Lock()
	_, err = interestAdd(owner, target, t.InterestKind(kind))
	globals.modelLock.Unlock()
	if err != nil {
		logs.Warning.Println("dispatch: new interest rejected:", err)
	}

	return wire.WriteInt32(out, wire.NewInterestResponse)
}

func handleRemoveInterest(in io.Reader, out io.Writer) error {
	owner, err := wire.ReadUid(in)
	if err != nil {
		return err
	}
	target, err := wire.ReadUid(in)
	if err != nil {
		return err
	}

	globals.modelLock.Lock()
	err = interestRemove(owner, target)
	globals.modelLock.Unlock()
	if err != nil {
		logs.Warning.Println("dispatch: remove interest rejected:", err)
	}

	return wire.WriteInt32(out, wire.RemoveInterestResponse)
}

func handleInterestStatus(in io.Reader, out io.Writer) error {
	owner, err := wire.ReadUid(in)
	if err != nil {
		return err
	}

	globals.modelLock.Lock()
	reports, err := interestStatusAll(owner)
	globals.modelLock.Unlock()
	if err != nil {
		return err
	}

	if err := wire.WriteInt32(out, wire.InterestStatusResponse); err != nil {
		return err
	}
	if err := wire.WriteCount(out, len(reports)); err != nil {
		return err
	}
	for i := range reports {
		if err := wire.WriteInterestStatus(out, &reports[i]); err != nil {
			return err
		}
	}
	return nil
}

func handleChangePrivilege(in io.Reader, out io.Writer) error {
	requester, err := wire.ReadUid(in)
	if err != nil {
		return err
	}
	target, err := wire.ReadUid(in)
	if err != nil {
		return err
	}
	conversation, err := wire.ReadUid(in)
	if err != nil {
		return err
	}
	newRole, err := wire.ReadRole(in)
	if err != nil {
		return err
	}

	globals.modelLock.Lock()
	err = accessChange(requester, target, conversation, newRole)
	globals.modelLock.Unlock()

	if err == nil {
		return wire.WriteInt32(out, wire.SufficientPrivilegesResponse)
	}
	if werr := wire.WriteInt32(out, wire.InsufficientPrivilegesResponse); werr != nil {
		return werr
	}
	return wire.WriteString(out, err.Error())
}

func handleAddUser(in io.Reader, out io.Writer) error {
	requester, err := wire.ReadUid(in)
	if err != nil {
		return err
	}
	target, err := wire.ReadUid(in)
	if err != nil {
		return err
	}
	conversation, err := wire.ReadUid(in)
	if err != nil {
		return err
	}
	role, err := wire.ReadRole(in)
	if err != nil {
		return err
	}

	globals.modelLock.Lock()
	err = accessAddUser(requester, target, conversation, role)
	globals.modelLock.Unlock()

	reply := "user added successfully"
	if err != nil {
		reply = err.Error()
	}
	if err := wire.WriteInt32(out, wire.AddUserResponse); err != nil {
		return err
	}
	return wire.WriteString(out, reply)
}

func handleRemoveUser(in io.Reader, out io.Writer) error {
	requester, err := wire.ReadUid(in)
	if err != nil {
		return err
	}
	target, err := wire.ReadUid(in)
	if err != nil {
		return err
	}
	conversation, err := wire.ReadUid(in)
	if err != nil {
		return err
	}

	globals.modelLock.Lock()
	err = accessRemoveUser(requester, target, conversation)
	globals.modelLock.Unlock()

	reply := "user removed successfully"
	if err != nil {
		reply = err.Error()
	}
	if err := wire.WriteInt32(out, wire.RemoveUserResponse); err != nil {
		return err
	}
	return wire.WriteString(out, reply)
}

func handleLeaveConversation(in io.Reader, out io.Writer) error {
	user, err := wire.ReadUid(in)
	if err != nil {
		return err
	}
	conversation, err := wire.ReadUid(in)
	if err != nil {
		return err
	}

	globals.modelLock.Lock()
	err = accessLeave(user, conversation)
	globals.modelLock.Unlock()
	if err != nil {
		logs.Warning.Println("dispatch: leave conversation:", err)
	}

	return wire.WriteInt32(out, wire.LeaveConversationResponse)
}

func handleGetConversationPermission(in io.Reader, out io.Writer) error {
	id, err := wire.ReadUid(in)
	if err != nil {
		return err
	}

	users, err := accessRoleMap(id)
	if err != nil && err != errConversationNotFound {
		return err
	}

	if err := wire.WriteInt32(out, wire.GetConversationPermissionResponse); err != nil {
		return err
	}
	return wire.WriteRoleMap(out, users)
}
