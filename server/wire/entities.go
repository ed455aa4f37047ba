// Entity serializers. Field order is part of the protocol and must not
// change between releases.
package wire

import (
	"io"

	t "github.com/meshchat/chat/server/store/types"
)

func WriteUser(w io.Writer, u *t.User) error {
	if err := WriteUid(w, u.Id); err != nil {
		return err
	}
	if err := WriteString(w, u.Name); err != nil {
		return err
	}
	return WriteTime(w, u.CreatedAt)
}

func ReadUser(r io.Reader) (*t.User, error) {
	var u t.User
	var err error
	if u.Id, err = ReadUid(r); err != nil {
		return nil, err
	}
	if u.Name, err = ReadString(r); err != nil {
		return nil, err
	}
	if u.CreatedAt, err = ReadTime(r); err != nil {
		return nil, err
	}
	return &u, nil
}

func WriteConversationHeader(w io.Writer, h *t.ConversationHeader) error {
	if err := WriteUid(w, h.Id); err != nil {
		return err
	}
	if err := WriteUid(w, h.Creator); err != nil {
		return err
	}
	if err := WriteTime(w, h.CreatedAt); err != nil {
		return err
	}
	if err := WriteString(w, h.Title); err != nil {
		return err
	}
	return WriteRole(w, h.DefaultAccess)
}

func ReadConversationHeader(r io.Reader) (*t.ConversationHeader, error) {
	var h t.ConversationHeader
	var err error
	if h.Id, err = ReadUid(r); err != nil {
		return nil, err
	}
	if h.Creator, err = ReadUid(r); err != nil {
		return nil, err
	}
	if h.CreatedAt, err = ReadTime(r); err != nil {
		return nil, err
	}
	if h.Title, err = ReadString(r); err != nil {
		return nil, err
	}
	if h.DefaultAccess, err = ReadRole(r); err != nil {
		return nil, err
	}
	return &h, nil
}

func WriteConversationPayload(w io.Writer, p *t.ConversationPayload) error {
	if err := WriteUid(w, p.Id); err != nil {
		return err
	}
	if err := WriteUid(w, p.FirstMessage); err != nil {
		return err
	}
	return WriteUid(w, p.LastMessage)
}

func ReadConversationPayload(r io.Reader) (*t.ConversationPayload, error) {
	var p t.ConversationPayload
	var err error
	if p.Id, err = ReadUid(r); err != nil {
		return nil, err
	}
	if p.FirstMessage, err = ReadUid(r); err != nil {
		return nil, err
	}
	if p.LastMessage, err = ReadUid(r); err != nil {
		return nil, err
	}
	return &p, nil
}

func WriteMessage(w io.Writer, m *t.Message) error {
	if err := WriteUid(w, m.Id); err != nil {
		return err
	}
	if err := WriteUid(w, m.Previous); err != nil {
		return err
	}
	if err := WriteUid(w, m.Next); err != nil {
		return err
	}
	if err := WriteTime(w, m.CreatedAt); err != nil {
		return err
	}
	if err := WriteUid(w, m.Author); err != nil {
		return err
	}
	if err := WriteString(w, m.Content); err != nil {
		return err
	}
	return WriteUid(w, m.Conversation)
}

func ReadMessage(r io.Reader) (*t.Message, error) {
	var m t.Message
	var err error
	if m.Id, err = ReadUid(r); err != nil {
		return nil, err
	}
	if m.Previous, err = ReadUid(r); err != nil {
		return nil, err
	}
	if m.Next, err = ReadUid(r); err != nil {
		return nil, err
	}
	if m.CreatedAt, err = ReadTime(r); err != nil {
		return nil, err
	}
	if m.Author, err = ReadUid(r); err != nil {
		return nil, err
	}
	if m.Content, err = ReadString(r); err != nil {
		return nil, err
	}
	if m.Conversation, err = ReadUid(r); err != nil {
		return nil, err
	}
	return &m, nil
}

// WriteInterestStatus encodes one activity report. The string lists are
// written through the nullable wrapper so a conversation-kind report does
// not carry empty collections.
func WriteInterestStatus(w io.Writer, st *t.InterestStatus) error {
	if err := WriteUid(w, st.Id); err != nil {
		return err
	}
	if err := WriteInt32(w, int32(st.Unread)); err != nil {
		return err
	}
	if err := WritePresence(w, st.NewConversations != nil); err != nil {
		return err
	}
	if st.NewConversations != nil {
		if err := WriteStringList(w, st.NewConversations); err != nil {
			return err
		}
	}
	if err := WritePresence(w, st.ContributedConversations != nil); err != nil {
		return err
	}
	if st.ContributedConversations != nil {
		if err := WriteStringList(w, st.ContributedConversations); err != nil {
			return err
		}
	}
	if err := WriteInt32(w, int32(st.Kind)); err != nil {
		return err
	}
	return WriteString(w, st.Name)
}

func ReadInterestStatus(r io.Reader) (*t.InterestStatus, error) {
	var st t.InterestStatus
	var err error
	if st.Id, err = ReadUid(r); err != nil {
		return nil, err
	}
	unread, err := ReadInt32(r)
	if err != nil {
		return nil, err
	}
	st.Unread = int(unread)
	present, err := ReadPresence(r)
	if err != nil {
		return nil, err
	}
	if present {
		if st.NewConversations, err = ReadStringList(r); err != nil {
			return nil, err
		}
	}
	if present, err = ReadPresence(r); err != nil {
		return nil, err
	}
	if present {
		if st.ContributedConversations, err = ReadStringList(r); err != nil {
			return nil, err
		}
	}
	kind, err := ReadInt32(r)
	if err != nil {
		return nil, err
	}
	st.Kind = t.InterestKind(kind)
	if st.Name, err = ReadString(r); err != nil {
		return nil, err
	}
	return &st, nil
}

// WriteRoleMap encodes a conversation's member-to-role table.
func WriteRoleMap(w io.Writer, users map[t.Uid]t.Role) error {
	if err := WriteCount(w, len(users)); err != nil {
		return err
	}
	for id, role := range users {
		if err := WriteUid(w, id); err != nil {
			return err
		}
		if err := WriteRole(w, role); err != nil {
			return err
		}
	}
	return nil
}

func ReadRoleMap(r io.Reader) (map[t.Uid]t.Role, error) {
	n, err := ReadCount(r)
	if err != nil {
		return nil, err
	}
	users := make(map[t.Uid]t.Role, n)
	for i := 0; i < n; i++ {
		id, err := ReadUid(r)
		if err != nil {
			return nil, err
		}
		role, err := ReadRole(r)
		if err != nil {
			return nil, err
		}
		users[id] = role
	}
	return users, nil
}
