// Package types defines the entities shared by the store, the engines and
// the wire protocol: users, conversations, messages, interests and the relay
// bundle envelope.
package types

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"time"
)

// Uid is a server-generated record id, suitable to be used as a primary key.
type Uid uint64

// ZeroUid is the "no reference" sentinel. A message with Next == ZeroUid is
// the tail of its chain.
var ZeroUid Uid = 0

const (
	uidBase64Unpadded = 11
	uidBase64Padded   = 12
)

func (uid Uid) IsZero() bool {
	return uid == 0
}

// Compare returns -1 if uid is smaller than u2, 1 if greater, 0 if equal.
func (uid Uid) Compare(u2 Uid) int {
	if uid < u2 {
		return -1
	} else if uid > u2 {
		return 1
	}
	return 0
}

func (uid *Uid) MarshalBinary() ([]byte, error) {
	dst := make([]byte, 8)
	binary.LittleEndian.PutUint64(dst, uint64(*uid))
	return dst, nil
}

func (uid *Uid) UnmarshalBinary(b []byte) error {
	if len(b) < 8 {
		return errors.New("Uid.UnmarshalBinary: invalid length")
	}
	*uid = Uid(binary.LittleEndian.Uint64(b))
	return nil
}

func (uid Uid) MarshalText() ([]byte, error) {
	if uid == 0 {
		return []byte{}, nil
	}
	src := make([]byte, 8)
	dst := make([]byte, base64.URLEncoding.EncodedLen(8))
	binary.LittleEndian.PutUint64(src, uint64(uid))
	base64.URLEncoding.Encode(dst, src)
	return dst[0:uidBase64Unpadded], nil
}

func (uid *Uid) UnmarshalText(src []byte) error {
	if len(src) == 0 {
		*uid = 0
		return nil
	}
	if len(src) != uidBase64Unpadded {
		return errors.New("Uid.UnmarshalText: invalid length")
	}
	dec := make([]byte, base64.URLEncoding.DecodedLen(uidBase64Padded))
	for len(src) < uidBase64Padded {
		src = append(src, '=')
	}
	count, err := base64.URLEncoding.Decode(dec, src)
	if count < 8 {
		if err != nil {
			return errors.New("Uid.UnmarshalText: failed to decode " + err.Error())
		}
		return errors.New("Uid.UnmarshalText: failed to decode")
	}
	*uid = Uid(binary.LittleEndian.Uint64(dec))
	return nil
}

func (uid Uid) MarshalJSON() ([]byte, error) {
	dst, _ := uid.MarshalText()
	return append(append([]byte{'"'}, dst...), '"'), nil
}

func (uid *Uid) UnmarshalJSON(b []byte) error {
	size := len(b)
	if size < 2 || b[0] != '"' || b[size-1] != '"' {
		return errors.New("Uid.UnmarshalJSON: unrecognized")
	}
	return uid.UnmarshalText(b[1 : size-1])
}

func (uid Uid) String() string {
	buf, _ := uid.MarshalText()
	return string(buf)
}

// ParseUid parses the unprefixed base64 representation of a Uid. Returns
// ZeroUid on any decoding failure.
func ParseUid(s string) Uid {
	var uid Uid
	uid.UnmarshalText([]byte(s))
	return uid
}

// TimeNow returns current wall time in UTC rounded to milliseconds.
func TimeNow() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}

// Role is a user's access level in a conversation. Lower numeric rank means
// higher privilege.
type Role int

// Role ranks, in decreasing order of privilege.
const (
	RoleCreator Role = iota
	RoleOwner
	RoleMember
	// RoleNotSet means no access. It doubles as the "use the conversation's
	// default" sentinel when adding a member.
	RoleNotSet
)

// Outranks reports whether r is strictly more privileged than other.
// Every privilege comparison in the access engine routes through here.
func (r Role) Outranks(other Role) bool {
	return r < other
}

// IsValid reports whether r is one of the defined ranks.
func (r Role) IsValid() bool {
	return r >= RoleCreator && r <= RoleNotSet
}

func (r Role) String() string {
	switch r {
	case RoleCreator:
		return "creator"
	case RoleOwner:
		return "owner"
	case RoleMember:
		return "member"
	case RoleNotSet:
		return "notset"
	}
	return "invalid"
}

// InterestKind tells whether an interest watches a user or a conversation.
type InterestKind int

const (
	KindUser InterestKind = iota
	KindConversation
)

func (k InterestKind) String() string {
	if k == KindUser {
		return "user"
	}
	return "conversation"
}

// User is an account record, immutable after creation. Name uniqueness is
// not enforced; two accounts may share a display name.
type User struct {
	Id        Uid       `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// ConversationHeader is the immutable part of a conversation.
type ConversationHeader struct {
	Id            Uid       `json:"id"`
	Creator       Uid       `json:"creator"`
	CreatedAt     time.Time `json:"created_at"`
	Title         string    `json:"title"`
	DefaultAccess Role      `json:"default_access"`
}

// ConversationPayload holds the mutable head and tail of a conversation's
// message chain. Both are ZeroUid iff the conversation has no messages yet.
type ConversationPayload struct {
	Id           Uid `json:"id"`
	FirstMessage Uid `json:"first_message"`
	LastMessage  Uid `json:"last_message"`
}

// ConversationPermission maps members to roles. A user absent from the map
// holds RoleNotSet.
type ConversationPermission struct {
	Id            Uid          `json:"id"`
	Creator       Uid          `json:"creator"`
	DefaultAccess Role         `json:"default_access"`
	Users         map[Uid]Role `json:"users"`
}

// NewConversationPermission builds the permission record for a freshly
// created conversation with the creator entered at RoleCreator.
func NewConversationPermission(id, creator Uid, defaultAccess Role) *ConversationPermission {
	return &ConversationPermission{
		Id:            id,
		Creator:       creator,
		DefaultAccess: defaultAccess,
		Users:         map[Uid]Role{creator: RoleCreator},
	}
}

// Status returns the role of the given user, RoleNotSet if absent.
func (cp *ConversationPermission) Status(user Uid) Role {
	if r, ok := cp.Users[user]; ok {
		return r
	}
	return RoleNotSet
}

// ChangeAccess sets the role of the given user.
func (cp *ConversationPermission) ChangeAccess(user Uid, role Role) {
	cp.Users[user] = role
}

// RemoveUser clears the role of the given user.
func (cp *ConversationPermission) RemoveUser(user Uid) {
	delete(cp.Users, user)
}

// ContainsUser reports whether the user holds any role in the conversation.
func (cp *ConversationPermission) ContainsUser(user Uid) bool {
	_, ok := cp.Users[user]
	return ok
}

// CountRole returns the number of members holding the given role.
func (cp *ConversationPermission) CountRole(role Role) int {
	var n int
	for _, r := range cp.Users {
		if r == role {
			n++
		}
	}
	return n
}

// Clone returns a copy with its own role map, safe to hand out to callers.
func (cp *ConversationPermission) Clone() *ConversationPermission {
	users := make(map[Uid]Role, len(cp.Users))
	for u, r := range cp.Users {
		users[u] = r
	}
	return &ConversationPermission{
		Id:            cp.Id,
		Creator:       cp.Creator,
		DefaultAccess: cp.DefaultAccess,
		Users:         users,
	}
}

// Message is one entry in a conversation's append-only chain. Previous is
// fixed at creation; Next is back-patched when a later message is appended.
type Message struct {
	Id           Uid       `json:"id"`
	Previous     Uid       `json:"previous"`
	Next         Uid       `json:"next"`
	CreatedAt    time.Time `json:"created_at"`
	Author       Uid       `json:"author"`
	Content      string    `json:"content"`
	Conversation Uid       `json:"conversation"`
}

// Interest is a subscription of Owner to the activity of Target. LastUpdate
// is the watermark: activity up to it has already been reported.
type Interest struct {
	Id         Uid          `json:"id"`
	Owner      Uid          `json:"owner"`
	Target     Uid          `json:"target"`
	Kind       InterestKind `json:"kind"`
	LastUpdate time.Time    `json:"last_update"`
}

// InterestStatus is one "what changed since last checked" report.
type InterestStatus struct {
	// Id of the interest the report was computed for.
	Id Uid
	// Unread message count. -1 unless Kind is KindConversation.
	Unread int
	// Titles of conversations the watched user created. Nil unless KindUser.
	NewConversations []string
	// Titles of conversations the watched user posted into, first-seen order,
	// de-duplicated. Nil unless KindUser.
	ContributedConversations []string
	Kind                     InterestKind
	// Display name of the watched user, or the conversation title.
	Name string
}

// BundleComponent carries one user or one message between federated servers.
type BundleComponent struct {
	Id        Uid
	Text      string
	CreatedAt time.Time
}

// BundleConversation carries one conversation between federated servers.
type BundleConversation struct {
	Id            Uid
	Title         string
	CreatedAt     time.Time
	Creator       Uid
	DefaultAccess Role
}

// Bundle is the replicated envelope: one (user, conversation, message)
// triple plus relay bookkeeping. The message component has no author field;
// on merge the message is attributed to the user component.
type Bundle struct {
	Id           Uid
	CreatedAt    time.Time
	Origin       Uid
	User         BundleComponent
	Conversation BundleConversation
	Message      BundleComponent
}
