// Package adapter contains the interface a storage backend must implement
// to be usable by the store mapper layer.
package adapter

import (
	"encoding/json"
	"time"

	t "github.com/meshchat/chat/server/store/types"
)

// Adapter is the interface the store layer uses to persist and query
// entities. All compound mutations (message append, permission edit)
// are atomic with respect to concurrent readers.
type Adapter interface {
	// General

	// Open and configure the adapter. jsonconf is the adapter-specific part
	// of the config file.
	Open(jsonconf json.RawMessage) error
	// Close the adapter, flushing state as appropriate.
	Close() error
	// IsOpen checks if the adapter is ready for use.
	IsOpen() bool
	// GetName returns the name of the adapter.
	GetName() string
	// Stats returns the adapter's runtime counters for monitoring.
	Stats() interface{}
	// Snapshot persists the full current state to durable storage.
	Snapshot() error

	// Users

	// UserCreate adds a user record. Fails if the id is already taken.
	UserCreate(user *t.User) error
	// UserGet fetches a user by id; nil if not found.
	UserGet(id t.Uid) (*t.User, error)
	// UserGetByName fetches some user with the given display name; nil if
	// no user has it.
	UserGetByName(name string) (*t.User, error)
	// UserGetAll returns all users in creation-time order.
	UserGetAll() ([]t.User, error)
	// UsersCreatedAfter returns users created strictly after the given time,
	// in creation-time order.
	UsersCreatedAfter(after time.Time) ([]t.User, error)

	// Conversations

	// ConversationCreate adds the header, an empty payload and the
	// permission record in one step. Fails if the id is already taken.
	ConversationCreate(header *t.ConversationHeader) error
	// ConversationGet fetches a conversation header by id; nil if not found.
	ConversationGet(id t.Uid) (*t.ConversationHeader, error)
	// ConversationGetByTitle fetches some conversation with the given title;
	// nil if no conversation has it.
	ConversationGetByTitle(title string) (*t.ConversationHeader, error)
	// ConversationGetAll returns all headers in creation-time order.
	ConversationGetAll() ([]t.ConversationHeader, error)
	// ConversationsCreatedAfter returns headers created strictly after the
	// given time, in creation-time order.
	ConversationsCreatedAfter(after time.Time) ([]t.ConversationHeader, error)
	// ConversationsCreatedBy returns headers of conversations created by the
	// given user strictly after the given time, in creation-time order.
	ConversationsCreatedBy(creator t.Uid, after time.Time) ([]t.ConversationHeader, error)
	// ConversationDelete removes the header, payload, permissions and all
	// messages of the conversation.
	ConversationDelete(id t.Uid) error
	// PayloadGet fetches a conversation's chain head/tail; nil if not found.
	PayloadGet(id t.Uid) (*t.ConversationPayload, error)

	// Permissions

	// PermissionGet returns a copy of the conversation's permission record;
	// nil if not found.
	PermissionGet(conversation t.Uid) (*t.ConversationPermission, error)
	// PermissionUpdate atomically applies edit to the conversation's
	// permission record. Edits made by edit are published only if it
	// returns nil.
	PermissionUpdate(conversation t.Uid, edit func(*t.ConversationPermission) error) error

	// Messages

	// MessageAppend links the message at the tail of its conversation's
	// chain: inserts it, back-patches the predecessor's Next and updates the
	// payload head/tail, all atomically. The message's Previous and Next
	// are assigned here.
	MessageAppend(msg *t.Message) error
	// MessageGet fetches a message by id; nil if not found.
	MessageGet(id t.Uid) (*t.Message, error)
	// MessageGetAll returns all messages in creation-time order.
	MessageGetAll() ([]t.Message, error)
	// MessagesCreatedAfter returns messages created strictly after the given
	// time, in creation-time order.
	MessagesCreatedAfter(after time.Time) ([]t.Message, error)

	// Interests

	// InterestCreate adds an interest record.
	InterestCreate(in *t.Interest) error
	// InterestGet fetches an interest by id; nil if not found.
	InterestGet(id t.Uid) (*t.Interest, error)
	// InterestFind returns the interest of owner in target; nil if absent.
	InterestFind(owner, target t.Uid) (*t.Interest, error)
	// InterestsByOwner returns all interests of the owner in creation order.
	InterestsByOwner(owner t.Uid) ([]t.Interest, error)
	// InterestSetWatermark advances the interest's LastUpdate.
	InterestSetWatermark(id t.Uid, at time.Time) error
	// InterestDelete removes an interest record.
	InterestDelete(id t.Uid) error
}
