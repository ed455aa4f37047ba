// Package wire implements the binary request/response encoding spoken by
// clients and peers: big-endian fixed-width integers, length-prefixed UTF-8
// strings, a presence-byte nullable wrapper and count-prefixed collections.
package wire

import (
	"encoding/binary"
	"errors"
	"io"
	"time"

	t "github.com/meshchat/chat/server/store/types"
)

// Request opcodes. A request is [int32 opcode][arguments].
const (
	ServerInfoRequest int32 = iota + 100
	NewMessageRequest
	NewUserRequest
	NewConversationRequest
	RemoveConversationRequest
	GetUsersRequest
	GetAllConversationsRequest
	GetConversationsByIdRequest
	GetUserByIdRequest
	GetConversationHeaderByIdRequest
	GetMessagesByIdRequest
	NewInterestRequest
	RemoveInterestRequest
	InterestStatusRequest
	ChangePrivilegeRequest
	AddUserRequest
	RemoveUserRequest
	GetConversationPermissionRequest
	LeaveConversationRequest
)

// Response opcodes. A response is [int32 opcode][payload].
const (
	ServerInfoResponse int32 = iota + 200
	NewMessageResponse
	NewUserResponse
	NewConversationResponse
	RemoveConversationResponse
	GetUsersResponse
	GetAllConversationsResponse
	GetConversationsByIdResponse
	GetUserByIdResponse
	GetConversationHeaderByIdResponse
	GetMessagesByIdResponse
	NewInterestResponse
	RemoveInterestResponse
	InterestStatusResponse
	SufficientPrivilegesResponse
	InsufficientPrivilegesResponse
	AddUserResponse
	RemoveUserResponse
	GetConversationPermissionResponse
	LeaveConversationResponse
)

// NoMessage is the response opcode for a request the server does not
// understand.
const NoMessage int32 = -1

// maxStringLen caps decoded string sizes. Anything larger is a corrupt or
// hostile stream.
const maxStringLen = 1 << 20

// maxCollectionLen caps decoded collection counts.
const maxCollectionLen = 1 << 16

var errBadLength = errors.New("wire: invalid length prefix")

func WriteInt32(w io.Writer, v int32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(v))
	_, err := w.Write(buf[:])
	return err
}

func ReadInt32(r io.Reader) (int32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(buf[:])), nil
}

func WriteInt64(w io.Writer, v int64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	_, err := w.Write(buf[:])
	return err
}

func ReadInt64(r io.Reader) (int64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(buf[:])), nil
}

func WriteString(w io.Writer, s string) error {
	if err := WriteInt32(w, int32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func ReadString(r io.Reader) (string, error) {
	size, err := ReadInt32(r)
	if err != nil {
		return "", err
	}
	if size < 0 || size > maxStringLen {
		return "", errBadLength
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// WriteUid encodes the id as 8 big-endian bytes.
func WriteUid(w io.Writer, uid t.Uid) error {
	return WriteInt64(w, int64(uid))
}

func ReadUid(r io.Reader) (t.Uid, error) {
	v, err := ReadInt64(r)
	return t.Uid(v), err
}

// WriteTime encodes the timestamp as Unix milliseconds.
func WriteTime(w io.Writer, at time.Time) error {
	return WriteInt64(w, at.UnixMilli())
}

func ReadTime(r io.Reader) (time.Time, error) {
	ms, err := ReadInt64(r)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

// WriteRole encodes the access rank as an int32.
func WriteRole(w io.Writer, r t.Role) error {
	return WriteInt32(w, int32(r))
}

func ReadRole(r io.Reader) (t.Role, error) {
	v, err := ReadInt32(r)
	if err != nil {
		return t.RoleNotSet, err
	}
	role := t.Role(v)
	if !role.IsValid() {
		return t.RoleNotSet, errors.New("wire: invalid role rank")
	}
	return role, nil
}

// WritePresence precedes a nullable encoding: 1 if the value follows,
// 0 otherwise.
func WritePresence(w io.Writer, present bool) error {
	b := []byte{0}
	if present {
		b[0] = 1
	}
	_, err := w.Write(b)
	return err
}

func ReadPresence(r io.Reader) (bool, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return false, err
	}
	switch buf[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, errors.New("wire: invalid presence byte")
}

// WriteCount precedes an ordered collection.
func WriteCount(w io.Writer, n int) error {
	return WriteInt32(w, int32(n))
}

func ReadCount(r io.Reader) (int, error) {
	n, err := ReadInt32(r)
	if err != nil {
		return 0, err
	}
	if n < 0 || n > maxCollectionLen {
		return 0, errBadLength
	}
	return int(n), nil
}

func WriteUidList(w io.Writer, ids []t.Uid) error {
	if err := WriteCount(w, len(ids)); err != nil {
		return err
	}
	for _, id := range ids {
		if err := WriteUid(w, id); err != nil {
			return err
		}
	}
	return nil
}

func ReadUidList(r io.Reader) ([]t.Uid, error) {
	n, err := ReadCount(r)
	if err != nil {
		return nil, err
	}
	ids := make([]t.Uid, 0, n)
	for i := 0; i < n; i++ {
		id, err := ReadUid(r)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func WriteStringList(w io.Writer, vals []string) error {
	if err := WriteCount(w, len(vals)); err != nil {
		return err
	}
	for _, s := range vals {
		if err := WriteString(w, s); err != nil {
			return err
		}
	}
	return nil
}

func ReadStringList(r io.Reader) ([]string, error) {
	n, err := ReadCount(r)
	if err != nil {
		return nil, err
	}
	vals := make([]string, 0, n)
	for i := 0; i < n; i++ {
		s, err := ReadString(r)
		if err != nil {
			return nil, err
		}
		vals = append(vals, s)
	}
	return vals, nil
}
