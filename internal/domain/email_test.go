package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressListUnmarshal(t *testing.T) {
	t.Run("单个字符串归一化为列表", func(t *testing.T) {
		var req SendRequest
		require.NoError(t, json.Unmarshal([]byte(`{"to":"b@x","subject":"Hi"}`), &req))
		assert.Equal(t, AddressList{"b@x"}, req.To)
		require.NotNil(t, req.Subject)
		assert.Equal(t, "Hi", *req.Subject)
	})

	t.Run("数组", func(t *testing.T) {
		var l AddressList
		require.NoError(t, json.Unmarshal([]byte(`["a@x"," b@x ",""]`), &l))
		assert.Equal(t, []string{"a@x", "b@x"}, l.Compact())
	})

	t.Run("缺少主题与空主题可区分", func(t *testing.T) {
		var missing, empty SendRequest
		require.NoError(t, json.Unmarshal([]byte(`{"to":["a@x"]}`), &missing))
		require.NoError(t, json.Unmarshal([]byte(`{"to":["a@x"],"subject":""}`), &empty))
		assert.Nil(t, missing.Subject)
		require.NotNil(t, empty.Subject)
		assert.Equal(t, "", *empty.Subject)
	})

	t.Run("非法类型", func(t *testing.T) {
		var l AddressList
		assert.Error(t, json.Unmarshal([]byte(`42`), &l))
	})
}

func TestMakePreview(t *testing.T) {
	assert.Equal(t, "Hello", MakePreview("Hello"))
	long := strings.Repeat("界", 150)
	assert.Equal(t, strings.Repeat("界", PreviewLength), MakePreview(long))
}

func TestSplitAddresses(t *testing.T) {
	assert.Equal(t, []string{"a@x", "b@x"}, SplitAddresses(" a@x ,b@x,, "))
	assert.Equal(t, []string{}, SplitAddresses(""))
}

func TestFieldUpdate(t *testing.T) {
	r := &EmailRecord{Folder: FolderInbox}
	assert.True(t, FieldUpdate{}.Empty())

	MoveTo(FolderTrash).Apply(r)
	SetStarred(true).Apply(r)
	SetRead(true).Apply(r)

	assert.Equal(t, FolderTrash, r.Folder)
	assert.True(t, r.Starred)
	assert.True(t, r.Read)
}

func TestRecordClone(t *testing.T) {
	r := &EmailRecord{EmailID: "e1", To: []string{"a@x"}}
	c := r.Clone()
	c.To[0] = "changed"
	assert.Equal(t, "a@x", r.To[0])
}

func TestIDs(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	id := NewEmailID("alice", at)
	assert.True(t, strings.HasPrefix(id, "alice-1700000000123-"))
	assert.NotEqual(t, id, NewEmailID("alice", at))
	assert.Equal(t, "alice-draft-1700000000123", NewDraftID("alice", at))
	assert.Equal(t, "emails/alice/e1.json", ContentPath("alice", "e1"))
	assert.Equal(t, "drafts/alice/d1.json", DraftPath("alice", "d1"))
}

func TestOpErrorKinds(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewOpError("fetch", "e1", ErrStoreUnavailable, cause)

	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ErrStoreUnavailable, KindOf(err))
	assert.Equal(t, "fetch e1: store unavailable: connection refused", err.Error())

	wrapped := NewOpError("ingest", "", ErrPartialIngestion, NewOpError("put", "e2", ErrNotFound, nil))
	assert.Equal(t, ErrPartialIngestion, KindOf(wrapped))
	assert.Equal(t, ErrForbidden, KindOf(NewOpError("fetch", "e1", ErrForbidden, nil)))
	assert.Equal(t, ErrStoreUnavailable, KindOf(errors.New("boom")))
	assert.Nil(t, KindOf(nil))
}
