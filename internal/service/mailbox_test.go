package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"vmail/backend/internal/domain"
	"vmail/backend/internal/storage"
	"vmail/backend/internal/storage/memory"
)

// MockContentStore 内容存储 mock
type MockContentStore struct {
	mock.Mock
}

func (m *MockContentStore) Put(ctx context.Context, path string, content *domain.EmailContent) error {
	args := m.Called(ctx, path, content)
	return args.Error(0)
}

func (m *MockContentStore) Get(ctx context.Context, path string) (*domain.EmailContent, error) {
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.EmailContent), args.Error(1)
}

func (m *MockContentStore) Delete(ctx context.Context, path string) error {
	args := m.Called(ctx, path)
	return args.Error(0)
}

var base = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

func seed(t *testing.T, meta *memory.Store, content storage.ContentStore, owner string, folder domain.Folder, n int) []*domain.EmailRecord {
	t.Helper()
	var out []*domain.EmailRecord
	for i := 0; i < n; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		id := fmt.Sprintf("%s-%013d-%02d", owner, ts.UnixMilli(), i)
		rec := &domain.EmailRecord{
			EmailID:    id,
			OwnerID:    owner,
			Subject:    fmt.Sprintf("msg %d", i),
			Timestamp:  ts,
			Folder:     folder,
			ContentRef: domain.ContentPath(owner, id),
		}
		if content != nil {
			require.NoError(t, content.Put(context.Background(), rec.ContentRef, &domain.EmailContent{
				Subject: rec.Subject,
				Body:    "body " + rec.Subject,
				Attachments: []domain.Attachment{
					{Filename: "a.txt", ContentType: "text/plain", Size: 1, Data: []byte("a")},
				},
			}))
		}
		require.NoError(t, meta.Put(context.Background(), rec))
		out = append(out, rec)
	}
	return out
}

func TestList(t *testing.T) {
	meta := memory.NewStore()
	svc := NewMailboxService(meta, memory.NewContentStore(), nil)
	seed(t, meta, nil, "alice", domain.FolderInbox, 120)
	seed(t, meta, nil, "alice", domain.FolderSent, 3)
	seed(t, meta, nil, "bob", domain.FolderInbox, 2)

	t.Run("默认收件箱与默认数量", func(t *testing.T) {
		got, err := svc.List(context.Background(), "alice", "", 0)
		require.NoError(t, err)
		assert.Len(t, got, DefaultListLimit)
		for i := 1; i < len(got); i++ {
			assert.False(t, got[i].Timestamp.After(got[i-1].Timestamp))
		}
		assert.Equal(t, "msg 119", got[0].Subject)
	})

	t.Run("超过上限时截断", func(t *testing.T) {
		got, err := svc.List(context.Background(), "alice", domain.FolderInbox, 500)
		require.NoError(t, err)
		assert.Len(t, got, MaxListLimit)
	})

	t.Run("按文件夹与用户隔离", func(t *testing.T) {
		got, err := svc.List(context.Background(), "alice", domain.FolderSent, 10)
		require.NoError(t, err)
		assert.Len(t, got, 3)

		got, err = svc.List(context.Background(), "bob", domain.FolderInbox, 10)
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("空文件夹", func(t *testing.T) {
		got, err := svc.List(context.Background(), "alice", domain.FolderTrash, 10)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("未知文件夹", func(t *testing.T) {
		_, err := svc.List(context.Background(), "alice", domain.Folder("spam"), 10)
		assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	})
}

func TestFetch(t *testing.T) {
	t.Run("合并元数据与内容", func(t *testing.T) {
		meta, content := memory.NewStore(), memory.NewContentStore()
		svc := NewMailboxService(meta, content, nil)
		recs := seed(t, meta, content, "alice", domain.FolderInbox, 1)

		view, err := svc.Fetch(context.Background(), "alice", recs[0].EmailID)
		require.NoError(t, err)
		assert.Equal(t, "body msg 0", view.Body)
		assert.Len(t, view.Attachments, 1)
		assert.Equal(t, recs[0].EmailID, view.EmailID)
	})

	t.Run("不存在与无权访问", func(t *testing.T) {
		meta, content := memory.NewStore(), memory.NewContentStore()
		svc := NewMailboxService(meta, content, nil)
		recs := seed(t, meta, content, "alice", domain.FolderInbox, 1)

		_, err := svc.Fetch(context.Background(), "alice", "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)

		_, err = svc.Fetch(context.Background(), "bob", recs[0].EmailID)
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("内容读取失败返回空正文", func(t *testing.T) {
		meta := memory.NewStore()
		content := new(MockContentStore)
		content.On("Get", mock.Anything, mock.Anything).Return(nil, errors.New("bucket gone"))
		svc := NewMailboxService(meta, content, nil)
		recs := seed(t, meta, nil, "alice", domain.FolderInbox, 1)

		view, err := svc.Fetch(context.Background(), "alice", recs[0].EmailID)
		require.NoError(t, err)
		assert.Empty(t, view.Body)
		assert.NotNil(t, view.Attachments)
		assert.Empty(t, view.Attachments)
	})

	t.Run("无权访问时不读取内容", func(t *testing.T) {
		meta := memory.NewStore()
		content := new(MockContentStore)
		svc := NewMailboxService(meta, content, nil)
		recs := seed(t, meta, nil, "alice", domain.FolderInbox, 1)

		_, err := svc.Fetch(context.Background(), "mallory", recs[0].EmailID)
		assert.ErrorIs(t, err, domain.ErrForbidden)
		content.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
	})
}

func TestSetFlags(t *testing.T) {
	meta := memory.NewStore()
	svc := NewMailboxService(meta, memory.NewContentStore(), nil)
	recs := seed(t, meta, nil, "alice", domain.FolderInbox, 1)
	id := recs[0].EmailID

	t.Run("星标幂等", func(t *testing.T) {
		require.NoError(t, svc.SetStarred(context.Background(), "alice", id, true))
		require.NoError(t, svc.SetStarred(context.Background(), "alice", id, true))
		rec, _ := meta.Get(context.Background(), id)
		assert.True(t, rec.Starred)

		require.NoError(t, svc.SetStarred(context.Background(), "alice", id, false))
		rec, _ = meta.Get(context.Background(), id)
		assert.False(t, rec.Starred)
	})

	t.Run("标记已读", func(t *testing.T) {
		require.NoError(t, svc.SetRead(context.Background(), "alice", id, true))
		rec, _ := meta.Get(context.Background(), id)
		assert.True(t, rec.Read)
	})

	t.Run("他人不能修改", func(t *testing.T) {
		err := svc.SetStarred(context.Background(), "bob", id, false)
		assert.ErrorIs(t, err, domain.ErrForbidden)
		err = svc.SetRead(context.Background(), "bob", id, false)
		assert.ErrorIs(t, err, domain.ErrForbidden)
		rec, _ := meta.Get(context.Background(), id)
		assert.True(t, rec.Read)
	})

	t.Run("不存在", func(t *testing.T) {
		assert.ErrorIs(t, svc.SetStarred(context.Background(), "alice", "nope", true), domain.ErrNotFound)
	})
}

func TestDeleteOrTrash(t *testing.T) {
	t.Run("先移入回收站再永久删除", func(t *testing.T) {
		meta, content := memory.NewStore(), memory.NewContentStore()
		svc := NewMailboxService(meta, content, nil)
		recs := seed(t, meta, content, "alice", domain.FolderInbox, 1)
		id := recs[0].EmailID

		outcome, err := svc.DeleteOrTrash(context.Background(), "alice", id)
		require.NoError(t, err)
		assert.Equal(t, OutcomeTrashed, outcome)
		rec, err := meta.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, domain.FolderTrash, rec.Folder)
		assert.True(t, content.Has(rec.ContentRef))

		outcome, err = svc.DeleteOrTrash(context.Background(), "alice", id)
		require.NoError(t, err)
		assert.Equal(t, OutcomeDeleted, outcome)
		_, err = meta.Get(context.Background(), id)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.False(t, content.Has(rec.ContentRef))

		_, err = svc.DeleteOrTrash(context.Background(), "alice", id)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("内容删除失败仍然成功", func(t *testing.T) {
		meta := memory.NewStore()
		content := new(MockContentStore)
		content.On("Delete", mock.Anything, mock.Anything).Return(errors.New("denied"))
		svc := NewMailboxService(meta, content, nil)
		recs := seed(t, meta, nil, "alice", domain.FolderTrash, 1)

		outcome, err := svc.DeleteOrTrash(context.Background(), "alice", recs[0].EmailID)
		require.NoError(t, err)
		assert.Equal(t, OutcomeDeleted, outcome)
		assert.Zero(t, meta.Len())
		content.AssertExpectations(t)
	})

	t.Run("他人不能删除", func(t *testing.T) {
		meta := memory.NewStore()
		svc := NewMailboxService(meta, memory.NewContentStore(), nil)
		recs := seed(t, meta, nil, "alice", domain.FolderInbox, 1)

		_, err := svc.DeleteOrTrash(context.Background(), "bob", recs[0].EmailID)
		assert.ErrorIs(t, err, domain.ErrForbidden)
		rec, _ := meta.Get(context.Background(), recs[0].EmailID)
		assert.Equal(t, domain.FolderInbox, rec.Folder)
	})
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultListLimit, clampLimit(0))
	assert.Equal(t, DefaultListLimit, clampLimit(-3))
	assert.Equal(t, 7, clampLimit(7))
	assert.Equal(t, MaxListLimit, clampLimit(101))
}
