package batch

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type call struct {
	method     string
	collection string
	size       int
	first      any
}

type fakeSender struct {
	calls  []call
	failAt int // 1-based call index that fails, 0 = never
}

var errRemote = errors.New("remote down")

func (f *fakeSender) record(c call) error {
	f.calls = append(f.calls, c)
	if f.failAt == len(f.calls) {
		return errRemote
	}
	return nil
}

func (f *fakeSender) Push(_ context.Context, collection string, records []any) error {
	c := call{method: "POST", collection: collection, size: len(records)}
	if len(records) > 0 {
		c.first = records[0]
	}
	return f.record(c)
}

func (f *fakeSender) Delete(_ context.Context, collection string, ids []string) error {
	c := call{method: "DELETE", collection: collection, size: len(ids)}
	if len(ids) > 0 {
		c.first = ids[0]
	}
	return f.record(c)
}

func sequence(n int) []any {
	items := make([]any, n)
	for i := range items {
		items[i] = i
	}
	return items
}

func cursor(items []any, failAfter int) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		for i, it := range items {
			if failAfter > 0 && i == failAfter {
				yield(nil, errors.New("cursor closed"))
				return
			}
			if !yield(it, nil) {
				return
			}
		}
	}
}

func TestPush_Chunks(t *testing.T) {
	sender := &fakeSender{}
	d := New(sender, 10_000, zap.NewNop().Sugar())

	require.NoError(t, d.Push(context.Background(), "users", sequence(12_000)))

	require.Len(t, sender.calls, 2)
	assert.Equal(t, call{method: "POST", collection: "users", size: 10_000, first: 0}, sender.calls[0])
	assert.Equal(t, call{method: "POST", collection: "users", size: 2_000, first: 10_000}, sender.calls[1])
}

func TestPush_Empty(t *testing.T) {
	sender := &fakeSender{}
	d := New(sender, 10, zap.NewNop().Sugar())

	require.NoError(t, d.Push(context.Background(), "users", nil))
	assert.Empty(t, sender.calls)
}

func TestPush_KeepsDuplicates(t *testing.T) {
	sender := &fakeSender{}
	d := New(sender, 2, zap.NewNop().Sugar())

	require.NoError(t, d.Push(context.Background(), "users", []any{"a", "a", "a"}))
	require.Len(t, sender.calls, 2)
	assert.Equal(t, 2, sender.calls[0].size)
	assert.Equal(t, 1, sender.calls[1].size)
}

func TestPush_AbortsOnFailure(t *testing.T) {
	sender := &fakeSender{failAt: 1}
	d := New(sender, 5, zap.NewNop().Sugar())

	err := d.Push(context.Background(), "structures", sequence(20))
	require.ErrorIs(t, err, errRemote)
	assert.Len(t, sender.calls, 1, "no chunk may be sent after a failure")
}

func TestDelete_Chunks(t *testing.T) {
	sender := &fakeSender{}
	d := New(sender, 2, zap.NewNop().Sugar())

	require.NoError(t, d.Delete(context.Background(), "memberships", []string{"1", "2", "3"}))
	require.Len(t, sender.calls, 2)
	assert.Equal(t, call{method: "DELETE", collection: "memberships", size: 2, first: "1"}, sender.calls[0])
	assert.Equal(t, call{method: "DELETE", collection: "memberships", size: 1, first: "3"}, sender.calls[1])
}

func TestDelete_AbortsOnFailure(t *testing.T) {
	sender := &fakeSender{failAt: 2}
	d := New(sender, 1, zap.NewNop().Sugar())

	err := d.Delete(context.Background(), "users", []string{"1", "2", "3"})
	require.ErrorIs(t, err, errRemote)
	assert.Len(t, sender.calls, 2)
}

func TestNew_DefaultChunkSize(t *testing.T) {
	d := New(&fakeSender{}, 0, nil)
	assert.Equal(t, DefaultChunkSize, d.ChunkSize())
}

func TestStream(t *testing.T) {
	t.Run("chunks a cursor", func(t *testing.T) {
		sender := &fakeSender{}
		d := New(sender, 4, zap.NewNop().Sugar())

		n, err := d.Stream(context.Background(), "users", cursor(sequence(10), 0))
		require.NoError(t, err)
		assert.Equal(t, 10, n)

		sizes := []int{}
		for _, c := range sender.calls {
			sizes = append(sizes, c.size)
		}
		assert.Equal(t, []int{4, 4, 2}, sizes)
	})

	t.Run("exact multiple sends no trailing call", func(t *testing.T) {
		sender := &fakeSender{}
		d := New(sender, 5, zap.NewNop().Sugar())

		n, err := d.Stream(context.Background(), "users", cursor(sequence(10), 0))
		require.NoError(t, err)
		assert.Equal(t, 10, n)
		assert.Len(t, sender.calls, 2)
	})

	t.Run("empty cursor sends one empty call", func(t *testing.T) {
		sender := &fakeSender{}
		d := New(sender, 5, zap.NewNop().Sugar())

		n, err := d.Stream(context.Background(), "users", cursor(nil, 0))
		require.NoError(t, err)
		assert.Zero(t, n)
		require.Len(t, sender.calls, 1)
		assert.Zero(t, sender.calls[0].size)
	})

	t.Run("cursor error stops the stream", func(t *testing.T) {
		sender := &fakeSender{}
		d := New(sender, 2, zap.NewNop().Sugar())

		n, err := d.Stream(context.Background(), "users", cursor(sequence(10), 5))
		require.Error(t, err)
		assert.Equal(t, 4, n)
		assert.Len(t, sender.calls, 2)
	})

	t.Run("send failure stops the stream", func(t *testing.T) {
		sender := &fakeSender{failAt: 1}
		d := New(sender, 2, zap.NewNop().Sugar())

		_, err := d.Stream(context.Background(), "users", cursor(sequence(10), 0))
		require.ErrorIs(t, err, errRemote)
		assert.Len(t, sender.calls, 1)
	})
}
