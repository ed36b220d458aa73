package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	State
	ParentID int64
	Category string
}

func (i *item) Field(name string) any {
	switch name {
	case "parent_id":
		return i.ParentID
	case "category":
		return i.Category
	}
	return nil
}

var itemFields = []string{"parent_id", "category"}

func TestHasChanged_NewRecord(t *testing.T) {
	it := &item{Category: "b"}

	assert.False(t, Persisted(it))
	assert.True(t, HasChanged(it, []string{"category"}))
	assert.Equal(t, itemFields, Changed(it, itemFields))
}

func TestHasChanged_AfterPersist(t *testing.T) {
	it := &item{Category: "b"}
	Capture(it, itemFields)

	assert.True(t, Persisted(it))
	assert.False(t, HasChanged(it, []string{"category"}))

	it.Category = "c"
	assert.True(t, HasChanged(it, []string{"category"}))
	assert.False(t, HasChanged(it, []string{"parent_id"}))
	assert.Equal(t, []string{"category"}, Changed(it, itemFields))
}

func TestHasChanged_RevertedValue(t *testing.T) {
	it := &item{Category: "b"}
	Capture(it, itemFields)

	it.Category = "c"
	it.Category = "b"
	assert.False(t, HasChanged(it, itemFields))
}

func TestHasChanged_ForeignKeyScalar(t *testing.T) {
	it := &item{ParentID: 1}
	Capture(it, itemFields)

	it.ParentID = 2
	assert.Equal(t, []string{"parent_id"}, Changed(it, itemFields))

	Capture(it, itemFields)
	assert.Empty(t, Changed(it, itemFields))
}

func TestChanged_UntrackedField(t *testing.T) {
	it := &item{Category: "b"}
	Capture(it, []string{"category"})

	assert.Equal(t, []string{"parent_id"}, Changed(it, itemFields))
}

func TestCapture_DoesNotTouchDomainFields(t *testing.T) {
	it := &item{ParentID: 7, Category: "b"}
	Capture(it, itemFields)

	assert.Equal(t, int64(7), it.ParentID)
	assert.Equal(t, "b", it.Category)
}

func TestReset(t *testing.T) {
	it := &item{Category: "b"}
	Capture(it, itemFields)
	require.True(t, Persisted(it))

	Reset(it)
	assert.False(t, Persisted(it))
	assert.Equal(t, itemFields, Changed(it, itemFields))
}
