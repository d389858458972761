package cardiffd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTagsString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "", Tags{}.String())
	assert.Equal(t, "b:1,a:2", Tags{"b:1", "a:2"}.String())
}

func TestTagsSortedString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "a:2,b:1", Tags{"b:1", "a:2"}.SortedString())
}

func TestTagsConcat(t *testing.T) {
	t.Parallel()
	tags := Tags{"a:1"}
	combined := tags.Concat(Tags{"b:2"})
	assert.Equal(t, Tags{"a:1", "b:2"}, combined)
	// the original is untouched
	assert.Equal(t, Tags{"a:1"}, tags)
}

func TestTagsCopy(t *testing.T) {
	t.Parallel()
	assert.Nil(t, Tags(nil).Copy())

	tags := Tags{"a:1"}
	tagCopy := tags.Copy()
	tagCopy[0] = "b:2"
	assert.Equal(t, Tags{"a:1"}, tags)
}

func TestFormatTagsKey(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "a:1,b:2", FormatTagsKey(UnknownSource, Tags{"b:2", "a:1"}))
	assert.Equal(t, "a:1,s:web01", FormatTagsKey("web01", Tags{"a:1"}))
}
