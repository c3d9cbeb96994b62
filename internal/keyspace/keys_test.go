package keyspace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Context/Work", "context/work"},
		{`data\abstraction\note`, "data/abstraction/note"},
		{"tag/hello world!", "tag/helloworld!"},
		{"!data/a", "data/a"},
		{"User/Jane.Doe", "user/janedoe"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Normalize(c.in), c.in)
	}
}

func TestValidate(t *testing.T) {
	ok, valid := Validate("context/work/proj")
	require.True(t, valid)
	assert.Equal(t, "context/work/proj", ok)

	_, valid = Validate("")
	assert.False(t, valid)

	_, valid = Validate("bogus/prefix")
	assert.False(t, valid)

	norm, valid := Validate("!data/abstraction/note")
	require.True(t, valid)
	assert.Equal(t, "data/abstraction/note", norm)

	norm, valid = Validate("internal/action/created")
	require.True(t, valid)
	assert.Equal(t, "internal/action/created", norm)
}

func TestHasPrefix(t *testing.T) {
	assert.True(t, HasPrefix("context", "context"))
	assert.True(t, HasPrefix("context/a", "context"))
	assert.False(t, HasPrefix("contexts/a", "context"))
}
