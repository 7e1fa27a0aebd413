package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmailValid(t *testing.T) {
	assert.True(t, EmailValid("ada@example.com"))
	assert.False(t, EmailValid("Ada <ada@example.com>"))
	assert.False(t, EmailValid("not-an-email"))
}

func TestRandomID(t *testing.T) {
	id, err := RandomID(12)
	require.NoError(t, err)
	assert.Len(t, id, 12)

	other, err := RandomID(12)
	require.NoError(t, err)
	assert.NotEqual(t, id, other)

	id, err = RandomID(0)
	require.NoError(t, err)
	assert.Len(t, id, 8)
}

func TestPaginate(t *testing.T) {
	page, perPage := Paginate(0, 0, 100)
	assert.Equal(t, 1, page)
	assert.Equal(t, 50, perPage)

	page, perPage = Paginate(3, 500, 100)
	assert.Equal(t, 3, page)
	assert.Equal(t, 100, perPage)
}

func TestPageCount(t *testing.T) {
	assert.Equal(t, 0, PageCount(0, 50))
	assert.Equal(t, 1, PageCount(50, 50))
	assert.Equal(t, 2, PageCount(51, 50))
	assert.Equal(t, 0, PageCount(10, 0))
}
