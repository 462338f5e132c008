package routes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatcher(t *testing.T) {
	m, err := NewMatcher([]string{"/health", "/users/:id", "/orders/{order_id}/items", "/static/**", " "})
	require.NoError(t, err)
	assert.Equal(t, 4, m.Len())

	tests := []struct {
		path string
		want bool
	}{
		{"/health", true},
		{"/healthz", false},
		{"/users/42", true},
		{"/users/42/posts", false},
		{"/users", false},
		{"/orders/9/items", true},
		{"/static/css/site.css", true},
		{"/api/static/x", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, m.Match(tt.path), tt.path)
	}
}

func TestMatcher_IndexPrefersFirstPattern(t *testing.T) {
	m, err := NewMatcher([]string{"/api/users", "/api/**"})
	require.NoError(t, err)

	assert.Equal(t, 0, m.Index("/api/users"))
	assert.Equal(t, 1, m.Index("/api/orders"))
	assert.Equal(t, -1, m.Index("/web"))
}

func TestMatcher_Empty(t *testing.T) {
	m, err := NewMatcher(nil)
	require.NoError(t, err)

	assert.Zero(t, m.Len())
	assert.False(t, m.Match("/anything"))
}

func TestMatcher_InvalidPattern(t *testing.T) {
	_, err := NewMatcher([]string{"/broken/["})
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "/users/*/posts/*", Normalize("/users/:id/posts/{post}"))
	assert.Equal(t, "/a/b", Normalize(" /a/b "))
	assert.Equal(t, "", Normalize(""))
}
