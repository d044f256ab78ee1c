package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublicURL(t *testing.T) {
	assert.Equal(t,
		"https://cdn.example.com/incident-photos/abc/photo.jpg",
		PublicURL("https://cdn.example.com/incident-photos/", "abc/photo.jpg"))
	assert.Equal(t,
		"http://localhost:9000/b/inc/my%20photo.png",
		PublicURL("http://localhost:9000/b", "inc/my photo.png"))
}
