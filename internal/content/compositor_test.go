package content

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPCompositor(t *testing.T) {
	var got composeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		if got.Fields["first_name"] == "" {
			http.Error(w, "missing name", http.StatusUnprocessableEntity)
			return
		}
		_, _ = w.Write([]byte(`{"url":"https://media.example.com/out/ada.png"}`))
	}))
	defer srv.Close()

	c := NewHTTPCompositor(srv.URL, 0)
	url, err := c.Compose(context.Background(), "https://media.example.com/base.png", map[string]string{"first_name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "https://media.example.com/out/ada.png", url)
	assert.Equal(t, "https://media.example.com/base.png", got.BaseURL)

	_, err = c.Compose(context.Background(), "https://media.example.com/base.png", map[string]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
}

func TestHTTPCompositorEmptyReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := NewHTTPCompositor(srv.URL, 0).Compose(context.Background(), "b", nil)
	assert.Error(t, err)
}
