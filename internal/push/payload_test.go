package push

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/storykeep/internal/errors"
)

func TestParsePayload(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantTitle string
		wantBody  string
		wantURL   string
		wantErr   bool
	}{
		{"empty body", "", DefaultTitle, DefaultBody, "/", false},
		{"whitespace body", "  \n", DefaultTitle, DefaultBody, "/", false},
		{"title only", `{"title":"Baru"}`, "Baru", DefaultBody, "/", false},
		{"full payload", `{"title":"T","options":{"body":"B","data":{"url":"/stories/42"}}}`, "T", "B", "/stories/42", false},
		{"empty strings fall back", `{"title":"","options":{"body":""}}`, DefaultTitle, DefaultBody, "/", false},
		{"data without url", `{"options":{"data":{"storyId":"x"}}}`, DefaultTitle, DefaultBody, "/", false},
		{"malformed json", `{"title":`, DefaultTitle, DefaultBody, "/", true},
		{"wrong type", `{"title":42}`, DefaultTitle, DefaultBody, "/", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := ParsePayload([]byte(tt.raw))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantTitle, n.Title)
			assert.Equal(t, tt.wantBody, n.Body)
			assert.Equal(t, tt.wantURL, n.URL())
			assert.Equal(t, DefaultIcon, n.Icon)
			assert.Equal(t, DefaultIcon, n.Badge)
		})
	}
}

func TestParsePayload_DataReplacedWholesale(t *testing.T) {
	n, err := ParsePayload([]byte(`{"options":{"data":{"storyId":"story-1"}}}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"storyId": "story-1"}, n.Data)
	assert.NotContains(t, n.Data, "url")
}

func TestNotification_URLNil(t *testing.T) {
	var n *Notification
	assert.Equal(t, "/", n.URL())
}
