package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsVerboseLogging(t *testing.T) {
	assert.False(t, IsVerboseLogging(context.Background()))
	assert.True(t, IsVerboseLogging(WithVerboseLogging(context.Background())))
}

func TestPreviewContentNeverLeaksText(t *testing.T) {
	assert.Equal(t, "empty", previewContent(""))

	preview := previewContent("the actual secret")
	assert.NotContains(t, preview, "secret")
	assert.Contains(t, preview, "len=17")
}
