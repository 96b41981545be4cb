package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opencivic/relay/model"
)

func TestServerEventKind(t *testing.T) {
	assert.Equal(t, "roster", (&ServerEvent{Roster: []string{"alice"}}).Kind())
	assert.Equal(t, "message", (&ServerEvent{Message: &model.Message{}}).Kind())
	assert.Equal(t, "notification", (&ServerEvent{Notification: &model.Notification{}}).Kind())
	assert.Equal(t, "empty", (&ServerEvent{}).Kind())
}

func TestMessagePayload(t *testing.T) {
	assert.True(t, MessagePayload{}.IsEmpty())
	assert.False(t, MessagePayload{Content: "hi"}.IsEmpty())
	assert.False(t, MessagePayload{Attachment: "img/1.png"}.IsEmpty())

	assert.Equal(t, model.MessageText, MessagePayload{Content: "hi"}.Type())
	assert.Equal(t, model.MessageImage, MessagePayload{Attachment: "img/1.png"}.Type())
	assert.Equal(t, model.MessageImage, MessagePayload{Content: "hi", Attachment: "img/1.png"}.Type())
}
