package models

import (
	"encoding/json"
	"testing"

	"github.com/bobarin/captionreel/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJob(t *testing.T) {
	raw := []byte(`{
		"jobId": "j-1",
		"chatId": "123456",
		"fileId": "AgACAgIAAxkBAAIB",
		"mediaKind": "video",
		"captionText": "hello world",
		"applyFade": true,
		"messagesToDelete": ["10", 11]
	}`)

	job, err := DecodeJob(raw)
	require.NoError(t, err)

	assert.Equal(t, CurrentJobVersion, job.Version)
	assert.Equal(t, MediaVideo, job.MediaKind)
	assert.True(t, job.ApplyFade)
	assert.Equal(t, IDList{"10", "11"}, job.MessagesToDelete)

	chatID, err := job.ChatIDInt()
	require.NoError(t, err)
	assert.Equal(t, int64(123456), chatID)
}

func TestDecodeJobMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":         `{"jobId":`,
		"bad kind":         `{"jobId":"a","chatId":"1","fileId":"f","mediaKind":"gif","captionText":"x"}`,
		"missing file":     `{"jobId":"a","chatId":"1","mediaKind":"image","captionText":"x"}`,
		"non-numeric chat": `{"jobId":"a","chatId":"abc","fileId":"f","mediaKind":"image","captionText":"x"}`,
		"future version":   `{"version":9,"jobId":"a","chatId":"1","fileId":"f","mediaKind":"image","captionText":"x"}`,
		"empty caption":    `{"jobId":"a","chatId":"1","fileId":"f","mediaKind":"image","captionText":"  "}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeJob([]byte(raw))
			require.Error(t, err)
			assert.True(t, errs.IsKind(err, errs.KindQueueDecode))
		})
	}
}

func TestJobOmitsOptionalFields(t *testing.T) {
	job := Job{JobID: "a", ChatID: "1", FileID: "f", MediaKind: MediaImage, CaptionText: "x"}
	data, err := json.Marshal(job)
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &m))
	assert.NotContains(t, m, "messagesToDelete")
	assert.NotContains(t, m, "statusMessageId")
	assert.Equal(t, "image", m["mediaKind"])
}

func TestIDListValueScan(t *testing.T) {
	l := IDList{"1", "2"}
	v, err := l.Value()
	require.NoError(t, err)

	var back IDList
	require.NoError(t, back.Scan(v))
	assert.Equal(t, l, back)

	var empty IDList
	require.NoError(t, empty.Scan(nil))
	assert.Nil(t, empty)
}

func TestStatusMessageIDInt(t *testing.T) {
	assert.Equal(t, 0, (&Job{}).StatusMessageIDInt())
	assert.Equal(t, 42, (&Job{StatusMessageID: "42"}).StatusMessageIDInt())
}
