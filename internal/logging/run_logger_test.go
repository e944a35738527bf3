package logging

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunLoggerWritesTranscript(t *testing.T) {
	dir := t.TempDir()
	l, err := StartRunLogging(dir, "abc")
	require.NoError(t, err)
	assert.Same(t, l, GetCurrentLogger())

	l.LogSection("engagement e1")
	l.LogRequest("decision", "gpt-4o-mini", "PROMPT BODY")
	l.LogResponse("decision", `{"shouldRespond":true}`)
	l.LogError("send", errors.New("boom"))
	path := l.Path()
	l.Close()
	assert.Nil(t, GetCurrentLogger())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	body := string(data)
	assert.Contains(t, body, "Run ID: abc")
	assert.Contains(t, body, "= engagement e1")
	assert.Contains(t, body, "PROMPT BODY")
	assert.Contains(t, body, `{"shouldRespond":true}`)
	assert.Contains(t, body, "ERROR in send: boom")
	assert.Contains(t, body, "Run logging completed")
}

func TestNilRunLoggerIsSafe(t *testing.T) {
	var l *RunLogger
	assert.NotPanics(t, func() {
		l.Log("x %d", 1)
		l.LogSection("s")
		l.LogRequest("p", "m", "prompt")
		l.LogResponse("p", "r")
		l.LogError("w", errors.New("e"))
		l.Close()
	})
	assert.Equal(t, "", l.Path())
}
