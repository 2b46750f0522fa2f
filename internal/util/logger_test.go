package util

import (
	"bytes"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompatLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	InitLoggerTo(&buf, false)
	defer InitLoggerTo(&bytes.Buffer{}, false)

	l := GetCompatLogger()
	l.Debugf("hidden %d", 1)
	l.Infof("shown %d", 2)
	l.Warnf("careful")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown 2")
	assert.Contains(t, out, "level=WARN")
	assert.False(t, IsVerbose())
}

func TestVerboseEnablesDebug(t *testing.T) {
	var buf bytes.Buffer
	InitLoggerTo(&buf, true)
	defer InitLoggerTo(&bytes.Buffer{}, false)

	assert.True(t, IsVerbose())
	GetCompatLogger().Debugf("frame %d", 7)
	assert.Contains(t, buf.String(), "frame 7")
}

func TestSetupGlobalLogger(t *testing.T) {
	var buf bytes.Buffer
	InitLoggerTo(&buf, false)
	defer InitLoggerTo(&bytes.Buffer{}, false)

	SetupGlobalLogger()
	log.Printf("from std log")
	assert.Contains(t, buf.String(), "from std log")
}
