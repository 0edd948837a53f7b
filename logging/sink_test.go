package logging

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestNoopSinkAcceptsEverything(t *testing.T) {
	sink := NewNoop()
	sink.Debug("debug", nil)
	sink.Info("info", Fields{"k": 1})
	sink.Warn("warn", nil)
	sink.Error("error", nil)
	assert.NotNil(t, sink.With(Fields{"k": 2}))
}

func TestLogrusSinkCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetLevel(logrus.DebugLevel)

	sink := NewLogrus(logger).With(Fields{"unit_id": 3})
	sink.Info("request dispatched", Fields{"function_code": 3})

	out := buf.String()
	assert.Contains(t, out, "request dispatched")
	assert.Contains(t, out, "unit_id=3")
	assert.Contains(t, out, "function_code=3")
}

func TestNewLogrusDefaultsToStandardLogger(t *testing.T) {
	assert.NotNil(t, NewLogrus(nil))
}
