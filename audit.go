package goIdentity

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/MrEthical07/goIdentity/internal/audit"
)

// AuditEvent is one security-relevant fact emitted by the Engine.
type AuditEvent = audit.Event

// AuditSink receives audit events from the async dispatcher.
type AuditSink = audit.Sink

// NoOpSink discards audit events.
type NoOpSink = audit.NoOpSink

// ChannelSink buffers audit events in a channel, mostly for tests.
type ChannelSink = audit.ChannelSink

// JSONWriterSink writes one JSON object per event.
type JSONWriterSink = audit.JSONWriterSink

// LogrusSink writes audit events as structured log entries.
type LogrusSink = audit.LogrusSink

func NewChannelSink(buffer int) *ChannelSink { return audit.NewChannelSink(buffer) }

func NewJSONWriterSink(w io.Writer) *JSONWriterSink { return audit.NewJSONWriterSink(w) }

func NewLogrusSink(log logrus.FieldLogger) *LogrusSink { return audit.NewLogrusSink(log) }
