package pty

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryParser_PlainOutputPassesThrough(t *testing.T) {
	var p QueryParser
	events := p.Parse([]byte("hello world"))

	require.Len(t, events, 1)
	assert.Equal(t, eventOutput, events[0].kind)
	assert.Equal(t, "hello world", string(events[0].data))
}

func TestQueryParser_RecognizesCursorPositionQuery(t *testing.T) {
	var p QueryParser
	events := p.Parse([]byte("before\x1b[6nafter"))

	require.Len(t, events, 3)
	assert.Equal(t, eventOutput, events[0].kind)
	assert.Equal(t, "before", string(events[0].data))
	assert.Equal(t, eventQuery, events[1].kind)
	assert.Equal(t, QueryCursorPosition, events[1].query)
	assert.Equal(t, eventOutput, events[2].kind)
	assert.Equal(t, "after", string(events[2].data))
}

func TestQueryParser_RecognizesDeviceAttributesQueries(t *testing.T) {
	var p QueryParser

	events := p.Parse([]byte("\x1b[c"))
	require.Len(t, events, 1)
	assert.Equal(t, QueryDeviceAttributesPrimary, events[0].query)

	p = QueryParser{}
	events = p.Parse([]byte("\x1b[>c"))
	require.Len(t, events, 1)
	assert.Equal(t, QueryDeviceAttributesSecondary, events[0].query)
}

func TestQueryParser_UnrecognizedCSIPassesThroughAsOutput(t *testing.T) {
	var p QueryParser
	events := p.Parse([]byte("\x1b[2J"))

	require.Len(t, events, 1)
	assert.Equal(t, eventOutput, events[0].kind)
	assert.Equal(t, "\x1b[2J", string(events[0].data))
}

func TestQueryParser_SplitSequenceAcrossReads(t *testing.T) {
	var p QueryParser

	events := p.Parse([]byte("before\x1b["))
	require.Len(t, events, 1)
	assert.Equal(t, "before", string(events[0].data))

	events = p.Parse([]byte("6nafter"))
	require.Len(t, events, 2)
	assert.Equal(t, eventQuery, events[0].kind)
	assert.Equal(t, QueryCursorPosition, events[0].query)
	assert.Equal(t, "after", string(events[1].data))
}

func TestBuildQueryResponse(t *testing.T) {
	assert.Equal(t, "\x1b[4;9R", string(buildQueryResponse(QueryCursorPosition, 4, 9)))
	assert.NotEmpty(t, buildQueryResponse(QueryDeviceAttributesPrimary, 1, 1))
	assert.NotEmpty(t, buildQueryResponse(QueryDeviceAttributesSecondary, 1, 1))
}
