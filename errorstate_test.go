package xd2031

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorStateDefaultsToOK(t *testing.T) {
	es := NewErrorState()
	assert.Equal(t, ErrOK, es.Code())
	assert.True(t, es.HasMore())
}

func TestErrorStateFormatsStatusLine(t *testing.T) {
	es := NewErrorState()
	es.Set(ErrFileNotFound, 1, 2)
	var out []byte
	for es.HasMore() {
		out = append(out, es.Next())
	}
	assert.Equal(t, "62,FILE NOT FOUND,01,02\x00", string(out))
}

func TestErrorStateAutoResetsAfterTerminator(t *testing.T) {
	es := NewErrorState()
	es.Set(ErrFileNotFound, 0, 0)
	for es.HasMore() {
		es.Next()
	}
	assert.Equal(t, ErrFileNotFound, es.Code())
	// next read rolls the state back to OK before delivering a byte
	es.Next()
	assert.Equal(t, ErrOK, es.Code())
}

func TestErrorStatePeekDoesNotConsume(t *testing.T) {
	es := NewErrorState()
	es.Set(ErrFileNotFound, 1, 2)
	b1, atLast1 := es.Peek()
	b2, atLast2 := es.Peek()
	assert.Equal(t, b1, b2)
	assert.Equal(t, atLast1, atLast2)
	assert.False(t, atLast1)
	assert.Equal(t, b1, es.Next(), "Peek must not have advanced the read cursor")
}

func TestErrorStateWithCountEncodesMatchesInTrackField(t *testing.T) {
	es := NewErrorState()
	es.SetWithCount(ErrScratched, 3)
	var out []byte
	for es.HasMore() {
		out = append(out, es.Next())
	}
	assert.Equal(t, "01,SCRATCHED,03,00\x00", string(out))
}
