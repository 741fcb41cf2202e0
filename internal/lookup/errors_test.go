package lookup

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("query failed: %w", NewError(Forbidden, "example.com", errors.New("403")))
	assert.Equal(t, Forbidden, KindOf(wrapped))
	assert.Equal(t, NotFound, KindOf(NewError(NotFound, "example.com", nil)))
	assert.Equal(t, TransportError, KindOf(errors.New("connection reset")))
	assert.Equal(t, TransportError, KindOf(context.DeadlineExceeded))
	assert.Equal(t, TransportError, KindOf(NewError(ErrorKind(42), "example.com", nil)))
	assert.Equal(t, ErrorKind(0), KindOf(nil))
}

func TestErrorUnwrapAndMessage(t *testing.T) {
	t.Parallel()

	cause := errors.New("i/o timeout")
	err := NewError(TransportError, "example.com", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "example.com: TransportError: i/o timeout", err.Error())
	assert.Equal(t, "example.com: NoAnswer", NewError(NoAnswer, "example.com", nil).Error())
}

func TestErrorKindText(t *testing.T) {
	t.Parallel()

	for _, k := range Kinds {
		text, err := k.MarshalText()
		require.NoError(t, err)
		var back ErrorKind
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, k, back)
	}

	_, err := ErrorKind(0).MarshalText()
	assert.Error(t, err)
	var k ErrorKind
	assert.Error(t, k.UnmarshalText([]byte("Teapot")))
}
