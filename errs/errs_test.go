package errs_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"goa.design/taskflow/errs"
)

func TestKindOf(t *testing.T) {
	err := errs.Wrap(errs.KindTransport, "dial failed", errors.New("boom"))
	assert.Equal(t, errs.KindTransport, errs.KindOf(err))
	assert.True(t, errors.Is(err, errs.Of(errs.KindTransport)))
	assert.False(t, errors.Is(err, errs.Of(errs.KindRateLimit)))
}

func TestUnwrapChain(t *testing.T) {
	cause := errors.New("root cause")
	err := errs.Wrap(errs.KindParse, "", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "parse: root cause: root cause", err.Error())
}
