package errcode_test

import (
	"errors"
	"testing"

	"github.com/embedded-go/rtoscore/errcode"
	"github.com/stretchr/testify/require"
)

func TestToCode_MapsEachSentinelToItsHistoricalCode(t *testing.T) {
	cases := []struct {
		err  error
		want errcode.Code
	}{
		{nil, errcode.Success},
		{errcode.ErrPermission, errcode.EPERM},
		{errcode.ErrInvalid, errcode.EINVAL},
		{errcode.ErrDeadlock, errcode.EDEADLK},
		{errcode.ErrBusy, errcode.EBUSY},
		{errcode.ErrTimedOut, errcode.ETIMEDOUT},
		{errcode.ErrInterrupted, errcode.EINTR},
		{errcode.ErrOverflow, errcode.EOVERFLOW},
		{errcode.ErrNotSupported, errcode.ENOTSUP},
		{errcode.ErrNoMemory, errcode.ENOMEM},
	}
	for _, c := range cases {
		require.Equal(t, c.want, errcode.ToCode(c.err))
	}
}

func TestToCode_WrappedSentinelStillMatches(t *testing.T) {
	wrapped := fmtErrorf(errcode.ErrBusy)
	require.Equal(t, errcode.EBUSY, errcode.ToCode(wrapped))
}

func TestToCode_UnknownErrorMapsToEINVAL(t *testing.T) {
	require.Equal(t, errcode.EINVAL, errcode.ToCode(errors.New("some other failure")))
}

func TestEAGAIN_IsAnAliasForEBUSY(t *testing.T) {
	require.Equal(t, errcode.EBUSY, errcode.EAGAIN)
}

func fmtErrorf(err error) error {
	return errors.Join(errors.New("context"), err)
}
