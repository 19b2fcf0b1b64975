package netutil

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetrierDo(t *testing.T) {
	r := NewRetrier(time.Millisecond*20, time.Millisecond*200, 2)
	c := 0
	threshold := 2
	f := func() error {
		c++
		if c >= threshold {
			return nil
		}
		return errors.New("foo")
	}

	t.Run("retries until success", func(t *testing.T) {
		c = 0
		require.NoError(t, r.Do(f))
	})

	t.Run("gives up after threshold", func(t *testing.T) {
		c = 0
		threshold = 100
		defer func() { threshold = 2 }()

		err := r.Do(f)
		require.Equal(t, ErrThresholdReached, err)
	})

	t.Run("whitelisted errors surface immediately", func(t *testing.T) {
		bar := errors.New("bar")
		wr := NewRetrier(20*time.Millisecond, time.Second, 2).WithErrWhitelist(bar)

		err := wr.Do(func() error { return bar })
		require.EqualError(t, err, bar.Error())
	})
}
