package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFakeAdvanceMovesNow(t *testing.T) {
	f := NewFake(time.Unix(100, 0))
	require.Equal(t, time.Unix(100, 0), f.Now())
	f.Advance(10 * time.Second)
	require.Equal(t, time.Unix(110, 0), f.Now())
}

func TestFakeAfterFiresImmediately(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	ch := f.After(time.Second)
	select {
	case <-ch:
	default:
		t.Fatal("expected fake After channel to be ready immediately")
	}
}
