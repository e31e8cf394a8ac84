package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConsumeFreshClearsFlag(t *testing.T) {
	flags := NewFreshFlags()
	flags.MarkFresh("s1")

	require.True(t, flags.ConsumeFresh("s1"))
	require.False(t, flags.ConsumeFresh("s1"), "flag must be consumed exactly once")
}

func TestSessionsDoNotInterfere(t *testing.T) {
	flags := NewFreshFlags()
	flags.MarkFresh("s1")

	require.False(t, flags.ConsumeFresh("s2"))
	require.True(t, flags.ConsumeFresh("s1"))
}

func TestEmptySessionIDIsIgnored(t *testing.T) {
	flags := NewFreshFlags()
	flags.MarkFresh("")
	require.False(t, flags.ConsumeFresh(""))
}

func TestConcurrentConsumeYieldsSingleWinner(t *testing.T) {
	flags := NewFreshFlags()
	flags.MarkFresh("s1")

	var wg sync.WaitGroup
	winners := make(chan bool, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if flags.ConsumeFresh("s1") {
				winners <- true
			}
		}()
	}
	wg.Wait()
	close(winners)

	count := 0
	for range winners {
		count++
	}
	require.Equal(t, 1, count)
}
