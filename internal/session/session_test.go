package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateToken_AcceptsWellFormed(t *testing.T) {
	err := ValidateToken("abc123-._~+/==", 1000)
	assert.Nil(t, err)
}

func TestValidateToken_RejectsTooLong(t *testing.T) {
	err := ValidateToken(string(make([]byte, 2000)), 1000)
	require.NotNil(t, err)
}

func TestValidateToken_RejectsBadCharacters(t *testing.T) {
	err := ValidateToken("has spaces!", 1000)
	require.NotNil(t, err)
}

func TestValidateToken_RejectsEmpty(t *testing.T) {
	err := ValidateToken("", 1000)
	require.NotNil(t, err)
}

func TestStore_CreateGetDestroy(t *testing.T) {
	st := NewStore(time.Hour, time.Hour)
	defer st.Stop()

	id := st.Create("tok-1")
	assert.NotEmpty(t, id)

	s, ok := st.Get(id)
	require.True(t, ok)
	assert.Equal(t, "tok-1", s.AuthToken)

	st.Destroy(id)
	_, ok = st.Get(id)
	assert.False(t, ok)
}

func TestStore_DestroyIsIdempotent(t *testing.T) {
	st := NewStore(time.Hour, time.Hour)
	defer st.Stop()

	id := st.Create("")
	var mu sync.Mutex
	count := 0
	st.OnDestroy(func(sessionID string) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	st.Destroy(id)
	st.Destroy(id)
	st.Destroy(id)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestStore_GetUnknownID(t *testing.T) {
	st := NewStore(time.Hour, time.Hour)
	defer st.Stop()

	_, ok := st.Get("does-not-exist")
	assert.False(t, ok)
}

func TestStore_SweepExpiresIdleSessions(t *testing.T) {
	st := NewStore(10*time.Millisecond, time.Hour)
	defer st.Stop()

	id := st.Create("tok")
	time.Sleep(30 * time.Millisecond)

	n := st.Sweep(time.Now())
	assert.Equal(t, 1, n)

	_, ok := st.Get(id)
	assert.False(t, ok)
}

func TestStore_GetRefreshesActivityBeforeExpiry(t *testing.T) {
	st := NewStore(50*time.Millisecond, time.Hour)
	defer st.Stop()

	id := st.Create("tok")
	time.Sleep(30 * time.Millisecond)
	_, ok := st.Get(id) // touches activity, should survive
	require.True(t, ok)

	time.Sleep(30 * time.Millisecond)
	_, ok = st.Get(id) // only 30ms since last touch, still alive
	assert.True(t, ok)
}

func TestStore_DestroyAll(t *testing.T) {
	st := NewStore(time.Hour, time.Hour)
	defer st.Stop()

	st.Create("a")
	st.Create("b")
	st.Create("c")
	assert.Equal(t, 3, st.Count())

	st.DestroyAll()
	assert.Equal(t, 0, st.Count())
}

func TestStore_ConcurrentCreateIsRaceSafe(t *testing.T) {
	st := NewStore(time.Hour, time.Hour)
	defer st.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st.Create("tok")
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, st.Count())
}
