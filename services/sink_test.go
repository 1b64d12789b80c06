package services

import (
	"context"
	"testing"
	"time"

	"github.com/Sebastian-Fischer/PrivIoT-sub000/protocol"
	"github.com/stretchr/testify/require"
)

func TestMemorySink_StoreLatest(t *testing.T) {
	ctx := context.Background()
	sink := NewMemorySink(0)
	defer sink.Close()

	_, ok, err := sink.Latest(ctx, "pseudo")
	require.NoError(t, err)
	require.False(t, ok)

	payload := []byte("23")
	require.NoError(t, sink.Store(ctx, &Reading{
		Pseudonym: "pseudo",
		Format:    protocol.EncryptedRDFXML,
		Payload:   payload,
		Received:  time.Now(),
		Lifetime:  time.Minute,
	}))
	payload[0] = '9'

	got, ok, err := sink.Latest(ctx, "pseudo")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("23"), got.Payload)
	require.Equal(t, protocol.EncryptedRDFXML, got.Format)

	require.NoError(t, sink.Store(ctx, &Reading{Pseudonym: "pseudo", Payload: []byte("24")}))
	got, _, _ = sink.Latest(ctx, "pseudo")
	require.Equal(t, []byte("24"), got.Payload)
}

func TestMemorySink_Expires(t *testing.T) {
	ctx := context.Background()
	sink := NewMemorySink(8)

	require.NoError(t, sink.Store(ctx, &Reading{
		Pseudonym: "short",
		Payload:   []byte("23"),
		Received:  time.Now(),
		Lifetime:  50 * time.Millisecond,
	}))

	require.Eventually(t, func() bool {
		_, ok, err := sink.Latest(ctx, "short")
		return err == nil && !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMemorySink_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	sink := NewMemorySink(2)

	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, sink.Store(ctx, &Reading{Pseudonym: p, Payload: []byte(p)}))
	}
	_, ok, _ := sink.Latest(ctx, "a")
	require.False(t, ok)
	_, ok, _ = sink.Latest(ctx, "c")
	require.True(t, ok)
}

func TestReading_Expired(t *testing.T) {
	now := time.Now()
	r := &Reading{Received: now, Lifetime: time.Second}
	require.False(t, r.Expired(now))
	require.True(t, r.Expired(now.Add(2*time.Second)))

	forever := &Reading{Received: now}
	require.False(t, forever.Expired(now.Add(time.Hour)))
}

func TestPostgresSink_SchemaKeyUnbounded(t *testing.T) {
	require.Contains(t, readingsSchema, "pseudonym TEXT PRIMARY KEY")
	require.NotContains(t, readingsSchema, "VARCHAR")
}
