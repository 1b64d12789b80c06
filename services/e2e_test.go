package services

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sebastian-Fischer/PrivIoT-sub000/crypto"
	"github.com/Sebastian-Fischer/PrivIoT-sub000/envelope"
	"github.com/Sebastian-Fischer/PrivIoT-sub000/protocol"
	"github.com/Sebastian-Fischer/PrivIoT-sub000/pseudonym"
	"github.com/stretchr/testify/require"
)

// TestE2E_FullFlow runs an origin, a proxy and an SSP on local transports.
// The origin registers, the proxy discovers and observes its sensor and
// relays the encrypted reading to /forwarding/1, where the SSP decrypts it.
func TestE2E_FullFlow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping E2E test in short mode")
	}

	cases := []struct {
		name      string
		alg       crypto.Algorithm
		bits      int
		symmetric string
		legacy    bool
	}{
		{"RSA-1024/AES-128", crypto.RSA, 1024, "AES-128", false},
		{"ECIES-256/AES-256 legacy", crypto.ECIES, 256, "AES-256", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
			defer cancel()

			sspSrv, sspClient := newNode(t)
			proxyOriginSrv, proxyOriginClient := newNode(t)
			proxySSPSrv, proxySSPClient := newNode(t)
			originSrv, originClient := newNode(t)

			identity, err := NewNodeIdentity("ssp", tc.alg, tc.bits, time.Hour)
			require.NoError(t, err)

			sink := NewMemorySink(0)
			ssp := NewSSP(&SSPConfig{Mux: sspSrv, Client: sspClient, Identity: identity, Sink: sink})
			ssp.Start()
			t.Cleanup(ssp.Close)

			proxy := NewProxy(&ProxyConfig{
				OriginMux:    proxyOriginSrv,
				SSPMux:       proxySSPSrv,
				OriginClient: proxyOriginClient,
				SSPClient:    proxySSPClient,
			})
			proxy.Start()
			t.Cleanup(proxy.Close)

			now := time.Now()
			gen := &pseudonym.Generator{Now: func() time.Time { return now }}
			secrets := pseudonym.NewMemorySecretStore()
			origin := NewDataOrigin(&OriginConfig{
				Mux:                originSrv,
				Client:             originClient,
				ProxyAddr:          proxyOriginSrv.Addr(),
				SSPAddr:            sspSrv.Addr(),
				Secrets:            secrets,
				Pseudonyms:         gen,
				PseudonymWindow:    time.Minute,
				SymmetricAlgorithm: tc.symmetric,
				Legacy:             tc.legacy,
				ContentLifetime:    time.Minute,
			})
			require.NoError(t, origin.AddSensor("sensor1", "RDF/XML"))
			require.NoError(t, origin.Start(ctx))

			rec, err := origin.Keys().Single()
			require.NoError(t, err)
			require.Equal(t, sspSrv.Addr(), rec.PeerAddress)

			require.Eventually(t, func() bool {
				return proxy.Router().State(originSrv.Addr()) == StateObserving
			}, 5*time.Second, 10*time.Millisecond)
			require.Eventually(t, func() bool {
				return len(ssp.Observed()) == 1
			}, 5*time.Second, 10*time.Millisecond)
			require.Equal(t, ServiceURI{Endpoint: proxySSPSrv.Addr(), Path: "/forwarding/1"}, ssp.Observed()[0])

			require.NoError(t, origin.Publish(ctx, "sensor1", []byte("23")))

			sensorURI := ServiceURI{Endpoint: originSrv.Addr(), Path: "/sensor1"}.String()
			secret, err := secrets.Get(sensorURI)
			require.NoError(t, err)
			want, err := gen.Generate(sensorURI, time.Minute, secret)
			require.NoError(t, err)

			var reading *Reading
			require.Eventually(t, func() bool {
				r, ok, err := sink.Latest(ctx, want)
				reading = r
				return err == nil && ok
			}, 5*time.Second, 10*time.Millisecond)
			require.Equal(t, []byte("23"), reading.Payload)
			require.Equal(t, protocol.EncryptedRDFXML, reading.Format)
			require.Equal(t, time.Minute, reading.Lifetime)
			require.Equal(t, StateRelaying, proxy.Router().State(originSrv.Addr()))

			// The proxy only ever held the envelope.
			ch, ok := proxy.Channels().ForSSP(sspSrv.Addr())
			require.True(t, ok)
			_, relayed, _ := ch.Snapshot()
			env, err := envelope.Decode(relayed)
			require.NoError(t, err)
			require.Equal(t, want, env.PseudonymOrOriginURI)
			if tc.legacy {
				require.Equal(t, envelope.SchemeLegacy, env.Scheme)
			} else {
				require.Equal(t, envelope.SchemeCanonical, env.Scheme)
			}
		})
	}
}

func TestDataOrigin_PublishRequiresSingleRecipient(t *testing.T) {
	mux := newFakeMux("origin.example:5683")
	origin := NewDataOrigin(&OriginConfig{Mux: mux, Client: newFakeClient()})
	require.NoError(t, origin.AddSensor("temp", "turtle"))
	require.Error(t, origin.AddSensor("temp", "turtle"))
	require.Error(t, origin.AddSensor("humidity", "json"))

	err := origin.Publish(context.Background(), "temp", []byte("23"))
	require.ErrorIs(t, err, ErrNoRecipient)

	err = origin.Publish(context.Background(), "missing", []byte("23"))
	require.Error(t, err)

	for _, peer := range []string{"ssp-a:5683", "ssp-b:5683"} {
		id := newTestIdentity(t, crypto.RSA, 1024)
		pub, err := crypto.MarshalPublicKey(id.Certificate.PublicKey)
		require.NoError(t, err)
		origin.Keys().Put(PublicKeyRecord{PeerAddress: peer, PublicKey: pub})
	}
	err = origin.Publish(context.Background(), "temp", []byte("23"))
	require.ErrorIs(t, err, ErrAmbiguousRecipient)

	h, ok := mux.handler("/temp")
	require.True(t, ok)
	resp := h.ServeRequest(context.Background(), &protocol.Request{Method: protocol.GET})
	require.Empty(t, resp.Payload)

	dir, ok := mux.handler(protocol.WellKnownCore)
	require.True(t, ok)
	resp = dir.ServeRequest(context.Background(), &protocol.Request{Method: protocol.GET})
	require.Equal(t, `</temp>;ct="65103";obs`, string(resp.Payload))
}

func TestDataOrigin_PublishUpdatesResource(t *testing.T) {
	mux := newFakeMux("origin.example:5683")
	origin := NewDataOrigin(&OriginConfig{Mux: mux, Client: newFakeClient(), ContentLifetime: 30 * time.Second})
	require.NoError(t, origin.AddSensor("/temp/", "N3"))

	id := newTestIdentity(t, crypto.RSA, 1024)
	pub, err := crypto.MarshalPublicKey(id.Certificate.PublicKey)
	require.NoError(t, err)
	origin.Keys().Put(PublicKeyRecord{PeerAddress: "ssp:5683", PublicKey: pub})

	require.NoError(t, origin.Publish(context.Background(), "temp", []byte("23")))

	h, _ := mux.handler("/temp")
	resp := h.ServeRequest(context.Background(), &protocol.Request{Method: protocol.GET, Accept: protocol.EncryptedFormats})
	require.Equal(t, protocol.Content, resp.Code)
	require.Equal(t, protocol.EncryptedN3, resp.ContentFormat)
	require.Equal(t, uint32(30), resp.MaxAge)

	env, err := envelope.Decode(resp.Payload)
	require.NoError(t, err)
	plaintext, err := crypto.DecryptWithPrivateKey(env, id.PrivateKey)
	require.NoError(t, err)
	require.Equal(t, []byte("23"), plaintext)
	require.Equal(t, 30, env.ContentLifetime)
}

func TestSSP_RegistryHandler(t *testing.T) {
	mux := newFakeMux("ssp.example:5683")
	ssp := NewSSP(&SSPConfig{
		Mux:      mux,
		Client:   newFakeClient(),
		Identity: newTestIdentity(t, crypto.RSA, 1024),
	})
	defer ssp.Close()

	h, ok := mux.handler(RegistryPath)
	require.True(t, ok)

	resp := h.ServeRequest(context.Background(), &protocol.Request{Method: protocol.GET})
	require.Equal(t, protocol.MethodNotAllowed, resp.Code)
	require.Contains(t, string(resp.Payload), "POST")

	resp = h.ServeRequest(context.Background(), &protocol.Request{Method: protocol.POST, Payload: []byte("forwarding/1"), Peer: "proxy:5684"})
	require.Equal(t, protocol.BadRequest, resp.Code)

	req := &protocol.Request{Method: protocol.POST, Payload: []byte("/forwarding/1"), Peer: "proxy:5684"}
	require.Equal(t, protocol.Created, h.ServeRequest(context.Background(), req).Code)
	require.Equal(t, protocol.Changed, h.ServeRequest(context.Background(), req).Code)
}

func TestSSP_DropsBadEnvelopes(t *testing.T) {
	mux := newFakeMux("ssp.example:5683")
	sink := NewMemorySink(0)
	ssp := NewSSP(&SSPConfig{
		Mux:      mux,
		Client:   newFakeClient(),
		Identity: newTestIdentity(t, crypto.RSA, 1024),
		Sink:     sink,
	})
	defer ssp.Close()

	ev := UpdateReceived{ContentFormat: protocol.EncryptedRDFXML, Payload: []byte("not xml")}
	ssp.consume(context.Background(), ev)

	// Encrypted for someone else.
	other := newTestIdentity(t, crypto.RSA, 1024)
	pub, err := crypto.MarshalPublicKey(other.Certificate.PublicKey)
	require.NoError(t, err)
	env, err := crypto.EncryptForRecipient([]byte("23"), "p", 60, pub, crypto.DefaultParameters)
	require.NoError(t, err)
	data, err := envelope.Encode(env)
	require.NoError(t, err)
	ssp.consume(context.Background(), UpdateReceived{ContentFormat: protocol.EncryptedRDFXML, Payload: data})

	_, ok, err := sink.Latest(context.Background(), "p")
	require.NoError(t, err)
	require.False(t, ok)
}

type purgeCountingSink struct {
	*MemorySink
	purges atomic.Int32
}

func (s *purgeCountingSink) PurgeExpired(context.Context) (int64, error) {
	s.purges.Add(1)
	return 1, nil
}

func TestSSP_PurgesExpiringSink(t *testing.T) {
	sink := &purgeCountingSink{MemorySink: NewMemorySink(0)}
	ssp := NewSSP(&SSPConfig{
		Mux:           newFakeMux("ssp.example:5683"),
		Client:        newFakeClient(),
		Identity:      newTestIdentity(t, crypto.RSA, 1024),
		Sink:          sink,
		PurgeInterval: 10 * time.Millisecond,
	})
	ssp.Start()

	require.Eventually(t, func() bool {
		return sink.purges.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	ssp.Close()
	stopped := sink.purges.Load()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, stopped, sink.purges.Load())
}
