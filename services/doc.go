/*
Package services implements the nodes of the privacy-preserving sensor relay.

# Nodes

  - DataOrigin serves sensor resources. Each reading is encrypted for the
    origin's single SSP and published under a pseudonym that rotates every
    window. The origin fetches the SSP's certificate and registers with the
    proxy on Start.
  - Proxy accepts registrations on its origin-side listener, discovers and
    observes the origin's sensors and republishes every update byte for byte
    on a forwarding channel (/forwarding/N) on its SSP-side listener.
  - SSP serves its certificate, observes the forwarding channels announced
    to it and stores decrypted readings in a Sink.

# Relay flow

	origin --POST /registry (body: SSP endpoint)--> proxy
	proxy  --POST /registry (body: /forwarding/N)--> SSP
	proxy  --GET /.well-known/core, observe sensors--> origin
	SSP    --observe /forwarding/N--> proxy

The proxy never holds a key able to open an envelope. The SSP only ever
sees the proxy's SSP-side endpoint and the sensor's pseudonym.

# Concurrency

Every node funnels its network events into one channel. The Router is the
single consumer on the proxy: registration state, discovery results and
relayed updates are all applied there, so the Registry and ChannelSet only
need coarse locking.

# Deployment

Orchestrator runs a complete relay in one process:

	o := services.NewOrchestrator(&services.OrchestratorConfig{
		NumOrigins:       2,
		SensorsPerOrigin: 3,
	})
	if err := o.Deploy(); err != nil {
		log.Fatal(err)
	}
	defer o.Shutdown()
	o.Run(ctx)
*/
package services
