// Package cmd provides the CLI of the privacy-preserving sensor relay.
//
// # Commands
//
// privacyrelay: Single binary running one role per subcommand.
//
//	go run ./cmd/privacyrelay ssp -f relay.yaml
//	go run ./cmd/privacyrelay proxy -f relay.yaml
//	go run ./cmd/privacyrelay origin -f relay.yaml --proxy=127.0.0.1:5683
//	go run ./cmd/privacyrelay pseudonym --secrets-file=secrets.db --id=127.0.0.1:5685/sensor1
//	go run ./cmd/privacyrelay demo --origins=3 --sensors=2 --interval=2s
//
// # Configuration
//
// All roles read a YAML (.yaml, .yml) or TOML (.toml) file via --config.
// Command-line flags override config file values. Every role has its own
// section:
//
//	log:
//	  level: debug
//	proxy:
//	  origin_listen_addr: "0.0.0.0:5683"
//	  ssp_listen_addr: "0.0.0.0:5684"
//	  metrics_addr: ":9090"
//	  notify_retries: 3
//	origin:
//	  listen_addr: "0.0.0.0:5685"
//	  proxy_addr: "proxy:5683"
//	  ssp_addr: "ssp:5686"
//	  secrets_file: "/var/lib/relay/secrets.db"
//	  pseudonym_window: 1h
//	  symmetric_algorithm: AES-128
//	  sensors:
//	    - name: temperature
//	      serialization: RDF/XML
//	ssp:
//	  listen_addr: "0.0.0.0:5686"
//	  cert_file: "/var/lib/relay/ssp.crt"
//	  key_file: "/var/lib/relay/ssp.key"
//	  algorithm: RSA
//	  key_bits: 1024
//	  postgres:
//	    host: localhost
//	    port: 5432
//	    user: relay
//	    database: readings
//
// Without a postgres section the SSP keeps readings in an in-memory cache.
package cmd
