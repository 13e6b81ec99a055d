/*
Package config loads the boardsync YAML configuration.

Default returns a complete configuration; Load decodes a file over it, so a
file only needs the values it changes. Durations use Go syntax ("500ms",
"30s"). Unknown keys are errors.

	server:
	  node_id: node-1
	  data_dir: /var/lib/boardsync
	  raft_addr: 127.0.0.1:7946
	  grpc_addr: 0.0.0.0:8080
	  readonly_socket: /run/boardsync/api.sock
	  metrics_addr: 127.0.0.1:9090
	redis:
	  addr: localhost:6379
	  prefix: boardsync
	  presence_ttl: 30s
	sync:
	  write_timeout: 10s
	  gap_timeout: 5s
	  max_buffer: 256
	  resubscribe_delay: 1s
	presence:
	  backoff_base: 1s
	  backoff_cap: 30s
	  jitter: 0.2
	log:
	  level: info
	  json: false

Command-line flags of the boardsync binary override file values.
*/
package config
