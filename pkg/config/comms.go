package config

// CommConfig selects the default transport backend and carries per-backend
// settings. Exactly one backend is active per process; changing it means
// reloading configuration and restarting, never a runtime switch.
// Example YAML:
// comm:
//
//	default: ipc
//	queue:
//	  depth: 64
//	socket:
//	  host: 127.0.0.1
//	wire:
//	  codec: cbor
//	  max_frame: 65536
type CommConfig struct {
	// Default: ipc, socket, quic, or pipe
	Default string `mapstructure:"default"`

	Queue  QueueConfig  `mapstructure:"queue"`
	Socket SocketConfig `mapstructure:"socket"`
	Wire   WireConfig   `mapstructure:"wire"`
}

// QueueConfig tunes the local ipc queue backend.
type QueueConfig struct {
	// Depth is the per-queue message capacity; senders block when full.
	Depth int `mapstructure:"depth"`
}

// SocketConfig tunes the socket and quic backends.
type SocketConfig struct {
	// Host used when minting fresh listen addresses (port is ephemeral).
	Host string `mapstructure:"host"`
	// PipeName base for the windows named-pipe backend.
	PipeName string `mapstructure:"pipe_name"`
}

// WireConfig tunes envelope framing for wire-backed backends.
type WireConfig struct {
	// Codec: cbor or json
	Codec string `mapstructure:"codec"`
	// MaxFrame is the payload cap per frame; larger messages are split.
	MaxFrame int `mapstructure:"max_frame"`
}
