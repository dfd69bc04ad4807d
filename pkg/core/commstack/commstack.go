// Package commstack is the composition root for transport selection: it
// resolves the configured backend kind to a concrete transport exactly once
// and binds it behind the comm.Default facade. An unknown or unavailable
// kind fails here, at resolution time; a resolved binding can no longer fail
// for configuration reasons.
package commstack

import (
	"strings"

	"go.uber.org/zap"

	"github.com/Xyzic/yggdrasil/pkg/comm"
	"github.com/Xyzic/yggdrasil/pkg/comm/ipc"
	"github.com/Xyzic/yggdrasil/pkg/comm/quicsock"
	"github.com/Xyzic/yggdrasil/pkg/comm/socket"
	"github.com/Xyzic/yggdrasil/pkg/config"
	"github.com/Xyzic/yggdrasil/pkg/protocol/codec"
)

// ErrUnknownKind reports a backend kind with no implementation.
type ErrUnknownKind string

func (e ErrUnknownKind) Error() string { return "unknown transport kind: " + string(e) }

// NewByKind constructs a Transport by string kind, tuned from cfg. A nil cfg
// means defaults.
func NewByKind(kind string, cfg *config.Config) (comm.Transport, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	cdc := codec.ByName(cfg.Comm.Wire.Codec)
	switch kind {
	case "ipc", "queue", "":
		return ipc.NewWithOptions(ipc.Options{Depth: cfg.Comm.Queue.Depth}), nil
	case "socket", "tcp", "zmq":
		return socket.NewWithOptions(socket.Options{
			Host:     cfg.Comm.Socket.Host,
			Codec:    cdc,
			MaxFrame: cfg.Comm.Wire.MaxFrame,
		})
	case "quic":
		return quicsock.NewWithOptions(quicsock.Options{
			Host:     cfg.Comm.Socket.Host,
			Codec:    cdc,
			MaxFrame: cfg.Comm.Wire.MaxFrame,
		})
	case "pipe", "winpipe":
		return newPipeTransport(cfg)
	default:
		return nil, ErrUnknownKind(kind)
	}
}

// AddressFor interprets s in the bound transport's own notation. Socket-style
// transports bind for recv endpoints and connect for send endpoints.
func AddressFor(d *comm.Default, s string, dir comm.Direction) (comm.Address, error) {
	switch d.Type() {
	case comm.TypeIPC:
		return ipc.Addr(s), nil
	case comm.TypeSocket:
		if dir == comm.DirRecv {
			return socket.Listen(strings.TrimPrefix(s, "tcp://")), nil
		}
		return socket.Connect(s), nil
	case comm.TypeQUIC:
		if dir == comm.DirRecv {
			return quicsock.Listen(strings.TrimPrefix(s, "quic://")), nil
		}
		return quicsock.Connect(s), nil
	case comm.TypePipe:
		return pipeAddress(s)
	default:
		return nil, ErrUnknownKind(d.Type().String())
	}
}

// FromConfig resolves cfg.Comm.Default and returns the bound facade. This is
// the single selection point: calling code takes the returned binding and
// never names a backend again.
func FromConfig(cfg *config.Config) (*comm.Default, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	tr, err := NewByKind(cfg.Comm.Default, cfg)
	if err != nil {
		return nil, err
	}
	d, err := comm.NewDefault(tr)
	if err != nil {
		return nil, err
	}
	zap.L().Info("default transport bound", zap.Stringer("kind", d.Type()))
	return d, nil
}
