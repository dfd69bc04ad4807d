//go:build windows

package commstack

import (
	"github.com/Xyzic/yggdrasil/pkg/comm"
	"github.com/Xyzic/yggdrasil/pkg/comm/pipe"
	"github.com/Xyzic/yggdrasil/pkg/config"
	"github.com/Xyzic/yggdrasil/pkg/protocol/codec"
)

func pipeAddress(s string) (comm.Address, error) { return pipe.Addr(s), nil }

func newPipeTransport(cfg *config.Config) (comm.Transport, error) {
	return pipe.NewWithOptions(pipe.Options{
		BaseName: cfg.Comm.Socket.PipeName,
		Codec:    codec.ByName(cfg.Comm.Wire.Codec),
		MaxFrame: cfg.Comm.Wire.MaxFrame,
	})
}
