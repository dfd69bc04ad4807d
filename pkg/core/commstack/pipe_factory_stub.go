//go:build !windows

package commstack

import (
	"fmt"

	"github.com/Xyzic/yggdrasil/pkg/comm"
	"github.com/Xyzic/yggdrasil/pkg/config"
)

func newPipeTransport(*config.Config) (comm.Transport, error) {
	return nil, fmt.Errorf("pipe transport is not supported on this platform")
}

func pipeAddress(string) (comm.Address, error) {
	return nil, fmt.Errorf("pipe transport is not supported on this platform")
}
