//go:build !linux

package capture

import (
	"fmt"
	"runtime"
	"time"

	"firestige.xyz/netprobe/internal/core"
)

func Listen(ifname string, timeout time.Duration, filter bool) (Conn, error) {
	return nil, fmt.Errorf("%w: %w: %s", core.ErrSocket, core.ErrUnsupportedPlatform, runtime.GOOS)
}
