//go:build !linux && !darwin

package reactor

import (
	E "github.com/sagernet/sing-relay/common/exceptions"
)

func newPoller(maxEvents int) (poller, error) {
	return nil, E.New("reactor not supported on this platform")
}
