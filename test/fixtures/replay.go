package fixtures

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/eliteGoblin/focusd/capguard/internal/domain"
	"github.com/eliteGoblin/focusd/capguard/internal/infra"
)

// Replay performs every primitive command read from r on host, the way a
// host shell would, and returns the decisions reported in between.
func Replay(r io.Reader, host *FakeHostWindow) ([]domain.Decision, error) {
	var decisions []domain.Decision
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		var cmd infra.BridgeCommand
		if err := json.Unmarshal(scanner.Bytes(), &cmd); err != nil {
			return decisions, fmt.Errorf("bad command %q: %w", scanner.Text(), err)
		}
		if cmd.Decision != nil {
			decisions = append(decisions, *cmd.Decision)
			continue
		}
		if cmd.Value == nil {
			return decisions, fmt.Errorf("command %q has no value", cmd.Primitive)
		}

		var err error
		switch cmd.Primitive {
		case infra.PrimitiveSecureFlag:
			err = host.SetSecureRenderingFlag(*cmd.Value)
		case infra.PrimitiveOpaqueCover:
			if *cmd.Value {
				err = host.ShowOpaqueCover()
			} else {
				err = host.HideOpaqueCover()
			}
		case infra.PrimitiveWindowVisible:
			err = host.SetWindowVisible(*cmd.Value)
		default:
			return decisions, fmt.Errorf("unknown primitive %q", cmd.Primitive)
		}
		if err != nil {
			return decisions, err
		}
	}
	return decisions, scanner.Err()
}
