package daemon

import (
	"fmt"

	"github.com/meshagent/meshnode/internal/config"
	"github.com/meshagent/meshnode/internal/hooks"
)

// parseHooks converts the raw config hooks (event still a map[string]any, as
// loaded by the YAML/JSON5 decoder) into validated hooks.Hook values,
// failing startup on the first hook with an unparseable event rather than
// silently dropping it.
func parseHooks(raw []config.RawEventHook) ([]hooks.Hook, error) {
	out := make([]hooks.Hook, 0, len(raw))
	for _, h := range raw {
		ev, err := hooks.ParseEvent(h.Event)
		if err != nil {
			return nil, fmt.Errorf("hook %q: %w", h.Name, err)
		}
		out = append(out, hooks.Hook{
			Name:        h.Name,
			Enabled:     h.Enabled,
			Event:       ev,
			Prompt:      h.Prompt,
			CooldownMS:  h.CooldownMS,
			NotifyPeers: h.NotifyPeers,
			PeerPrompt:  h.PeerPrompt,
		})
	}
	return out, nil
}
