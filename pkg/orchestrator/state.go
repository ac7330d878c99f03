package orchestrator

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/wendelmax/polis/pkg/log"
	"github.com/wendelmax/polis/pkg/perr"
	"github.com/wendelmax/polis/pkg/types"
)

// persistedState is the on-disk shape of §4.5's durable state: "{deployments,
// services} is serialized as JSON to data/orchestrator_state.json after
// every mutating operation".
type persistedState struct {
	Deployments map[types.DeploymentId]*types.Deployment `json:"deployments"`
	Services    map[types.DeploymentId]*types.Service    `json:"services"`
}

// loadState reads and decodes path. A missing or malformed file is
// treated as empty state and logged, never returned as an error — the
// orchestrator must still be able to start cleanly on first run.
func loadState(path string) persistedState {
	state := persistedState{
		Deployments: make(map[types.DeploymentId]*types.Deployment),
		Services:    make(map[types.DeploymentId]*types.Service),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.WithComponent("orchestrator").Warn().Err(err).Str("path", path).Msg("could not read orchestrator state, starting empty")
		}
		return state
	}

	var decoded persistedState
	if err := json.Unmarshal(data, &decoded); err != nil {
		log.WithComponent("orchestrator").Warn().Err(err).Str("path", path).Msg("orchestrator state file malformed, starting empty")
		return state
	}

	if decoded.Deployments != nil {
		state.Deployments = decoded.Deployments
	}
	if decoded.Services != nil {
		state.Services = decoded.Services
	}
	return state
}

// saveState writes state to path as JSON, creating its parent directory
// if needed.
func saveState(path string, state persistedState) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return perr.New(perr.Storage, "persist_state", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return perr.New(perr.Serialization, "persist_state", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return perr.New(perr.Storage, "persist_state", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return perr.New(perr.Storage, "persist_state", err)
	}
	return nil
}
