package flow

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// yamlFlow is the on-disk shape of a flow definition file. Example:
//
//	clarification:
//	  initial:
//	    transitions: {on_send: awaiting_response}
//	  awaiting_response:
//	    status: waiting_reply
//	    transitions: {on_reply: processing, on_timeout: timed_out}
type yamlFlow map[string]map[string]State

// LoadFile merges flow definitions from a YAML file over the builtin table.
// A flow defined in the file replaces the builtin flow of the same name
// entirely. A missing path returns the builtin table unchanged.
func LoadFile(path string, logger *slog.Logger) (Table, error) {
	table := Builtin()
	if path == "" {
		return table, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logger.Debug("flow definition file does not exist, using builtins", "path", path)
		return table, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read flow definitions: %w", err)
	}

	var parsed yamlFlow
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse flow definitions %s: %w", path, err)
	}

	for name, states := range parsed {
		flow := make(Flow, len(states))
		for state, def := range states {
			flow[state] = def
		}
		if _, exists := table[name]; exists {
			logger.Info("flow definition overridden", "flow", name)
		} else {
			logger.Info("flow definition added", "flow", name)
		}
		table[name] = flow
	}

	return table, nil
}
