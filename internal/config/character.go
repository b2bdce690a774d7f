package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ent0n29/cadence/internal/session"
)

// LoadCharacter reads a YAML agent profile:
//
//	name: Ada
//	description: Keeper of the harbour lighthouse.
//	motivation: Keep ships off the rocks.
//	knowledge:
//	  - The lamp is lit at dusk.
//
// Unknown keys are rejected.
func LoadCharacter(path string) (session.Agent, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return session.Agent{}, fmt.Errorf("read character file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	var agent session.Agent
	if err := dec.Decode(&agent); err != nil {
		return session.Agent{}, fmt.Errorf("parse character file %s: %w", path, err)
	}
	agent.Name = strings.TrimSpace(agent.Name)
	if agent.Name == "" {
		return session.Agent{}, errors.New("character file: name is required")
	}
	return agent, nil
}
