package plugins

import (
	"fmt"

	"github.com/vaultship/greenlight/internal/action"
)

// RegisterHandlerPlugins discovers YAML and Go handler definitions under dir
// and registers them with the action registry.
func RegisterHandlerPlugins(reg *action.Registry, dir string) error {
	if reg == nil {
		return nil
	}
	defs, err := loadAllDefinitionFiles(dir)
	if err != nil {
		return err
	}
	if len(defs) == 0 {
		return nil
	}
	seen := make(map[string]string)
	for _, file := range defs {
		def := file.Definition
		if existing, ok := seen[def.ActionType]; ok {
			return fmt.Errorf("plugin: duplicate action type %s (%s and %s)", def.ActionType, existing, file.Path)
		}
		seen[def.ActionType] = file.Path
		defCopy := def
		if err := reg.Register(defCopy.ActionType, func(cfg action.Config) (action.Handler, error) {
			return newDefinitionHandler(defCopy, cfg)
		}); err != nil {
			return fmt.Errorf("plugin: register %s from %s: %w", def.ActionType, file.Path, err)
		}
	}
	return nil
}

func loadAllDefinitionFiles(dir string) ([]DefinitionFile, error) {
	yamlDefs, err := LoadDefinitionDir(dir)
	if err != nil {
		return nil, err
	}
	goDefs, err := LoadGoDefinitionDir(dir)
	if err != nil {
		return nil, err
	}
	return append(yamlDefs, goDefs...), nil
}
