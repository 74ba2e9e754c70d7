package app

import (
	"context"

	"hackboard/internal/config"
	"hackboard/internal/janitor"
	logx "hackboard/pkg/logx"
)

// CheckConfig parses path and runs the same checks as a hot reload without
// starting anything.
func CheckConfig(ctx context.Context, path string) (*config.Config, error) {
	cfg, err := config.NewManager(path).Parse()
	if err != nil {
		return nil, err
	}
	a := &App{root: logx.Nop(), janitor: janitor.New(janitorConfig(cfg), logx.Nop())}
	if err := a.validate(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
