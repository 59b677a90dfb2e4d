package steps

import (
	"context"
	"time"
)

// RegisterBrowserHandlers registers generic page steps.
func RegisterBrowserHandlers(reg *Registry) {
	reg.Register(`I navigate to "([^"]*)"`, handleNavigate)
	reg.Register(`I click "([^"]*)"`, handleClick)
	reg.Register(`I fill "([^"]*)" with "([^"]*)"`, handleFill)
	reg.Register(`I press "([^"]*)" in "([^"]*)"`, handlePress)
	reg.Register(`I wait (.+)`, handleWait)
}

// RegisterDefaults registers all built-in handlers.
func RegisterDefaults(reg *Registry) {
	RegisterGoogleHandlers(reg)
	RegisterBrowserHandlers(reg)
}

func handleNavigate(ctx context.Context, sc *Context, args []string) error {
	return sc.Page.Navigate(ctx, expandVars(args[0], sc.Vars))
}

func handleClick(ctx context.Context, sc *Context, args []string) error {
	return sc.Page.Click(ctx, args[0])
}

func handleFill(ctx context.Context, sc *Context, args []string) error {
	return sc.Page.Fill(ctx, args[0], expandVars(args[1], sc.Vars))
}

func handlePress(ctx context.Context, sc *Context, args []string) error {
	return sc.Page.Press(ctx, args[1], args[0])
}

func handleWait(ctx context.Context, _ *Context, args []string) error {
	duration, err := parseWait(args[0])
	if err != nil {
		return err
	}
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
