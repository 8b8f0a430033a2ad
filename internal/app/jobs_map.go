package app

import (
	"errors"
	"fmt"
	"strings"

	"jobthrottle/internal/task/limiter"
	"jobthrottle/internal/task/runner"
	"jobthrottle/internal/task/scheduler"
	logx "jobthrottle/pkg/logx"
)

// mapJobs turns the enabled jobs into scheduler triggers backed by commands.
func mapJobs(cfg *Config, log logx.Logger) ([]scheduler.Trigger, error) {
	if cfg == nil {
		return nil, nil
	}
	seen := make(map[string]struct{}, len(cfg.Jobs))
	out := make([]scheduler.Trigger, 0, len(cfg.Jobs))
	var errs []error
	for i, jc := range cfg.Jobs {
		name := strings.TrimSpace(jc.Name)
		key := fmt.Sprintf("jobs[%d]", i)
		if name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", key))
			continue
		}
		key = fmt.Sprintf("jobs[%s]", name)
		if _, dup := seen[name]; dup {
			errs = append(errs, fmt.Errorf("%s: duplicate name", key))
			continue
		}
		seen[name] = struct{}{}

		if strings.TrimSpace(jc.Command) == "" {
			errs = append(errs, fmt.Errorf("%s.command is required", key))
			continue
		}
		if err := scheduler.ValidateSchedule(jc.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("%s.schedule: %w", key, err))
			continue
		}
		prio := limiter.DefaultPriority
		if jc.Priority != nil {
			prio = *jc.Priority
			if prio < limiter.MinPriority || prio > limiter.MaxPriority {
				errs = append(errs, fmt.Errorf("%s.priority must be %d..%d", key, limiter.MinPriority, limiter.MaxPriority))
				continue
			}
		}
		timeout, err := parseDurationField(key+".timeout", jc.Timeout)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if jc.Disabled {
			continue
		}

		cmd := runner.Command{
			Name:    name,
			Path:    jc.Command,
			Args:    jc.Args,
			Dir:     jc.Dir,
			Env:     jc.Env,
			Timeout: timeout,
		}
		out = append(out, scheduler.Trigger{
			Name:     name,
			Schedule: jc.Schedule,
			Priority: prio,
			Work:     cmd.Work(log.With(logx.String("job", name))),
		})
	}
	return out, errors.Join(errs...)
}
