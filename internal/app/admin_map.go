package app

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"jobthrottle/internal/observability/admin"
	"jobthrottle/internal/runtime/supervisor"
	"jobthrottle/internal/task/limiter"
	"jobthrottle/internal/task/scheduler"
)

// mapAdminConfig validates and converts the admin section. It never starts the server.
func mapAdminConfig(cfg *Config) (admin.Config, error) {
	var out admin.Config
	if cfg == nil {
		return out, nil
	}
	ac := cfg.Admin

	out.Enabled = ac.Enabled
	out.AllowInsecure = ac.AllowInsecure
	out.Token = strings.TrimSpace(ac.Token)
	out.Addr = strings.TrimSpace(ac.Addr)
	if out.Addr == "" {
		out.Addr = admin.DefaultAddr
	}

	readTO, err := parseDurationOrDefault("admin.read_timeout", ac.ReadTimeout, 5*time.Second)
	if err != nil {
		return out, err
	}
	idleTO, err := parseDurationOrDefault("admin.idle_timeout", ac.IdleTimeout, 120*time.Second)
	if err != nil {
		return out, err
	}
	out.ReadTimeout = readTO
	out.IdleTimeout = idleTO

	if out.Enabled {
		if _, _, err := net.SplitHostPort(out.Addr); err != nil {
			return out, fmt.Errorf("admin.addr: invalid %q (expected host:port): %w", out.Addr, err)
		}
		if !out.AllowInsecure && out.Token == "" && !admin.IsLoopbackAddr(out.Addr) {
			return out, fmt.Errorf("admin: binding to non-loopback addr requires token or allow_insecure=true")
		}
	}
	return out, nil
}

// Status is the admin /status payload.
type Status struct {
	Limiter    limiter.Snapshot       `json:"limiter"`
	Scheduler  scheduler.Snapshot     `json:"scheduler"`
	Loops      []supervisor.LoopStats `json:"loops,omitempty"`
	BusDropped uint64                 `json:"bus_dropped"`
}

// adminBackend exposes the app to the admin server.
type adminBackend struct{ a *App }

func (b adminBackend) Status() any {
	st := Status{
		Limiter:    b.a.lim.Snapshot(),
		Scheduler:  b.a.sched.Snapshot(),
		BusDropped: b.a.bus.Dropped(),
	}
	if b.a.sup != nil {
		st.Loops = b.a.sup.Stats()
	}
	return st
}

func (b adminBackend) RunNow(name string) (admin.RunResult, error) {
	f, err := b.a.sched.RunNow(name)
	if errors.Is(err, scheduler.ErrUnknown) {
		return admin.RunResult{}, fmt.Errorf("%w: %s", admin.ErrUnknownJob, name)
	}
	if err != nil {
		return admin.RunResult{}, err
	}
	res := admin.RunResult{Name: name}
	// Admission drops and a stopped limiter resolve before RunNow returns.
	if r, done := f.Result(); done {
		res.Dropped = r.Dropped
		if r.Err != nil {
			res.Error = r.Err.Error()
		}
	}
	return res, nil
}
