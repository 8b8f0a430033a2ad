package config

import (
	"reflect"
	"sort"
	"strings"

	logx "jobthrottle/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) structured attrs for logging, and (3) the names of jobs that were
// added, removed or modified.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.alert_enabled", newCfg.Logging.Alert.Enabled),
		)
	}

	if !limiterEqual(oldCfg.Limiter, newCfg.Limiter) {
		changed = append(changed, "limiter")
		nl := newCfg.Limiter
		hw := -1
		if nl.HighWater != nil {
			hw = *nl.HighWater
		}
		attrs = append(attrs,
			logx.Int("limiter.concurrency", nl.Concurrency),
			logx.String("limiter.min_time", strings.TrimSpace(nl.MinTime)),
			logx.Int("limiter.high_water", hw),
			logx.String("limiter.strategy", strings.TrimSpace(nl.Strategy)),
			logx.Bool("limiter.reject_on_drop", nl.RejectOnDrop),
		)
	}

	if oldCfg.Scheduler.Enabled != newCfg.Scheduler.Enabled ||
		strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	jobsChanged := diffJobs(oldCfg.Jobs, newCfg.Jobs)
	if len(jobsChanged) > 0 {
		changed = append(changed, "jobs")
		attrs = append(attrs,
			logx.Int("jobs.changed_count", len(jobsChanged)),
			logx.Int("jobs.enabled_count", countEnabledJobs(newCfg.Jobs)),
		)
	}

	// Nil means disabled.
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if strings.TrimSpace(oS.Driver) != strings.TrimSpace(nS.Driver) ||
		strings.TrimSpace(oS.Path) != strings.TrimSpace(nS.Path) ||
		strings.TrimSpace(oS.BusyTimeout) != strings.TrimSpace(nS.BusyTimeout) ||
		oS.MaxRows != nS.MaxRows {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	if oldCfg.Admin != newCfg.Admin {
		changed = append(changed, "admin")
		attrs = append(attrs,
			logx.Bool("admin.enabled", newCfg.Admin.Enabled),
			logx.String("admin.addr", strings.TrimSpace(newCfg.Admin.Addr)),
			logx.Bool("admin.token_set", strings.TrimSpace(newCfg.Admin.Token) != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs, jobsChanged
}

func limiterEqual(a, b LimiterConfig) bool {
	if (a.HighWater == nil) != (b.HighWater == nil) {
		return false
	}
	if a.HighWater != nil && *a.HighWater != *b.HighWater {
		return false
	}
	a.HighWater, b.HighWater = nil, nil
	a.MinTime, b.MinTime = strings.TrimSpace(a.MinTime), strings.TrimSpace(b.MinTime)
	a.StopTimeout, b.StopTimeout = strings.TrimSpace(a.StopTimeout), strings.TrimSpace(b.StopTimeout)
	a.Strategy, b.Strategy = strings.ToLower(strings.TrimSpace(a.Strategy)), strings.ToLower(strings.TrimSpace(b.Strategy))
	return a == b
}

func countEnabledJobs(jobs []JobConfig) int {
	n := 0
	for _, j := range jobs {
		if !j.Disabled {
			n++
		}
	}
	return n
}

func diffJobs(oldJobs, newJobs []JobConfig) []string {
	index := func(jobs []JobConfig) map[string]uint64 {
		m := make(map[string]uint64, len(jobs))
		for _, j := range jobs {
			m[strings.TrimSpace(j.Name)] = hashJSON(j)
		}
		return m
	}
	oldM := index(oldJobs)
	newM := index(newJobs)

	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		o, inOld := oldM[name]
		n, inNew := newM[name]
		if inOld != inNew || o != n {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
