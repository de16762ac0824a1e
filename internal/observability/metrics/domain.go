package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

type labeledKey struct {
	name  string
	label string
	value string
}

// domainMetrics 聚合业务侧的简单计数器。
type domainMetrics struct {
	mu       sync.Mutex
	counters map[labeledKey]uint64
}

var domainCollector = &domainMetrics{counters: make(map[labeledKey]uint64)}

// ObservePlan 记录一次计划终态。
func ObservePlan(status string) {
	domainCollector.inc("guardian_plans_total", "status", status)
}

// ObserveIntentParse 记录一次意图解析，path 为 llm 或 fallback。
func ObserveIntentParse(path string) {
	domainCollector.inc("guardian_intent_parse_total", "path", path)
}

// ObserveUpstreamRetry 记录一次上游重试。
func ObserveUpstreamRetry(service string) {
	domainCollector.inc("guardian_upstream_retries_total", "service", service)
}

func (m *domainMetrics) inc(name, label, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[labeledKey{name: name, label: label, value: value}]++
}

func (m *domainMetrics) render() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]labeledKey, 0, len(m.counters))
	for key := range m.counters {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].name != keys[j].name {
			return keys[i].name < keys[j].name
		}
		return keys[i].value < keys[j].value
	})

	var builder strings.Builder
	lastName := ""
	for _, key := range keys {
		if key.name != lastName {
			builder.WriteString(fmt.Sprintf("# TYPE %s counter\n", key.name))
			lastName = key.name
		}
		builder.WriteString(fmt.Sprintf("%s{%s=\"%s\"} %d\n",
			key.name, key.label, escape(key.value), m.counters[key]))
	}
	return builder.String()
}
