package session

import (
	"strconv"
	"strings"

	"github.com/JakeFAU/tagfeed/internal/feed"
	"github.com/JakeFAU/tagfeed/internal/queue"
)

// Mount is the configuration a host hands to one feed instance.
type Mount struct {
	Tag            string `json:"tag" mapstructure:"tag"`
	BatchSize      int    `json:"batch_size" mapstructure:"batch_size"`
	MaxConcurrency int    `json:"max_concurrency" mapstructure:"max_concurrency"`
	ShowStatus     bool   `json:"show_status" mapstructure:"show_status"`
	DisplayName    string `json:"display_name,omitempty" mapstructure:"display_name"`
}

// DefaultMount returns the defaults used for missing attributes.
func DefaultMount() Mount {
	return Mount{
		BatchSize:      feed.DefaultBatchSize,
		MaxConcurrency: queue.DefaultMaxConcurrency,
		ShowStatus:     true,
	}
}

// Normalize trims the tag and display name and clamps the integers to at least 1.
func (m Mount) Normalize() Mount {
	m.Tag = strings.TrimSpace(m.Tag)
	m.DisplayName = strings.TrimSpace(m.DisplayName)
	if m.BatchSize < 1 {
		m.BatchSize = 1
	}
	if m.MaxConcurrency < 1 {
		m.MaxConcurrency = 1
	}
	return m
}

// ParseAttributes reads container attributes such as data-tag,
// data-batch-size (or data-per-page), data-concurrent, data-show-status and
// data-author. The data- prefix is optional. Unparseable integers keep their
// defaults and the status line is hidden only by the literal "false".
func ParseAttributes(attrs map[string]string) Mount {
	m := DefaultMount()
	get := func(names ...string) (string, bool) {
		for _, name := range names {
			for _, key := range []string{"data-" + name, name} {
				if v, ok := attrs[key]; ok {
					return strings.TrimSpace(v), true
				}
			}
		}
		return "", false
	}
	if v, ok := get("tag"); ok {
		m.Tag = v
	}
	if v, ok := get("batch-size", "per-page"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			m.BatchSize = n
		}
	}
	if v, ok := get("concurrent", "max-concurrency"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			m.MaxConcurrency = n
		}
	}
	if v, ok := get("show-status"); ok {
		m.ShowStatus = !strings.EqualFold(v, "false")
	}
	if v, ok := get("author", "display-name"); ok {
		m.DisplayName = v
	}
	return m.Normalize()
}
