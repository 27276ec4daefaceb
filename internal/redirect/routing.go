package redirect

import (
	"fmt"
	"strings"
	"time"

	"github.com/dharsanguruparan/qrdrop/internal/model"
	"github.com/dharsanguruparan/qrdrop/internal/safeurl"
)

// Device classes used by device routing.
const (
	DeviceIOS     = "ios"
	DeviceAndroid = "android"
	DeviceDesktop = "desktop"
)

// ClassifyDevice maps a User-Agent onto a device class.
func ClassifyDevice(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"), strings.Contains(ua, "ipod"):
		return DeviceIOS
	case strings.Contains(ua, "android"):
		return DeviceAndroid
	default:
		return DeviceDesktop
	}
}

// destination picks the URL for a scan. scanNumber is the post-increment
// scan count, starting at 1.
func destination(r *model.Redirect, scanNumber int, userAgent string, now time.Time) string {
	cfg := r.RoutingConfig
	if cfg == nil {
		return r.DestinationURL
	}
	switch r.RoutingMode {
	case model.RoutingSequential:
		if len(cfg.URLs) == 0 {
			return r.DestinationURL
		}
		idx := (scanNumber - 1) % len(cfg.URLs)
		if idx < 0 {
			idx = 0
		}
		return cfg.URLs[idx]
	case model.RoutingDevice:
		var target string
		switch ClassifyDevice(userAgent) {
		case DeviceIOS:
			target = cfg.IOS
		case DeviceAndroid:
			target = cfg.Android
		default:
			target = cfg.Desktop
		}
		if target != "" {
			return target
		}
	case model.RoutingTime:
		loc := time.UTC
		if cfg.Timezone != "" {
			if l, err := time.LoadLocation(cfg.Timezone); err == nil {
				loc = l
			}
		}
		local := now.In(loc)
		minute := local.Hour()*60 + local.Minute()
		for _, rule := range cfg.Rules {
			start, err1 := parseClock(rule.Start)
			end, err2 := parseClock(rule.End)
			if err1 != nil || err2 != nil {
				continue
			}
			if inWindow(minute, start, end) {
				return rule.URL
			}
		}
	}
	return r.DestinationURL
}

func inWindow(minute, start, end int) bool {
	if start <= end {
		return minute >= start && minute < end
	}
	// Wraps past midnight.
	return minute >= start || minute < end
}

// parseClock parses HH:MM into minutes past midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// validateRouting checks the mode and every URL in cfg. One bad URL rejects
// the whole config.
func validateRouting(mode model.RoutingMode, cfg *model.RoutingConfig) error {
	switch mode {
	case model.RoutingSimple, model.RoutingSequential, model.RoutingDevice, model.RoutingTime:
	default:
		return model.Invalid("routing_mode", "must be one of simple, sequential, device, time")
	}
	if cfg == nil {
		if mode == model.RoutingSequential || mode == model.RoutingTime {
			return model.Invalid("routing_config", "is required for %s routing", mode)
		}
		return nil
	}
	for i, u := range cfg.URLs {
		if err := safeurl.Validate(fmt.Sprintf("routing_config.urls[%d]", i), u); err != nil {
			return err
		}
	}
	for field, u := range map[string]string{"ios": cfg.IOS, "android": cfg.Android, "desktop": cfg.Desktop} {
		if u == "" {
			continue
		}
		if err := safeurl.Validate("routing_config."+field, u); err != nil {
			return err
		}
	}
	for i, rule := range cfg.Rules {
		field := fmt.Sprintf("routing_config.rules[%d]", i)
		if err := safeurl.Validate(field+".url", rule.URL); err != nil {
			return err
		}
		if _, err := parseClock(rule.Start); err != nil {
			return model.Invalid(field+".start", "must be HH:MM")
		}
		if _, err := parseClock(rule.End); err != nil {
			return model.Invalid(field+".end", "must be HH:MM")
		}
	}
	if cfg.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Timezone); err != nil {
			return model.Invalid("routing_config.timezone", "unknown timezone %q", cfg.Timezone)
		}
	}
	switch mode {
	case model.RoutingSequential:
		if len(cfg.URLs) == 0 {
			return model.Invalid("routing_config.urls", "needs at least one url")
		}
	case model.RoutingTime:
		if len(cfg.Rules) == 0 {
			return model.Invalid("routing_config.rules", "needs at least one rule")
		}
	}
	return nil
}
