package metrics

// Config holds the policy constants of the metrics engine.
type Config struct {
	WindowDays        int    `toml:"window_days"`
	TopMerchants      int    `toml:"top_merchants"`
	TopLargest        int    `toml:"top_largest"`
	TopRecurring      int    `toml:"top_recurring"`
	MinRecurringCount int    `toml:"min_recurring_count"`
	TopSpikes         int    `toml:"top_spikes"`
	FallbackTimezone  string `toml:"fallback_timezone"`
}

// DefaultConfig returns the standard dashboard parameters.
func DefaultConfig() Config {
	return Config{
		WindowDays:        90,
		TopMerchants:      8,
		TopLargest:        8,
		TopRecurring:      10,
		MinRecurringCount: 3,
		TopSpikes:         5,
		FallbackTimezone:  "UTC",
	}
}

// withDefaults fills non-positive or empty fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WindowDays <= 0 {
		c.WindowDays = d.WindowDays
	}
	if c.TopMerchants <= 0 {
		c.TopMerchants = d.TopMerchants
	}
	if c.TopLargest <= 0 {
		c.TopLargest = d.TopLargest
	}
	if c.TopRecurring <= 0 {
		c.TopRecurring = d.TopRecurring
	}
	if c.MinRecurringCount <= 0 {
		c.MinRecurringCount = d.MinRecurringCount
	}
	if c.TopSpikes <= 0 {
		c.TopSpikes = d.TopSpikes
	}
	if c.FallbackTimezone == "" {
		c.FallbackTimezone = d.FallbackTimezone
	}
	return c
}
