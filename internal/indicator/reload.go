package indicator

import (
	"fmt"
	"log"
)

// Reload swaps the configured indicator set. Candle history is kept, so
// newly added indicators are computed over the full existing window on the
// next Update or Series call. The new set is validated first; on error the
// engine is left unchanged.
func (e *Engine) Reload(settings []Settings) error {
	if err := ValidateSettings(settings); err != nil {
		return err
	}

	e.mu.Lock()
	old := e.settings
	e.settings = append([]Settings(nil), settings...)
	symbols := len(e.history)
	e.mu.Unlock()

	added, removed := diffSettings(old, settings)
	log.Printf("[reload] indicator set reloaded: %d configured, %d added, %d removed, %d symbol histories preserved",
		len(settings), added, removed, symbols)
	return nil
}

// ValidateSettings checks every entry and rejects exact duplicates.
func ValidateSettings(settings []Settings) error {
	seen := make(map[string]bool, len(settings))
	for i, s := range settings {
		if s == nil {
			return fmt.Errorf("indicator %d: nil settings", i)
		}
		if err := s.Validate(); err != nil {
			return fmt.Errorf("indicator %d: %w", i, err)
		}
		key := settingsKey(s)
		if seen[key] {
			return fmt.Errorf("duplicate indicator %s", key)
		}
		seen[key] = true
	}
	return nil
}

func diffSettings(old, cur []Settings) (added, removed int) {
	oldSet := make(map[string]bool, len(old))
	for _, s := range old {
		oldSet[settingsKey(s)] = true
	}
	curSet := make(map[string]bool, len(cur))
	for _, s := range cur {
		k := settingsKey(s)
		curSet[k] = true
		if !oldSet[k] {
			added++
		}
	}
	for k := range oldSet {
		if !curSet[k] {
			removed++
		}
	}
	return added, removed
}

// settingsKey identifies settings after defaults are applied, so EMA{} and
// EMA{Period: 20} are the same indicator.
func settingsKey(s Settings) string {
	return fmt.Sprintf("%s%+v", s.Kind(), s.withDefaults())
}
