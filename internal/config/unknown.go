package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys lists the valid keys of each config section.
var knownKeys = map[string][]string{
	"remote":  {"url", "connect_timeout", "request_timeout", "max_retries", "requests_per_second"},
	"sync":    {"workspace", "default_subject", "probe_interval", "realtime", "debounce"},
	"logging": {"log_level", "log_format", "log_file", "log_max_size_mb", "log_retention_days"},
	"hub":     {"listen", "signing_key", "token_lifetime", "users"},
}

// knownSections is the sorted section list for Levenshtein matching.
var knownSections = func() []string {
	sections := make([]string, 0, len(knownKeys))
	for s := range knownKeys {
		sections = append(sections, s)
	}

	sort.Strings(sections)

	return sections
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	reported := make(map[string]bool)

	for _, key := range md.Undecoded() {
		section := key[0]

		if _, ok := knownKeys[section]; !ok {
			// An unknown table shows up once per key inside it.
			if !reported[section] {
				reported[section] = true
				errs = append(errs, suggest("unknown config section", section, knownSections))
			}

			continue
		}

		if err := unknownKeyError(key); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func unknownKeyError(key toml.Key) error {
	section := key[0]
	keys := knownKeys[section]

	if len(key) < 2 {
		return nil
	}

	// [hub.users] entries are free-form usernames.
	if section == "hub" && key[1] == "users" {
		return nil
	}

	return suggest(fmt.Sprintf("unknown config key in [%s]", section), key[1], keys)
}

func suggest(prefix, name string, known []string) error {
	if match := closestMatch(name, known); match != "" {
		return fmt.Errorf("%s %q, did you mean %q?", prefix, name, match)
	}

	return fmt.Errorf("%s %q", prefix, name)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(strings.ToLower(unknown), k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
