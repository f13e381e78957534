package foundation

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// LoadSeekerFromFile reads a seeker profile stored as JSON.
func LoadSeekerFromFile(path string) (*SeekerProfile, error) {
	var seeker SeekerProfile
	if err := readJSON(path, &seeker); err != nil {
		return nil, err
	}

	if strings.TrimSpace(seeker.ID) == "" {
		return nil, fmt.Errorf("seeker profile in %s has no id", path)
	}

	return &seeker, nil
}

// LoadCandidatesFromFile reads a JSON array of candidate foundations.
func LoadCandidatesFromFile(path string) ([]*CandidateFoundation, error) {
	var candidates []*CandidateFoundation
	if err := readJSON(path, &candidates); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(candidates))
	for i, c := range candidates {
		if c == nil {
			return nil, fmt.Errorf("candidate #%d in %s is null", i, path)
		}
		ein := strings.TrimSpace(c.EIN)
		if ein == "" {
			return nil, fmt.Errorf("candidate #%d in %s has no ein", i, path)
		}
		if _, ok := seen[ein]; ok {
			return nil, fmt.Errorf("duplicate candidate ein %s in %s", ein, path)
		}
		seen[ein] = struct{}{}
	}

	return candidates, nil
}

// DumpToFile writes v as indented JSON. An empty path creates a temporary file.
// It returns the name of the written file.
func DumpToFile(path string, v any) (string, error) {
	var (
		file *os.File
		err  error
	)

	if strings.TrimSpace(path) == "" {
		file, err = os.CreateTemp("", "grant_matcher_*.json")
	} else {
		file, err = os.Create(path)
	}
	if err != nil {
		return "", err
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", err
	}

	return file.Name(), nil
}

func readJSON(path string, v any) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return errors.New("file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	return nil
}
