package repository

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/iliyamo/member-onboarding/internal/model"
)

type seedMember struct {
	ID       string `yaml:"id"`
	FullName string `yaml:"full_name"`
	Email    string `yaml:"email"`
	Phone    string `yaml:"phone"`
}

type memberSeed struct {
	Members []seedMember `yaml:"members"`
}

// ParseMemberSeed decodes a YAML member list of the form
//
//	members:
//	  - id: M1
//	    full_name: Ada Lovelace
//	    email: ada@example.org
//
// Every entry needs an id and a full_name; ids must be unique.
func ParseMemberSeed(data []byte) ([]model.Member, error) {
	var seed memberSeed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse member seed: %w", err)
	}
	seen := make(map[string]bool, len(seed.Members))
	out := make([]model.Member, 0, len(seed.Members))
	for i, m := range seed.Members {
		id := strings.TrimSpace(m.ID)
		if id == "" || strings.TrimSpace(m.FullName) == "" {
			return nil, fmt.Errorf("member seed entry %d: id and full_name are required", i)
		}
		if seen[id] {
			return nil, fmt.Errorf("member seed entry %d: duplicate id %q", i, id)
		}
		seen[id] = true
		out = append(out, model.Member{ID: id, FullName: m.FullName, Email: m.Email, Phone: m.Phone})
	}
	return out, nil
}

// SeedMembersFromFile loads the YAML file at path into s and returns the
// number of members added.
func SeedMembersFromFile(s *MemoryStore, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read member seed: %w", err)
	}
	members, err := ParseMemberSeed(data)
	if err != nil {
		return 0, err
	}
	for _, m := range members {
		s.AddMember(m)
	}
	return len(members), nil
}
