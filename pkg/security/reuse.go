package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Credential pairs a server name with its plaintext password for
// analysis. Values live only for the duration of an audit.
type Credential struct {
	Server   string
	Password string
}

// ReuseGroup represents a group of servers sharing the same password.
type ReuseGroup struct {
	// Servers contains the server names sharing the password.
	Servers []string `json:"servers"`
	// Count is the number of servers in the group.
	Count int `json:"count"`
}

// WeakPassword flags a server whose stored password is weak.
type WeakPassword struct {
	Server   string   `json:"server"`
	Length   int      `json:"length"`
	Strength Strength `json:"-"`
}

// Analyzer performs password audits over decrypted credentials.
// The HMAC key is generated per session and never persisted, so the
// comparison hashes cannot be used for offline guessing.
type Analyzer struct {
	hmacKey []byte
}

// NewAnalyzer creates an analyzer with a fresh session key.
func NewAnalyzer() (*Analyzer, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return &Analyzer{hmacKey: key}, nil
}

// FindReuse groups servers by shared password.
// Returns groups sorted by count (most reused first), server names
// sorted within each group.
func (a *Analyzer) FindReuse(creds []Credential) []ReuseGroup {
	hashGroups := make(map[string][]string)
	for _, c := range creds {
		value := strings.TrimSpace(c.Password)
		if value == "" {
			continue
		}
		hash := a.hashValue(value)
		hashGroups[hash] = append(hashGroups[hash], c.Server)
	}

	var groups []ReuseGroup
	for _, servers := range hashGroups {
		if len(servers) <= 1 {
			continue
		}
		sort.Strings(servers)
		groups = append(groups, ReuseGroup{
			Servers: servers,
			Count:   len(servers),
		})
	}

	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Count != groups[j].Count {
			return groups[i].Count > groups[j].Count
		}
		return groups[i].Servers[0] < groups[j].Servers[0]
	})

	return groups
}

// FindWeak returns servers whose password is weak, sorted by server
// name.
func FindWeak(creds []Credential) []WeakPassword {
	var weak []WeakPassword
	for _, c := range creds {
		if c.Password == "" {
			continue
		}
		strength := CheckPassword(c.Password)
		if strength == StrengthWeak {
			weak = append(weak, WeakPassword{
				Server:   c.Server,
				Length:   len(c.Password),
				Strength: strength,
			})
		}
	}
	sort.Slice(weak, func(i, j int) bool {
		return weak[i].Server < weak[j].Server
	})
	return weak
}

// hashValue computes HMAC-SHA256 of a value with the session key.
func (a *Analyzer) hashValue(value string) string {
	h := hmac.New(sha256.New, a.hmacKey)
	h.Write([]byte(value))
	return hex.EncodeToString(h.Sum(nil))
}
