// Package audit scores the overall health of a vault: password strength,
// two-factor coverage, password reuse and backup freshness.
package audit

import (
	"sort"
	"strings"
	"time"

	"github.com/TheMichaelB/keyvault/internal/models"
	"github.com/TheMichaelB/keyvault/internal/services/generator"
)

// StrongScore is the lowest strength score counted as strong.
const StrongScore = 3

// Score weights. They add up to 100.
const (
	weightStrong    = 40
	weightTOTP      = 30
	weightReuse     = 20
	weightBackup    = 10
	maxHealthScore  = 100
	recentBackupAge = 7
)

// Report summarizes the health of one vault.
type Report struct {
	Entries            int        `json:"entries"`
	Strong             int        `json:"strong"`
	Weak               []string   `json:"weak,omitempty"`
	TOTPEnabled        int        `json:"totp_enabled"`
	DuplicatePasswords int        `json:"duplicate_passwords"`
	Reused             [][]string `json:"reused,omitempty"`
	LastBackup         *time.Time `json:"last_backup,omitempty"`
	DaysSinceBackup    int        `json:"days_since_backup"`
	Score              int        `json:"score"`
}

// Analyze builds the report for entries. lastBackup is the time of the
// newest backup, or zero when there is none. Days since the backup are
// counted in whole days before now.
func Analyze(entries []models.Entry, lastBackup, now time.Time) *Report {
	r := &Report{Entries: len(entries), DaysSinceBackup: -1}

	byPassword := make(map[string][]string)
	for _, e := range entries {
		if e.TOTPSecret != "" {
			r.TOTPEnabled++
		}
		if e.Password == "" {
			continue
		}
		if generator.Strength(e.Password, e.Title, e.Username).Score >= StrongScore {
			r.Strong++
		} else {
			r.Weak = append(r.Weak, e.Title)
		}
		byPassword[e.Password] = append(byPassword[e.Password], e.Title)
	}

	withPassword := 0
	for _, titles := range byPassword {
		withPassword += len(titles)
		if len(titles) > 1 {
			sort.Strings(titles)
			r.Reused = append(r.Reused, titles)
		}
	}
	r.DuplicatePasswords = withPassword - len(byPassword)
	sort.Slice(r.Reused, func(i, j int) bool {
		return strings.Join(r.Reused[i], "\x00") < strings.Join(r.Reused[j], "\x00")
	})
	sort.Strings(r.Weak)

	if !lastBackup.IsZero() {
		t := lastBackup
		r.LastBackup = &t
		days := int(now.Sub(lastBackup) / (24 * time.Hour))
		if days < 0 {
			days = 0
		}
		r.DaysSinceBackup = days
	}

	r.Score = r.score()
	return r
}

func (r *Report) score() int {
	var total float64
	if r.Entries > 0 {
		total = float64(r.Strong)/float64(r.Entries)*weightStrong +
			float64(r.TOTPEnabled)/float64(r.Entries)*weightTOTP
	}

	switch {
	case r.DuplicatePasswords == 0:
		total += weightReuse
	case r.DuplicatePasswords <= 2:
		total += weightReuse / 2
	}

	switch {
	case r.DaysSinceBackup == 0:
		total += weightBackup
	case r.DaysSinceBackup > 0 && r.DaysSinceBackup <= recentBackupAge:
		total += weightBackup / 2
	}

	score := int(total)
	if score > maxHealthScore {
		score = maxHealthScore
	}
	return score
}
