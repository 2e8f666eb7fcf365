package importer

import (
	"sort"
	"strconv"

	"github.com/classkit/roster/internal/roster"
)

// Candidate pairs a parsed student record with its source row number so
// conflict reports and commit failures can always point back to the file.
type Candidate struct {
	Row     int
	Student *roster.Student
}

// DuplicateGroup reports one colliding value and every row that carries it.
type DuplicateGroup struct {
	Value string `json:"value"`
	Rows  []int  `json:"rows"`
}

// RollReassignment records an auto-healed roll-number collision against the
// existing roster. These are warnings, not failures.
type RollReassignment struct {
	Row     int    `json:"row"`
	UID     string `json:"uid"`
	OldRoll string `json:"oldRoll"`
	NewRoll string `json:"newRoll"`
}

// Resolution is the outcome of the conflict and duplicate pass. Duplicate
// uids or roll numbers within the batch are hard failures the operator must
// fix in the source file; reassignments are informational.
type Resolution struct {
	DuplicateUIDs   []DuplicateGroup   `json:"duplicateUids,omitempty"`
	DuplicateRolls  []DuplicateGroup   `json:"duplicateRolls,omitempty"`
	ReassignedRolls []RollReassignment `json:"reassignedRolls,omitempty"`
}

// HasConflicts reports whether the batch carries a blocking conflict.
func (r Resolution) HasConflicts() bool {
	return len(r.DuplicateUIDs) > 0 || len(r.DuplicateRolls) > 0
}

// ResolveBatch enforces cross-record invariants on a strict-mode batch:
//
//   - duplicate uids within the batch are collected as hard failures
//   - duplicate roll numbers within the batch are collected as hard failures
//   - records without a roll number get the next unused sequential integer,
//     starting one past the highest numeric roll in the division
//   - a batch roll that collides with an existing student's roll is
//     reassigned to a fresh sequential number and reported as a warning
//
// uid collisions mean two different people share an identity key and must
// block; roll collisions are cosmetic and auto-healable.
func ResolveBatch(batch []Candidate, existing []roster.ExistingStudent) Resolution {
	var res Resolution

	res.DuplicateUIDs = collectDuplicates(batch, func(c Candidate) string { return c.Student.UID })
	res.DuplicateRolls = collectDuplicates(batch, func(c Candidate) string { return c.Student.RollNumber })

	used := make(map[int]bool)
	maxRoll := 0
	for _, s := range existing {
		if n, err := strconv.Atoi(s.RollNumber); err == nil {
			used[n] = true
			if n > maxRoll {
				maxRoll = n
			}
		}
	}

	existingRolls := make(map[string]bool, len(existing))
	for _, s := range existing {
		if s.RollNumber != "" {
			existingRolls[s.RollNumber] = true
		}
	}

	// Rolls already claimed by the batch stay claimed, so assignment never
	// introduces a fresh duplicate.
	for _, c := range batch {
		if n, err := strconv.Atoi(c.Student.RollNumber); err == nil {
			used[n] = true
		}
	}

	next := maxRoll + 1
	nextUnused := func() string {
		for used[next] {
			next++
		}
		used[next] = true
		return strconv.Itoa(next)
	}

	for _, c := range batch {
		switch {
		case c.Student.RollNumber == "":
			c.Student.RollNumber = nextUnused()

		case existingRolls[c.Student.RollNumber]:
			old := c.Student.RollNumber
			c.Student.RollNumber = nextUnused()
			res.ReassignedRolls = append(res.ReassignedRolls, RollReassignment{
				Row:     c.Row,
				UID:     c.Student.UID,
				OldRoll: old,
				NewRoll: c.Student.RollNumber,
			})
		}
	}

	return res
}

// collectDuplicates groups batch rows by a key and returns every key bound
// to more than one row. Empty keys are skipped.
func collectDuplicates(batch []Candidate, key func(Candidate) string) []DuplicateGroup {
	rowsByKey := make(map[string][]int)
	for _, c := range batch {
		k := key(c)
		if k == "" {
			continue
		}
		rowsByKey[k] = append(rowsByKey[k], c.Row)
	}

	var groups []DuplicateGroup
	for k, rows := range rowsByKey {
		if len(rows) > 1 {
			sort.Ints(rows)
			groups = append(groups, DuplicateGroup{Value: k, Rows: rows})
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Value < groups[j].Value })
	return groups
}
