// Package terminology provides a dictionary of known ASR misrecognitions
// and applies literal substring corrections to caption text. Semantic
// rewriting is out of scope here; this only fixes cheap, known-bad forms.
package terminology

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Category classifies a dictionary entry.
type Category string

const (
	CategoryCouncilor Category = "councilor"
	CategoryTerm      Category = "term"
	CategoryGeneral   Category = "general"
)

// Entry maps one misrecognized form to its correct form.
type Entry struct {
	Wrong    string   `json:"wrong" yaml:"wrong"`
	Correct  string   `json:"correct" yaml:"correct"`
	Category Category `json:"category,omitempty" yaml:"category,omitempty"`
}

// Dictionary applies entries by successive literal replacement in
// declaration order. Correct is idempotent for text that already
// contains only correct forms.
type Dictionary struct {
	entries []Entry
	index   map[string]int
}

// New builds a dictionary from the given entries. A later entry with the
// same wrong form replaces the earlier one in place, preserving order.
func New(entries []Entry) *Dictionary {
	d := &Dictionary{index: make(map[string]int)}
	for _, e := range entries {
		d.Add(e)
	}
	return d
}

// Default returns a dictionary seeded with common assembly-domain
// misrecognitions.
func Default() *Dictionary {
	return New(defaultEntries)
}

var defaultEntries = []Entry{
	{Wrong: "경기 도의회", Correct: "경기도의회", Category: CategoryTerm},
	{Wrong: "도 의회", Correct: "도의회", Category: CategoryTerm},
	{Wrong: "본 회의", Correct: "본회의", Category: CategoryTerm},
	{Wrong: "상임 위원회", Correct: "상임위원회", Category: CategoryTerm},
	{Wrong: "예산 결산", Correct: "예산결산", Category: CategoryTerm},
	{Wrong: "조례 안", Correct: "조례안", Category: CategoryTerm},
	{Wrong: "추경 예산", Correct: "추경예산", Category: CategoryTerm},
	{Wrong: "행정 사무 감사", Correct: "행정사무감사", Category: CategoryTerm},
	{Wrong: "5분 자유 발언", Correct: "5분 자유발언", Category: CategoryTerm},
	{Wrong: "의사 일정", Correct: "의사일정", Category: CategoryTerm},
	{Wrong: "수정 동의", Correct: "수정동의", Category: CategoryTerm},
	{Wrong: "위원 님", Correct: "위원님", Category: CategoryGeneral},
	{Wrong: "의원 님", Correct: "의원님", Category: CategoryGeneral},
	{Wrong: "위원장 님", Correct: "위원장님", Category: CategoryGeneral},
	{Wrong: "지사 님", Correct: "지사님", Category: CategoryGeneral},
	{Wrong: "국장 님", Correct: "국장님", Category: CategoryGeneral},
}

// Correct applies every entry to text in order. Input is NFC-normalized
// first so that decomposed Hangul from upstream still matches.
func (d *Dictionary) Correct(text string) string {
	if text == "" {
		return text
	}
	result := norm.NFC.String(text)
	for _, e := range d.entries {
		result = strings.ReplaceAll(result, e.Wrong, e.Correct)
	}
	return result
}

// Add inserts an entry, replacing any existing entry with the same wrong
// form while keeping its original position.
func (d *Dictionary) Add(e Entry) {
	e.Wrong = norm.NFC.String(e.Wrong)
	e.Correct = norm.NFC.String(e.Correct)
	if e.Wrong == "" || e.Wrong == e.Correct {
		return
	}
	if i, ok := d.index[e.Wrong]; ok {
		d.entries[i] = e
		return
	}
	d.index[e.Wrong] = len(d.entries)
	d.entries = append(d.entries, e)
}

// Remove deletes the entry for the given wrong form. Reports whether an
// entry was removed.
func (d *Dictionary) Remove(wrong string) bool {
	wrong = norm.NFC.String(wrong)
	i, ok := d.index[wrong]
	if !ok {
		return false
	}
	d.entries = append(d.entries[:i], d.entries[i+1:]...)
	delete(d.index, wrong)
	for j := i; j < len(d.entries); j++ {
		d.index[d.entries[j].Wrong] = j
	}
	return true
}

// Entries returns all entries in application order.
func (d *Dictionary) Entries() []Entry {
	out := make([]Entry, len(d.entries))
	copy(out, d.entries)
	return out
}

// ByCategory returns entries belonging to the given category.
func (d *Dictionary) ByCategory(cat Category) []Entry {
	var out []Entry
	for _, e := range d.entries {
		if e.Category == cat {
			out = append(out, e)
		}
	}
	return out
}

// Len reports the number of entries.
func (d *Dictionary) Len() int {
	return len(d.entries)
}
